package history

import (
	"sync"

	"github.com/twitter/historian/timeline"
)

// pendingBuffer collects converted events awaiting aggregation into an
// entity. An event is never observable in both the buffer and a drained
// entity: drainInto moves the whole slice under the lock and resets the
// buffer before the entity is handed on.
type pendingBuffer struct {
	mu     sync.Mutex
	events []timeline.Event
}

// add appends ev and returns the new buffer size.
func (b *pendingBuffer) add(ev timeline.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return len(b.events)
}

// size returns the current event count.
func (b *pendingBuffer) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// drainInto moves all buffered events into entity and resets the buffer.
// Returns the number of events moved.
func (b *pendingBuffer) drainInto(entity *timeline.Entity) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	moved := len(b.events)
	for _, ev := range b.events {
		entity.AddEvent(ev)
	}
	b.events = nil
	return moved
}
