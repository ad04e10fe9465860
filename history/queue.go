package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twitter/historian/common/stats"
	"github.com/twitter/historian/timeline"
)

// postAction is the tagged union flowing through the posting queue: either an
// entity to post or the stop marker that moves the worker into its drain.
type postAction interface {
	// size is the number of events this action contributes to the queue's
	// event-size accounting.
	size() int
}

type postEntity struct {
	entity *timeline.Entity
}

func (p postEntity) size() int { return p.entity.EventCount() }

type stopQueue struct {
	enqueuedAt time.Time
	wait       time.Duration
}

func (s stopQueue) size() int { return 0 }

// timeLimit is the wall-clock deadline for the shutdown drain.
func (s stopQueue) timeLimit() time.Time { return s.enqueuedAt.Add(s.wait) }

// postingQueue is a double-ended FIFO of post actions with an auxiliary
// atomic counter of enqueued events, mirrored into a gauge. It is written by
// producer threads and the worker's head-pushes, and consumed by exactly one
// worker; the single-slot wake channel relies on that single consumer.
type postingQueue struct {
	mu        sync.Mutex
	actions   []postAction
	eventSize int64
	gauge     stats.Gauge
	wake      chan struct{}
}

func newPostingQueue(gauge stats.Gauge) *postingQueue {
	if gauge == nil {
		gauge = stats.NilStatsReceiver().Gauge("unused")
	}
	return &postingQueue{gauge: gauge, wake: make(chan struct{}, 1)}
}

// put appends an action at the tail.
func (q *postingQueue) put(a postAction) {
	q.mu.Lock()
	q.actions = append(q.actions, a)
	q.mu.Unlock()
	q.addSize(int64(a.size()))
	q.signal()
}

// push prepends an action at the head, preserving its order relative to
// still-queued actions after a failed post.
func (q *postingQueue) push(a postAction) {
	q.mu.Lock()
	q.actions = append([]postAction{a}, q.actions...)
	q.mu.Unlock()
	q.addSize(int64(a.size()))
	q.signal()
}

// take blocks until an action is available or ctx is canceled.
func (q *postingQueue) take(ctx context.Context) (postAction, error) {
	for {
		if a, ok := q.pop(); ok {
			return a, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		}
	}
}

// poll returns the next action, waiting on an empty queue until the deadline;
// it returns (nil, nil) once the deadline has elapsed with the queue empty.
func (q *postingQueue) poll(ctx context.Context, deadline time.Time) (postAction, error) {
	for {
		if a, ok := q.pop(); ok {
			return a, nil
		}
		remaining := deadline.Sub(stats.Time.Now())
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.wake:
			timer.Stop()
		}
	}
}

func (q *postingQueue) pop() (postAction, bool) {
	q.mu.Lock()
	if len(q.actions) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	a := q.actions[0]
	q.actions = q.actions[1:]
	q.mu.Unlock()
	q.addSize(-int64(a.size()))
	return a, true
}

func (q *postingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

func (q *postingQueue) eventSizeValue() int64 {
	return atomic.LoadInt64(&q.eventSize)
}

func (q *postingQueue) addSize(delta int64) {
	q.gauge.Update(atomic.AddInt64(&q.eventSize, delta))
}

func (q *postingQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
