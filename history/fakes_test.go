package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/twitter/historian/timeline"
)

// fakeTimelineClient records puts and can be told to fail the first N put
// calls, reject batches, or block until canceled.
type fakeTimelineClient struct {
	mu        sync.Mutex
	entities  []*timeline.Entity
	grouped   []groupedPut
	domains   []*timeline.Domain
	failures  int // fail this many put calls before succeeding
	rejectAll bool
	blocking  bool
	putCalls  int
	stopCalls int
	flushes   int
}

type groupedPut struct {
	attemptID string
	groupID   string
	entities  []*timeline.Entity
}

func (f *fakeTimelineClient) PutDomain(ctx context.Context, domain *timeline.Domain) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.domains = append(f.domains, domain)
	return nil
}

func (f *fakeTimelineClient) PutEntities(ctx context.Context, entities ...*timeline.Entity) (*timeline.PutResponse, error) {
	resp, err := f.notePut(ctx)
	if err != nil || resp.HasErrors() {
		return resp, err
	}
	f.mu.Lock()
	f.entities = append(f.entities, entities...)
	f.mu.Unlock()
	return resp, nil
}

func (f *fakeTimelineClient) PutGroupedEntities(ctx context.Context, attemptID string, groupID string, entities ...*timeline.Entity) (*timeline.PutResponse, error) {
	resp, err := f.notePut(ctx)
	if err != nil || resp.HasErrors() {
		return resp, err
	}
	f.mu.Lock()
	f.grouped = append(f.grouped, groupedPut{attemptID, groupID, entities})
	f.entities = append(f.entities, entities...)
	f.mu.Unlock()
	return resp, nil
}

func (f *fakeTimelineClient) notePut(ctx context.Context) (*timeline.PutResponse, error) {
	f.mu.Lock()
	f.putCalls++
	shouldFail := f.failures > 0
	if shouldFail {
		f.failures--
	}
	blocking := f.blocking
	reject := f.rejectAll
	f.mu.Unlock()

	if blocking {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if shouldFail {
		return nil, errors.New("connection refused")
	}
	if reject {
		return &timeline.PutResponse{Errors: []timeline.PutError{
			{EntityID: "e", EntityType: EntityTypeSummary, ErrorCode: 1},
		}}, nil
	}
	return &timeline.PutResponse{}, nil
}

func (f *fakeTimelineClient) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *fakeTimelineClient) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
}

func (f *fakeTimelineClient) postedEntities() []*timeline.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*timeline.Entity, len(f.entities))
	copy(out, f.entities)
	return out
}

func (f *fakeTimelineClient) postedEventCount() int {
	total := 0
	for _, e := range f.postedEntities() {
		total += e.EventCount()
	}
	return total
}

func (f *fakeTimelineClient) putCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putCalls
}

func (f *fakeTimelineClient) stopCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

// waitUntil polls cond until it holds or the timeout elapses.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
