package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/twitter/historian/common/stats"
	"github.com/twitter/historian/timeline"
)

func makePoster(client timeline.Client, stat stats.StatsReceiver, retryInterval time.Duration) (*entityPoster, *postingQueue, *HistoryService) {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	s := NewHistoryService(stat)
	q := newPostingQueue(nil)
	s.queue = q
	p := &entityPoster{
		service:       s,
		client:        client,
		queue:         q,
		stat:          stat,
		retry:         newLinearBackOff(retryInterval, 10*retryInterval+time.Millisecond),
		retryInterval: retryInterval,
	}
	return p, q, s
}

// A rejected batch is never resubmitted; the mock's single expectation
// enforces exactly one attempt.
func TestPosterRejectionViaMock(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	client := timeline.NewMockClient(ctrl)

	rejection := &timeline.PutResponse{Errors: []timeline.PutError{
		{EntityID: "e", EntityType: EntityTypeSummary, ErrorCode: 6},
	}}
	client.EXPECT().PutEntities(gomock.Any(), gomock.Any()).Return(rejection, nil)
	client.EXPECT().Stop()

	stat := stats.DefaultStatsReceiver()
	p, q, s := makePoster(client, stat, time.Millisecond)
	q.put(postEntity{entityWithEvents(2)})
	q.put(stopQueue{enqueuedAt: time.Now(), wait: 0})

	p.run(context.Background())
	<-s.workerDone

	if got := stat.Counter(stats.HistoryEntityPostRejectionCounter).Count(); got != 1 {
		t.Fatalf("expected 1 rejection, got %d", got)
	}
	if got := stat.Counter(stats.HistoryEntityPostFailureCounter).Count(); got != 0 {
		t.Fatalf("rejections must not count as failures, got %d", got)
	}
}

func TestPosterStopsOnStopAction(t *testing.T) {
	client := &fakeTimelineClient{}
	p, q, _ := makePoster(client, nil, time.Millisecond)

	q.put(postEntity{entityWithEvents(1)})
	enqueued := time.Now()
	q.put(stopQueue{enqueuedAt: enqueued, wait: 30 * time.Second})

	stop, err := p.postEntities(context.Background())
	if err != nil {
		t.Fatalf("steady phase errored: %v", err)
	}
	if !stop.enqueuedAt.Equal(enqueued) {
		t.Fatalf("unexpected stop action: %+v", stop)
	}
	if client.postedEventCount() != 1 {
		t.Fatal("queued entity should post before the stop action is honored")
	}
}

func TestShutdownDrainPostsRemaining(t *testing.T) {
	client := &fakeTimelineClient{failures: 1}
	p, q, _ := makePoster(client, nil, time.Millisecond)

	q.put(postEntity{entityWithEvents(2)})
	q.put(postEntity{entityWithEvents(1)})
	stop := stopQueue{enqueuedAt: time.Now(), wait: 5 * time.Second}

	if err := p.postEntitiesShutdownPhase(context.Background(), stop); err != nil {
		t.Fatalf("drain errored: %v", err)
	}
	if q.len() != 0 {
		t.Fatalf("queue should drain fully, %d left", q.len())
	}
	if client.postedEventCount() != 3 {
		t.Fatalf("expected 3 events drained, got %d", client.postedEventCount())
	}
	// One transient failure, then the head-pushed entity went through.
	if client.putCallCount() != 3 {
		t.Fatalf("expected 3 put attempts, got %d", client.putCallCount())
	}
}

// A zero retry interval makes the first drain failure fatal.
func TestShutdownDrainAbortsOnZeroRetryInterval(t *testing.T) {
	client := &fakeTimelineClient{failures: 100}
	p, q, _ := makePoster(client, nil, 0)

	q.put(postEntity{entityWithEvents(1)})
	stop := stopQueue{enqueuedAt: time.Now(), wait: 5 * time.Second}

	if err := p.postEntitiesShutdownPhase(context.Background(), stop); err == nil {
		t.Fatal("expected the drain to abort")
	}
	if q.len() != 1 {
		t.Fatalf("failed entity should be back at the head, queue len %d", q.len())
	}
	if client.putCallCount() != 1 {
		t.Fatalf("expected a single attempt, got %d", client.putCallCount())
	}
}

func TestShutdownDrainIgnoresExtraStopActions(t *testing.T) {
	client := &fakeTimelineClient{}
	p, q, _ := makePoster(client, nil, time.Millisecond)

	q.put(stopQueue{enqueuedAt: time.Now(), wait: time.Second})
	q.put(postEntity{entityWithEvents(1)})
	stop := stopQueue{enqueuedAt: time.Now(), wait: 5 * time.Second}

	if err := p.postEntitiesShutdownPhase(context.Background(), stop); err != nil {
		t.Fatalf("drain errored: %v", err)
	}
	if client.postedEventCount() != 1 {
		t.Fatal("entity behind a redundant stop action should still drain")
	}
}

func TestShutdownDrainDeadline(t *testing.T) {
	client := &fakeTimelineClient{failures: 1000}
	p, q, _ := makePoster(client, nil, time.Millisecond)

	q.put(postEntity{entityWithEvents(1)})
	stop := stopQueue{enqueuedAt: time.Now(), wait: 20 * time.Millisecond}

	start := time.Now()
	if err := p.postEntitiesShutdownPhase(context.Background(), stop); err != nil {
		t.Fatalf("deadline exit should be clean: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("drain overshot its deadline by far: %v", elapsed)
	}
	if q.len() != 1 {
		t.Fatal("undrained entity remains queued at deadline")
	}
}

func TestSteadyStateCancellationUnwinds(t *testing.T) {
	client := &fakeTimelineClient{blocking: true}
	p, q, s := makePoster(client, nil, time.Millisecond)
	q.put(postEntity{entityWithEvents(1)})

	ctx, cancel := context.WithCancel(context.Background())
	go p.run(ctx)
	waitUntil(t, 5*time.Second, func() bool { return client.putCallCount() == 1 }, "worker to block")
	cancel()

	select {
	case <-s.workerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not unwind on cancellation")
	}
	if client.stopCallCount() != 1 {
		t.Fatal("teardown should stop the client")
	}
}

func TestIsCancellation(t *testing.T) {
	ctx := context.Background()
	if isCancellation(ctx, errors.New("connection refused")) {
		t.Fatal("a network error is not a cancellation")
	}
	if !isCancellation(ctx, context.Canceled) {
		t.Fatal("a direct cancellation must unwind")
	}
	if !isCancellation(ctx, wrapCause{context.Canceled}) {
		t.Fatal("a cancellation as a direct cause must unwind")
	}
	if isCancellation(ctx, wrapCause{wrapCause{context.Canceled}}) {
		t.Fatal("only a direct cause unwinds")
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if !isCancellation(canceled, errors.New("any")) {
		t.Fatal("a canceled worker context always unwinds")
	}
}

type wrapCause struct{ cause error }

func (w wrapCause) Error() string { return "wrapped: " + w.cause.Error() }
func (w wrapCause) Cause() error  { return w.cause }
