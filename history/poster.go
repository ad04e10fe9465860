package history

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/historian/common/stats"
	"github.com/twitter/historian/timeline"
)

// entityPoster is the single background worker owning all network I/O for
// one history service. It drains the posting queue in two phases: the
// steady-state retry loop, then a bounded drain once a stopQueue action
// arrives. The service back-reference is borrowed for the worker's lifetime;
// the service's Stop owns the join.
type entityPoster struct {
	service *HistoryService
	client  timeline.Client
	queue   *postingQueue
	stat    stats.StatsReceiver

	retry         *linearBackOff
	retryInterval time.Duration

	v15       bool
	attemptID string
	groupID   string

	lastAttemptFailed bool
}

// run owns the worker goroutine. The deferred teardown stops the timeline
// client and signals the service's done channel, waking any stopper.
func (p *entityPoster) run(ctx context.Context) {
	defer func() {
		p.client.Stop()
		close(p.service.workerDone)
	}()

	stop, err := p.postEntities(ctx)
	if err != nil {
		log.Debugf("Entity poster unwinding: %v", err)
		return
	}
	if err := p.postEntitiesShutdownPhase(ctx, stop); err != nil {
		log.Debugf("Entity poster drain ended early: %v", err)
	}
}

// postEntities is the steady-state phase: block on the queue, post each
// entity with linear-backoff retry, and hand back the stopQueue action that
// ends the phase.
func (p *entityPoster) postEntities(ctx context.Context) (stopQueue, error) {
	for {
		action, err := p.queue.take(ctx)
		if err != nil {
			return stopQueue{}, err
		}
		switch a := action.(type) {
		case stopQueue:
			return a, nil
		case postEntity:
			if err := p.postWithRetryAccounting(ctx, a); err != nil {
				return stopQueue{}, err
			}
		}
	}
}

// postWithRetryAccounting attempts one post. Transient failures push the
// entity back to the queue head and sleep the grown retry delay; only a
// cancellation propagates as an error.
func (p *entityPoster) postWithRetryAccounting(ctx context.Context, a postEntity) error {
	resp, err := p.postOnce(ctx, a.entity)
	if err != nil {
		if isCancellation(ctx, err) {
			return err
		}
		p.stat.Counter(stats.HistoryEntityPostFailureCounter).Inc(1)
		p.queue.push(a)
		delay := p.retry.NextBackOff()
		p.stat.Gauge(stats.HistoryRetryDelayGauge).Update(int64(delay / time.Millisecond))
		if !p.lastAttemptFailed {
			log.Warnf("Failed to post entity %s: %v; retrying in %v", a.entity.EntityID, err, delay)
		} else {
			log.Debugf("Entity %s still failing: %v; retrying in %v", a.entity.EntityID, err, delay)
		}
		p.lastAttemptFailed = true
		if delay > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
		}
		return nil
	}
	p.handleResponse(a, resp)
	return nil
}

// handleResponse settles a completed HTTP exchange: per-entity errors in the
// response are permanent rejections and are never resubmitted.
func (p *entityPoster) handleResponse(a postEntity, resp *timeline.PutResponse) {
	if resp.HasErrors() {
		p.stat.Counter(stats.HistoryEntityPostRejectionCounter).Inc(1)
		for _, putErr := range resp.Errors {
			log.Errorf("Timeline server rejected entity %s/%s: code %d",
				putErr.EntityType, putErr.EntityID, putErr.ErrorCode)
		}
		return
	}
	p.stat.Counter(stats.HistoryEntityPostSuccessCounter).Inc(1)
	p.stat.Counter(stats.HistoryEventsPostedCounter).Inc(int64(a.entity.EventCount()))
	p.stat.Gauge(stats.HistoryPostTimestampGauge).Update(nowMillis())
	p.lastAttemptFailed = false
	p.retry.Reset()
	p.stat.Gauge(stats.HistoryRetryDelayGauge).Update(int64(p.retry.currentDelay() / time.Millisecond))
	if f, ok := p.client.(timeline.Flushable); ok {
		if err := f.Flush(); err != nil {
			log.Warnf("Timeline client flush failed: %v", err)
		}
	}
}

// postEntitiesShutdownPhase drains remaining entities until the queue is
// empty or the stop action's deadline elapses. A failure with a zero retry
// interval aborts the drain; additional stopQueue actions are ignored.
func (p *entityPoster) postEntitiesShutdownPhase(ctx context.Context, stop stopQueue) error {
	deadline := stop.timeLimit()
	for {
		if p.queue.len() == 0 {
			return nil
		}
		if !stats.Time.Now().Before(deadline) {
			log.Warnf("Shutdown drain deadline elapsed with %d actions queued", p.queue.len())
			return nil
		}
		action, err := p.queue.poll(ctx, deadline)
		if err != nil {
			return err
		}
		if action == nil {
			return nil
		}
		switch a := action.(type) {
		case stopQueue:
			continue
		case postEntity:
			resp, err := p.postOnce(ctx, a.entity)
			if err != nil {
				if isCancellation(ctx, err) {
					return err
				}
				p.stat.Counter(stats.HistoryEntityPostFailureCounter).Inc(1)
				p.queue.push(a)
				if p.retryInterval == 0 {
					return errors.Wrap(err, "drain aborted")
				}
				if err := sleepCtx(ctx, p.retryInterval); err != nil {
					return err
				}
				continue
			}
			p.handleResponse(a, resp)
		}
	}
}

// postOnce performs a single put using the protocol variant in effect.
func (p *entityPoster) postOnce(ctx context.Context, e *timeline.Entity) (*timeline.PutResponse, error) {
	defer p.stat.Latency(stats.HistoryEntityPostLatency_ms).Time().Stop()
	if p.v15 {
		return p.client.PutGroupedEntities(ctx, p.attemptID, p.groupID, e)
	}
	return p.client.PutEntities(ctx, e)
}

// isCancellation distinguishes the worker's single cancellation signal from
// network errors. Only a direct context.Canceled cause counts; a cancellation
// buried deeper in a chain does not unwind.
func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if err == context.Canceled {
		return true
	}
	type causer interface {
		Cause() error
	}
	if c, ok := err.(causer); ok {
		return c.Cause() == context.Canceled
	}
	return false
}

// sleepCtx sleeps for d unless ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nowMillis() int64 {
	return stats.Time.Now().UnixNano() / int64(time.Millisecond)
}
