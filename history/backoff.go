package history

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
)

// linearBackOff grows the delay by a fixed interval per failure up to a cap,
// unlike the exponential policies shipped with the backoff package. Reset
// puts the delay back at the base interval after a successful post.
type linearBackOff struct {
	interval time.Duration
	max      time.Duration
	current  int64 // nanos, read by gauges off the worker thread
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func newLinearBackOff(interval, max time.Duration) *linearBackOff {
	b := &linearBackOff{interval: interval, max: max}
	b.Reset()
	return b
}

func (b *linearBackOff) Reset() {
	atomic.StoreInt64(&b.current, int64(b.interval))
}

// NextBackOff grows the delay linearly and returns the new value. A zero
// base interval never grows and disables sleeping at the callsite.
func (b *linearBackOff) NextBackOff() time.Duration {
	next := time.Duration(atomic.LoadInt64(&b.current)) + b.interval
	if next > b.max {
		next = b.max
	}
	atomic.StoreInt64(&b.current, int64(next))
	return next
}

// currentDelay is the delay the next failure would wait at least.
func (b *linearBackOff) currentDelay() time.Duration {
	return time.Duration(atomic.LoadInt64(&b.current))
}
