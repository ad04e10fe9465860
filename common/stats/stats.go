// Package stats provides a set of minimal interfaces which both build on and
// are by default backed by go-metrics. We wrap go-metrics so that instrument
// creation can be overridden and so that we don't leak our dependencies to
// anyone pulling in historian as a library.
//
// The pieces we provide:
// - A StatsReceiver object that can be passed down a call tree and scoped to each level.
// - Overridable instrument creation.
// - A latched update mechanism which takes snapshots at regular intervals.
// - A Latency instrument to record callsite latency.
//
// Original license: github.com/rcrowley/go-metrics/blob/master/LICENSE
package stats

import (
	"encoding/json"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/rcrowley/go-metrics"
)

// For testing.
var Time StatsTime = DefaultStatsTime()

// Stats users can either reference this global receiver or construct their own.
var CurrentStatsReceiver StatsReceiver = NilStatsReceiver()

// Overridable instrument creation.
var NewCounter func() Counter = newMetricCounter
var NewGauge func() Gauge = newMetricGauge
var NewLatency func() Latency = newMetricLatency

// StatsRegistry is the go-metrics registry surface we rely on.
type StatsRegistry interface {
	// Gets an existing metric or registers the given one.
	GetOrRegister(string, interface{}) interface{}

	// Unregister the metric with the given name.
	Unregister(string)

	// Call the given function for each registered metric.
	Each(func(string, interface{}))
}

// StatsReceiver is a registry wrapper for metrics collected about the runtime
// behavior of an application.
//
// Hierarchical names are stored using a '/' path separator. Variadic name
// elements will have '/' characters in their names replaced by "_SLASH_"
// before they are used internally, since counters are sometimes dynamically
// generated (i.e. with error names) and it is better to strip path elements
// than to panic.
type StatsReceiver interface {
	// Return a stats receiver that will automatically namespace elements with
	// the given scope args.
	//
	//   statsReceiver.Scope("foo", "bar").Counter("baz")  // is equivalent to
	//   statsReceiver.Counter("foo", "bar", "baz")
	Scope(scope ...string) StatsReceiver

	// Provides an event counter.
	Counter(name ...string) Counter

	// Provides a gauge holding an int64 value that can be set arbitrarily.
	Gauge(name ...string) Gauge

	// Provides a histogram of sampled latencies.
	Latency(name ...string) Latency

	// Removes the given named stats item if it exists.
	Remove(name ...string)

	// Construct a JSON string by marshaling the registry.
	Render(pretty bool) []byte
}

// DefaultStatsReceiver uses the go-metrics registry and renders on demand.
func DefaultStatsReceiver() StatsReceiver {
	stat, _ := NewCustomStatsReceiver(nil, 0)
	return stat
}

// NewLatchedStatsReceiver starts a goroutine that periodically captures all
// instruments so Render returns a stable snapshot until the next interval.
// Setting latched <=0 disables latching so rendering is on demand.
func NewLatchedStatsReceiver(latched time.Duration) (stat StatsReceiver, cancelFn func()) {
	return NewCustomStatsReceiver(nil, latched)
}

// NewCustomStatsReceiver is DefaultStatsReceiver with the registry factory and
// latch interval made explicit.
func NewCustomStatsReceiver(makeRegistry func() StatsRegistry, latched time.Duration) (stat StatsReceiver, cancelFn func()) {
	if makeRegistry == nil {
		makeRegistry = func() StatsRegistry { return metrics.NewRegistry() }
	}
	defaultStat := &defaultStatsReceiver{
		makeRegistry: makeRegistry,
		registry:     makeRegistry(),
	}
	cancel := func() {}
	if latched > 0 {
		var ctx context.Context
		defaultStat.latchCh = make(chan chan StatsRegistry)
		ctx, cancel = context.WithCancel(context.Background())
		captured := capture(defaultStat.registry, makeRegistry())
		go latch(defaultStat, defaultStat.latchCh, Time.NewTicker(latched), ctx, captured)
	}
	return defaultStat, cancel
}

// Called as a goroutine by the stats constructor with the snapshot taken at
// construction. Loops until ctx is canceled, capturing a registry snapshot on
// every tick.
func latch(stat *defaultStatsReceiver, latchCh chan chan StatsRegistry, ticker StatsTicker, ctx context.Context, captured StatsRegistry) {
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return
		case <-ticker.C():
			captured = capture(stat.registry, stat.makeRegistry())
		case req := <-latchCh:
			req <- captured
		}
	}
}

// Writes a registry copy to 'captured' and returns that copy.
func capture(src StatsRegistry, captured StatsRegistry) StatsRegistry {
	src.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case Counter:
			captured.GetOrRegister(name, m.Capture())
		case Gauge:
			captured.GetOrRegister(name, m.Capture())
		case Latency:
			captured.GetOrRegister(name, m.Capture())
		default:
			log.Info("Unrecognized capture instrument: ", name, i)
		}
	})
	return captured
}

type defaultStatsReceiver struct {
	makeRegistry func() StatsRegistry
	registry     StatsRegistry
	latchCh      chan chan StatsRegistry
	scope        []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{s.makeRegistry, s.registry, s.latchCh, s.scoped(scope...)}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	return s.registry.GetOrRegister(s.scopedName(name...), NewCounter).(Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	return s.registry.GetOrRegister(s.scopedName(name...), NewGauge).(Gauge)
}

func (s *defaultStatsReceiver) Latency(name ...string) Latency {
	return s.registry.GetOrRegister(s.scopedName(name...), NewLatency()).(Latency)
}

func (s *defaultStatsReceiver) Remove(name ...string) {
	s.registry.Unregister(s.scopedName(name...))
}

func (s *defaultStatsReceiver) Render(pretty bool) []byte {
	reg := s.registry
	if s.latchCh != nil {
		resultCh := make(chan StatsRegistry)
		s.latchCh <- resultCh
		reg = <-resultCh
	}
	rendered := map[string]interface{}{}
	reg.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case Counter:
			rendered[name] = m.Count()
		case Gauge:
			rendered[name] = m.Value()
		case Latency:
			rendered[name] = m.Mean()
		}
	})
	var b []byte
	var err error
	if pretty {
		b, err = json.MarshalIndent(rendered, "", "  ")
	} else {
		b, err = json.Marshal(rendered)
	}
	if err != nil {
		panic("StatsRegistry bug, cannot be marshaled")
	}
	return b
}

// Append to existing scope and scrub slashes.
func (s *defaultStatsReceiver) scoped(scope ...string) []string {
	for i, sc := range scope {
		scope[i] = strings.Replace(sc, "/", "_SLASH_", -1)
	}
	return append(s.scope[:], scope...)
}

// Append to the existing scope and convert to slash-delimited string.
func (s *defaultStatsReceiver) scopedName(scope ...string) string {
	return strings.Join(s.scoped(scope...), "/")
}

// NilStatsReceiver ignores all stats operations.
func NilStatsReceiver(scope ...string) StatsReceiver {
	return &nilStatsReceiver{}
}

type nilStatsReceiver struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver { return s }
func (s *nilStatsReceiver) Counter(name ...string) Counter {
	return &metricCounter{&metrics.NilCounter{}}
}
func (s *nilStatsReceiver) Gauge(name ...string) Gauge {
	return &metricGauge{&metrics.NilGauge{}}
}
func (s *nilStatsReceiver) Latency(name ...string) Latency {
	return &metricLatency{Histogram: &metrics.NilHistogram{}}
}
func (s *nilStatsReceiver) Remove(name ...string)     {}
func (s *nilStatsReceiver) Render(pretty bool) []byte { return []byte{} }

//
// Minimally mirror go-metrics instruments.
//

// Counter is an event counter.
type Counter interface {
	Capture() Counter
	Clear()
	Count() int64
	Inc(int64)
}
type metricCounter struct{ metrics.Counter }

func (m *metricCounter) Capture() Counter { return &metricCounter{m.Snapshot()} }
func newMetricCounter() Counter           { return &metricCounter{metrics.NewCounter()} }

// Gauge holds an int64 value that can be set arbitrarily.
type Gauge interface {
	Capture() Gauge
	Update(int64)
	Value() int64
}
type metricGauge struct{ metrics.Gauge }

func (m *metricGauge) Capture() Gauge { return &metricGauge{m.Snapshot()} }
func newMetricGauge() Gauge           { return &metricGauge{metrics.NewGauge()} }

// Latency records callsite latency backed by a go-metrics histogram.
// Time() starts the clock and Stop() records the elapsed nanoseconds.
type Latency interface {
	Capture() Latency
	Time() Latency // returns self.
	Stop()
	Count() int64
	Mean() float64
}
type metricLatency struct {
	metrics.Histogram
	start time.Time
}

func (m *metricLatency) Capture() Latency { return &metricLatency{Histogram: m.Snapshot()} }
func (m *metricLatency) Time() Latency {
	m.start = Time.Now()
	return m
}
func (m *metricLatency) Stop() { m.Update(int64(Time.Since(m.start))) }

func newMetricLatency() Latency {
	return &metricLatency{Histogram: metrics.NewHistogram(metrics.NewUniformSample(1000))}
}
