// Package history implements the event forwarding service that bridges the
// host application's event bus to a remote timeline server. Events handed to
// Process are aggregated into batched timeline entities and posted
// asynchronously by a background worker with retry and a bounded shutdown
// drain.
package history

import (
	"github.com/twitter/historian/timeline"
)

// Event type tags. These strings index entities on the timeline server and
// are read back by reader-side consumers, so they are a stable wire contract.
const (
	TagApplicationStart      = "SparkListenerApplicationStart"
	TagApplicationEnd        = "SparkListenerApplicationEnd"
	TagJobStart              = "SparkListenerJobStart"
	TagBlockUpdated          = "SparkListenerBlockUpdated"
	TagExecutorMetricsUpdate = "SparkListenerExecutorMetricsUpdate"
)

// JobGroupProperty is the job property carrying the submitting group's id.
const JobGroupProperty = "spark.jobGroup.id"

// Event is one occurrence on the host event bus.
type Event interface {
	// Tag returns the stable type string of this event.
	Tag() string
}

// ApplicationStart announces the application attempt to the bus. Time may be
// zero when the host did not record one.
type ApplicationStart struct {
	AppID     string
	AttemptID string
	AppName   string
	User      string
	Time      int64
}

func (e *ApplicationStart) Tag() string { return TagApplicationStart }

// ApplicationEnd is the application's terminal event.
type ApplicationEnd struct {
	Time int64
}

func (e *ApplicationEnd) Tag() string { return TagApplicationEnd }

// JobStart announces a job submission, carrying the submitting properties.
type JobStart struct {
	JobID      int
	Time       int64
	Properties map[string]string
}

func (e *JobStart) Tag() string { return TagJobStart }

// GroupID returns the job group property, or "" when unset.
func (e *JobStart) GroupID() string { return e.Properties[JobGroupProperty] }

// BlockUpdated is high-rate block bookkeeping; dropped by policy.
type BlockUpdated struct {
	BlockID string
	Time    int64
}

func (e *BlockUpdated) Tag() string { return TagBlockUpdated }

// ExecutorMetricsUpdate is high-rate metric chatter; dropped by policy.
type ExecutorMetricsUpdate struct {
	ExecutorID string
	Time       int64
}

func (e *ExecutorMetricsUpdate) Tag() string { return TagExecutorMetricsUpdate }

// GenericEvent carries any other bus event as an opaque payload.
type GenericEvent struct {
	EventTag string
	Time     int64
	Payload  map[string]interface{}
}

func (e *GenericEvent) Tag() string { return e.EventTag }

// ToTimelineEvent converts a bus event to its timeline form at the given
// timestamp. Returns nil for event types that are filtered before enqueue.
func ToTimelineEvent(ev Event, timestamp int64) *timeline.Event {
	switch e := ev.(type) {
	case *BlockUpdated, *ExecutorMetricsUpdate:
		return nil
	case *ApplicationStart:
		return &timeline.Event{
			Type:      TagApplicationStart,
			Timestamp: timestamp,
			Info: map[string]interface{}{
				"appId":     e.AppID,
				"attemptId": e.AttemptID,
				"appName":   e.AppName,
				"sparkUser": e.User,
				"time":      e.Time,
			},
		}
	case *ApplicationEnd:
		return &timeline.Event{
			Type:      TagApplicationEnd,
			Timestamp: timestamp,
			Info:      map[string]interface{}{"time": e.Time},
		}
	case *JobStart:
		props := map[string]interface{}{}
		for k, v := range e.Properties {
			props[k] = v
		}
		return &timeline.Event{
			Type:      TagJobStart,
			Timestamp: timestamp,
			Info: map[string]interface{}{
				"jobId":      e.JobID,
				"time":       e.Time,
				"properties": props,
			},
		}
	case *GenericEvent:
		return &timeline.Event{
			Type:      e.EventTag,
			Timestamp: timestamp,
			Info:      e.Payload,
		}
	default:
		return &timeline.Event{Type: ev.Tag(), Timestamp: timestamp}
	}
}
