package history

import (
	"testing"
)

func TestToTimelineEventFiltersByPolicy(t *testing.T) {
	if ev := ToTimelineEvent(&BlockUpdated{BlockID: "b1", Time: 5}, 10); ev != nil {
		t.Fatalf("block updates should be filtered, got %+v", ev)
	}
	if ev := ToTimelineEvent(&ExecutorMetricsUpdate{ExecutorID: "x", Time: 5}, 10); ev != nil {
		t.Fatalf("executor metrics should be filtered, got %+v", ev)
	}
}

func TestToTimelineEventApplicationStart(t *testing.T) {
	ev := ToTimelineEvent(&ApplicationStart{
		AppID: "app_1", AttemptID: "attempt_1", AppName: "demo", User: "alice", Time: 1000,
	}, 2000)
	if ev == nil || ev.Type != TagApplicationStart {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Timestamp != 2000 {
		t.Fatalf("timestamp should come from the conversion time, got %d", ev.Timestamp)
	}
	if ev.Info["appName"] != "demo" || ev.Info["sparkUser"] != "alice" {
		t.Fatalf("payload missing metadata: %+v", ev.Info)
	}
}

func TestToTimelineEventJobStart(t *testing.T) {
	job := &JobStart{JobID: 7, Time: 50, Properties: map[string]string{JobGroupProperty: "g1"}}
	if job.GroupID() != "g1" {
		t.Fatalf("group id lookup failed: %q", job.GroupID())
	}
	ev := ToTimelineEvent(job, 60)
	if ev.Type != TagJobStart || ev.Info["jobId"] != 7 {
		t.Fatalf("unexpected job event: %+v", ev)
	}
	props := ev.Info["properties"].(map[string]interface{})
	if props[JobGroupProperty] != "g1" {
		t.Fatalf("properties not carried: %+v", props)
	}
}

func TestToTimelineEventGeneric(t *testing.T) {
	ev := ToTimelineEvent(&GenericEvent{
		EventTag: "SparkListenerStageCompleted",
		Time:     9,
		Payload:  map[string]interface{}{"stageId": 3},
	}, 11)
	if ev.Type != "SparkListenerStageCompleted" || ev.Info["stageId"] != 3 {
		t.Fatalf("generic event mangled: %+v", ev)
	}
}
