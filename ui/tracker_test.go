package ui

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/twitter/historian/common/stats"
)

func newTestTracker(retained int) *Tracker {
	return NewTracker(stats.DefaultStatsReceiver(), retained, retained, nil)
}

func TestSessionLifecycle(t *testing.T) {
	tr := newTestTracker(10)

	tr.OnSessionCreated("10.0.0.1", "session_1", "alice")
	if tr.OnlineSessionCount() != 1 {
		t.Fatalf("expected 1 online session, got %d", tr.OnlineSessionCount())
	}
	s, ok := tr.Session("session_1")
	if !ok || s.IP != "10.0.0.1" || s.User != "alice" {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.finished() {
		t.Fatal("fresh session should not be finished")
	}

	tr.OnSessionClosed("session_1")
	if tr.OnlineSessionCount() != 0 {
		t.Fatalf("expected 0 online sessions, got %d", tr.OnlineSessionCount())
	}
	s, _ = tr.Session("session_1")
	if !s.finished() {
		t.Fatal("closed session should carry a finish timestamp")
	}

	// Closing twice or closing an unknown session never goes negative.
	tr.OnSessionClosed("session_1")
	tr.OnSessionClosed("nope")
	if tr.OnlineSessionCount() < 0 {
		t.Fatal("online session count must stay non-negative")
	}
}

func TestStatementTransitions(t *testing.T) {
	tr := newTestTracker(10)
	tr.OnSessionCreated("ip", "session_1", "alice")

	tr.OnStatementStart("exec_1", "session_1", "select 1", "group_1", "alice")
	if tr.RunningStatementCount() != 1 {
		t.Fatalf("expected 1 running, got %d", tr.RunningStatementCount())
	}
	s, _ := tr.Session("session_1")
	if s.TotalExecution != 1 {
		t.Fatalf("session should count its executions, got %d", s.TotalExecution)
	}

	tr.OnStatementParsed("exec_1", "Project [1]")
	e, _ := tr.Execution("exec_1")
	if e.State != ExecCompiled || e.ExecutePlan != "Project [1]" {
		t.Fatalf("unexpected execution after parse: %+v", e)
	}

	tr.OnStatementFinish("exec_1")
	e, _ = tr.Execution("exec_1")
	if e.State != ExecFinished || e.FinishTimestamp == 0 {
		t.Fatalf("unexpected execution after finish: %+v", e)
	}
	if tr.RunningStatementCount() != 0 {
		t.Fatalf("expected 0 running, got %d", tr.RunningStatementCount())
	}
}

func TestStatementError(t *testing.T) {
	tr := newTestTracker(10)
	tr.OnStatementStart("exec_1", "session_1", "select nope", "g", "alice")
	tr.OnStatementError("exec_1", "analysis failure", "stack trace here")

	e, _ := tr.Execution("exec_1")
	if e.State != ExecFailed {
		t.Fatalf("expected Failed, got %v", e.State)
	}
	if e.Detail != "analysis failure\nstack trace here" {
		t.Fatalf("detail should carry message and trace: %q", e.Detail)
	}
	if tr.RunningStatementCount() != 0 {
		t.Fatal("failed statement is no longer running")
	}
}

func TestJobStartMatchesGroup(t *testing.T) {
	tr := newTestTracker(10)
	tr.OnStatementStart("exec_1", "s", "q1", "group_a", "alice")
	tr.OnStatementStart("exec_2", "s", "q2", "group_b", "alice")
	tr.OnStatementStart("exec_3", "s", "q3", "group_a", "alice")

	tr.OnJobStart("group_a", 7)
	tr.OnJobStart("group_a", 8)
	tr.OnJobStart("group_b", 9)

	e1, _ := tr.Execution("exec_1")
	e2, _ := tr.Execution("exec_2")
	e3, _ := tr.Execution("exec_3")
	if !reflect.DeepEqual(e1.JobIDs, []int{7, 8}) {
		t.Fatalf("exec_1 jobs: %v", e1.JobIDs)
	}
	if !reflect.DeepEqual(e2.JobIDs, []int{9}) {
		t.Fatalf("exec_2 jobs: %v", e2.JobIDs)
	}
	if !reflect.DeepEqual(e3.JobIDs, []int{7, 8}) {
		t.Fatalf("exec_3 jobs: %v", e3.JobIDs)
	}
}

func TestTrimSessionsRemovesOldestFinished(t *testing.T) {
	tr := newTestTracker(5)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("session_%d", i)
		tr.OnSessionCreated("ip", id, "alice")
		tr.OnSessionClosed(id)
	}
	if tr.SessionCount() != 5 {
		t.Fatalf("at the bound nothing trims, got %d", tr.SessionCount())
	}

	// One over the bound: one oldest finished entry goes.
	tr.OnSessionCreated("ip", "session_5", "alice")
	if tr.SessionCount() != 5 {
		t.Fatalf("expected one trim, got %d sessions", tr.SessionCount())
	}
	if _, ok := tr.Session("session_0"); ok {
		t.Fatal("the oldest finished session should have been trimmed")
	}
	if _, ok := tr.Session("session_5"); !ok {
		t.Fatal("the new session must be retained")
	}
}

func TestTrimSkipsUnfinished(t *testing.T) {
	tr := newTestTracker(2)
	tr.OnSessionCreated("ip", "open_1", "alice")
	tr.OnSessionCreated("ip", "open_2", "alice")
	tr.OnSessionCreated("ip", "open_3", "alice")

	// All open: nothing is eligible, the map grows past its bound.
	if tr.SessionCount() != 3 {
		t.Fatalf("open sessions must not be trimmed, got %d", tr.SessionCount())
	}

	tr.OnSessionClosed("open_1")
	tr.OnSessionCreated("ip", "open_4", "alice")
	if _, ok := tr.Session("open_1"); ok {
		t.Fatal("the finished session should be trimmed first")
	}
	if _, ok := tr.Session("open_2"); !ok {
		t.Fatal("open sessions must survive the trim")
	}
}

func TestTrimExecutions(t *testing.T) {
	tr := newTestTracker(3)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("exec_%d", i)
		tr.OnStatementStart(id, "s", "q", "g", "alice")
		tr.OnStatementFinish(id)
	}
	if tr.ExecutionCount() != 3 {
		t.Fatalf("expected trim to the bound, got %d", tr.ExecutionCount())
	}
	if _, ok := tr.Execution("exec_0"); ok {
		t.Fatal("the oldest finished execution should have been trimmed")
	}
}

func TestOnApplicationEndStopHook(t *testing.T) {
	stopped := 0
	tr := NewTracker(nil, 10, 10, func() { stopped++ })
	tr.OnApplicationEnd()
	if stopped != 1 {
		t.Fatalf("stop hook should fire, got %d", stopped)
	}
}
