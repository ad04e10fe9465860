// Package ui maintains the live session/execution model backing the history
// UI: a parallel observer of the event bus tracking open sessions and
// running statements, with bounded retention of finished entries.
package ui

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/historian/common/stats"
)

// ExecutionState is the closed set of statement states.
type ExecutionState int

const (
	ExecStarted ExecutionState = iota
	ExecCompiled
	ExecFailed
	ExecFinished
)

func (s ExecutionState) String() string {
	switch s {
	case ExecStarted:
		return "Started"
	case ExecCompiled:
		return "Compiled"
	case ExecFailed:
		return "Failed"
	default:
		return "Finished"
	}
}

// terminal reports whether the state makes an execution eligible for trim.
func (s ExecutionState) terminal() bool {
	return s == ExecFailed || s == ExecFinished
}

// SessionInfo is one client session's view.
type SessionInfo struct {
	SessionID       string
	StartTimestamp  int64
	IP              string
	User            string
	FinishTimestamp int64
	TotalExecution  int
}

func (s *SessionInfo) finished() bool { return s.FinishTimestamp != 0 }

// ExecutionInfo is one statement execution's view.
type ExecutionInfo struct {
	ExecID          string
	Statement       string
	SessionID       string
	StartTimestamp  int64
	User            string
	FinishTimestamp int64
	ExecutePlan     string
	Detail          string
	State           ExecutionState
	JobIDs          []int
	GroupID         string
}

// Tracker holds the two insertion-ordered mappings under a single monitor.
// When a mapping exceeds its retention bound, up to max(limit/10, 1) of the
// oldest finished entries are removed in insertion order.
type Tracker struct {
	mu sync.Mutex

	stat               stats.StatsReceiver
	retainedSessions   int
	retainedStatements int

	sessions     map[string]*SessionInfo
	sessionOrder []string

	executions     map[string]*ExecutionInfo
	executionOrder []string

	onlineSessionNum int64
	totalRunning     int64

	// onApplicationEnd stops the serving side when the application ends.
	onApplicationEnd func()
}

// NewTracker builds a tracker with the given retention bounds. stopHook may
// be nil.
func NewTracker(stat stats.StatsReceiver, retainedSessions, retainedStatements int, stopHook func()) *Tracker {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Tracker{
		stat:               stat,
		retainedSessions:   retainedSessions,
		retainedStatements: retainedStatements,
		sessions:           map[string]*SessionInfo{},
		executions:         map[string]*ExecutionInfo{},
		onApplicationEnd:   stopHook,
	}
}

func (t *Tracker) OnSessionCreated(ip, sessionID, user string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sessionID] = &SessionInfo{
		SessionID:      sessionID,
		StartTimestamp: nowMillis(),
		IP:             ip,
		User:           user,
	}
	t.sessionOrder = append(t.sessionOrder, sessionID)
	t.onlineSessionNum++
	t.stat.Gauge(stats.UIOnlineSessionGauge).Update(t.onlineSessionNum)
	t.trimSessionsLocked()
}

func (t *Tracker) OnSessionClosed(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	session, ok := t.sessions[sessionID]
	if !ok {
		log.Warnf("Closing unknown session %s", sessionID)
		return
	}
	session.FinishTimestamp = nowMillis()
	if t.onlineSessionNum > 0 {
		t.onlineSessionNum--
	}
	t.stat.Gauge(stats.UIOnlineSessionGauge).Update(t.onlineSessionNum)
	t.trimSessionsLocked()
}

func (t *Tracker) OnStatementStart(execID, sessionID, statement, groupID, user string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executions[execID] = &ExecutionInfo{
		ExecID:         execID,
		Statement:      statement,
		SessionID:      sessionID,
		StartTimestamp: nowMillis(),
		User:           user,
		State:          ExecStarted,
		GroupID:        groupID,
	}
	t.executionOrder = append(t.executionOrder, execID)
	if session, ok := t.sessions[sessionID]; ok {
		session.TotalExecution++
	}
	t.totalRunning++
	t.stat.Gauge(stats.UIRunningStatementGauge).Update(t.totalRunning)
	t.trimExecutionsLocked()
}

func (t *Tracker) OnStatementParsed(execID, executePlan string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if exec, ok := t.executions[execID]; ok {
		exec.ExecutePlan = executePlan
		exec.State = ExecCompiled
	}
}

func (t *Tracker) OnStatementError(execID, message, trace string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	exec, ok := t.executions[execID]
	if !ok {
		return
	}
	exec.FinishTimestamp = nowMillis()
	exec.Detail = message + "\n" + trace
	exec.State = ExecFailed
	t.statementDoneLocked()
}

func (t *Tracker) OnStatementFinish(execID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	exec, ok := t.executions[execID]
	if !ok {
		return
	}
	exec.FinishTimestamp = nowMillis()
	exec.State = ExecFinished
	t.statementDoneLocked()
}

// OnJobStart appends the job to every execution submitted under its group.
func (t *Tracker) OnJobStart(groupID string, jobID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, execID := range t.executionOrder {
		exec := t.executions[execID]
		if exec != nil && exec.GroupID == groupID {
			exec.JobIDs = append(exec.JobIDs, jobID)
		}
	}
}

// OnApplicationEnd invokes the stop hook, once per call.
func (t *Tracker) OnApplicationEnd() {
	t.mu.Lock()
	hook := t.onApplicationEnd
	t.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (t *Tracker) statementDoneLocked() {
	if t.totalRunning > 0 {
		t.totalRunning--
	}
	t.stat.Gauge(stats.UIRunningStatementGauge).Update(t.totalRunning)
	t.trimExecutionsLocked()
}

// Session returns a copy of the named session's view.
func (t *Tracker) Session(sessionID string) (SessionInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionID]; ok {
		return *s, true
	}
	return SessionInfo{}, false
}

// Execution returns a copy of the named execution's view.
func (t *Tracker) Execution(execID string) (ExecutionInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.executions[execID]; ok {
		out := *e
		out.JobIDs = append([]int(nil), e.JobIDs...)
		return out, true
	}
	return ExecutionInfo{}, false
}

// SessionCount is the number of retained sessions, finished included.
func (t *Tracker) SessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessionOrder)
}

// ExecutionCount is the number of retained executions, finished included.
func (t *Tracker) ExecutionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.executionOrder)
}

func (t *Tracker) OnlineSessionCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onlineSessionNum
}

func (t *Tracker) RunningStatementCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalRunning
}

func (t *Tracker) trimSessionsLocked() {
	if len(t.sessionOrder) <= t.retainedSessions {
		return
	}
	quota := t.retainedSessions / 10
	if quota < 1 {
		quota = 1
	}
	var kept []string
	for _, id := range t.sessionOrder {
		if quota > 0 {
			if s := t.sessions[id]; s != nil && s.finished() {
				delete(t.sessions, id)
				quota--
				continue
			}
		}
		kept = append(kept, id)
	}
	t.sessionOrder = kept
}

func (t *Tracker) trimExecutionsLocked() {
	if len(t.executionOrder) <= t.retainedStatements {
		return
	}
	quota := t.retainedStatements / 10
	if quota < 1 {
		quota = 1
	}
	var kept []string
	for _, id := range t.executionOrder {
		if quota > 0 {
			if e := t.executions[id]; e != nil && e.State.terminal() {
				delete(t.executions, id)
				quota--
				continue
			}
		}
		kept = append(kept, id)
	}
	t.executionOrder = kept
}

func nowMillis() int64 {
	return stats.Time.Now().UnixNano() / int64(time.Millisecond)
}
