// Package provider holds the pure reconciliation functions used at query
// time to synthesize an application-history listing from multiple entity
// views of the same application, and to reconcile that listing with the
// resource manager's live application reports.
package provider

import (
	"sort"
)

// ApplicationAttemptInfo is one attempt's view reconstructed from a summary
// entity. AttemptID is "" when the resource manager assigned none.
type ApplicationAttemptInfo struct {
	AttemptID   string
	StartTime   int64
	EndTime     int64
	LastUpdated int64
	Completed   bool
	SparkUser   string
	Version     int64
}

// ApplicationHistoryInfo is the listing row for one application.
type ApplicationHistoryInfo struct {
	ID       string
	Name     string
	Attempts []ApplicationAttemptInfo
}

// Completed reports whether the application's most recent attempt finished.
func (a *ApplicationHistoryInfo) Completed() bool {
	return len(a.Attempts) > 0 && a.Attempts[0].Completed
}

// Report states considered terminal by the resource manager.
const (
	ReportStateFinished = "FINISHED"
	ReportStateFailed   = "FAILED"
	ReportStateKilled   = "KILLED"
)

// ApplicationReport is the live view of an application from the resource
// manager.
type ApplicationReport struct {
	State      string
	FinishTime int64
}

// Terminal reports whether the application is done according to the report.
func (r ApplicationReport) Terminal() bool {
	switch r.State {
	case ReportStateFinished, ReportStateFailed, ReportStateKilled:
		return true
	}
	return false
}

// MostRecentAttempt picks the fresher of two views of the same attempt:
// prefer the completed one, else the larger lastUpdated; ties go to b.
func MostRecentAttempt(a, b ApplicationAttemptInfo) ApplicationAttemptInfo {
	if a.Completed != b.Completed {
		if a.Completed {
			return a
		}
		return b
	}
	if a.LastUpdated > b.LastUpdated {
		return a
	}
	return b
}

// SortAttempts orders attempts newest-first by lastUpdated.
func SortAttempts(attempts []ApplicationAttemptInfo) []ApplicationAttemptInfo {
	out := make([]ApplicationAttemptInfo, len(attempts))
	copy(out, attempts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUpdated > out[j].LastUpdated
	})
	return out
}

// MergeAttemptInfoLists reconciles an older and a newer list of attempt
// views keyed by attempt id (the empty id is a valid key), keeping the most
// recent view per attempt, sorted newest-first.
func MergeAttemptInfoLists(old, latest []ApplicationAttemptInfo) []ApplicationAttemptInfo {
	byID := map[string]ApplicationAttemptInfo{}
	var order []string
	for _, a := range old {
		if _, ok := byID[a.AttemptID]; !ok {
			order = append(order, a.AttemptID)
		}
		byID[a.AttemptID] = a
	}
	for _, l := range latest {
		if existing, ok := byID[l.AttemptID]; ok {
			byID[l.AttemptID] = MostRecentAttempt(existing, l)
		} else {
			order = append(order, l.AttemptID)
			byID[l.AttemptID] = l
		}
	}
	merged := make([]ApplicationAttemptInfo, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	return SortAttempts(merged)
}

// mergeAttempts reconciles two views of the same application.
func mergeAttempts(original, latest ApplicationHistoryInfo) ApplicationHistoryInfo {
	merged := original
	if latest.Name != "" {
		merged.Name = latest.Name
	}
	merged.Attempts = MergeAttemptInfoLists(original.Attempts, latest.Attempts)
	return merged
}

// CombineResults map-merges two listings by application id. Collisions merge
// attempt lists; ordering follows the original listing with new applications
// appended in their incoming order.
func CombineResults(original, latest []ApplicationHistoryInfo) []ApplicationHistoryInfo {
	byID := map[string]ApplicationHistoryInfo{}
	var order []string
	for _, app := range original {
		if _, ok := byID[app.ID]; !ok {
			order = append(order, app.ID)
		}
		byID[app.ID] = app
	}
	for _, app := range latest {
		if existing, ok := byID[app.ID]; ok {
			byID[app.ID] = mergeAttempts(existing, app)
		} else {
			order = append(order, app.ID)
			byID[app.ID] = app
		}
	}
	out := make([]ApplicationHistoryInfo, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// CompleteAppsFromReports reconciles incomplete listings with the resource
// manager's live reports. A terminal report completes the app at the
// report's finish time; a live report leaves it running; a missing report
// completes the app at its lastUpdated only once it has been silent longer
// than livenessWindow millis.
func CompleteAppsFromReports(apps []ApplicationHistoryInfo, reportsByID map[string]ApplicationReport,
	now int64, livenessWindow int64) []ApplicationHistoryInfo {

	out := make([]ApplicationHistoryInfo, 0, len(apps))
	for _, app := range apps {
		if app.Completed() {
			out = append(out, app)
			continue
		}
		report, reported := reportsByID[app.ID]
		switch {
		case reported && report.Terminal():
			out = append(out, completeApp(app, report.FinishTime))
		case reported:
			out = append(out, app)
		default:
			updated := lastUpdated(app)
			if now-updated > livenessWindow {
				out = append(out, completeApp(app, updated))
			} else {
				out = append(out, app)
			}
		}
	}
	return out
}

// completeApp marks every incomplete attempt finished at endTime.
func completeApp(app ApplicationHistoryInfo, endTime int64) ApplicationHistoryInfo {
	attempts := make([]ApplicationAttemptInfo, len(app.Attempts))
	copy(attempts, app.Attempts)
	for i := range attempts {
		if !attempts[i].Completed {
			attempts[i].Completed = true
			attempts[i].EndTime = endTime
		}
	}
	app.Attempts = attempts
	return app
}

// lastUpdated is the newest attempt timestamp the listing carries.
func lastUpdated(app ApplicationHistoryInfo) int64 {
	var max int64
	for _, a := range app.Attempts {
		if a.LastUpdated > max {
			max = a.LastUpdated
		}
	}
	return max
}
