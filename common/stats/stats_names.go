package stats

/*
This file defines all the metrics being collected. As new metrics are added
please follow this pattern.
*/

const (
	/************************* History service metrics **************************/

	/*
		total count of events process() took in while accepting events, including
		those later dropped or discarded; events refused outright are not counted
	*/
	HistoryEventsQueuedCounter = "eventsQueued"

	/*
		count of non-lifecycle events discarded because the queued-event cap was hit
	*/
	HistoryEventsDroppedCounter = "eventsDropped"

	/*
		count of events that made it into an entity accepted by the timeline server
	*/
	HistoryEventsPostedCounter = "eventsSuccessfullyPosted"

	/*
		number of times the pending-event buffer was flushed into entities
	*/
	HistoryFlushCounter = "flushCount"

	/*
		number of entity post attempts that failed at the network level (retried)
	*/
	HistoryEntityPostFailureCounter = "entityPostFailures"

	/*
		number of entity posts rejected by the timeline server (never retried)
	*/
	HistoryEntityPostRejectionCounter = "entityPostRejections"

	/*
		number of entity posts accepted by the timeline server
	*/
	HistoryEntityPostSuccessCounter = "entityPostSuccesses"

	/*
		sum of event counts over the actions currently sitting in the posting queue
	*/
	HistoryPostQueueEventSizeGauge = "postQueueEventSize"

	/*
		wall-clock millis of the most recent successful entity post
	*/
	HistoryPostTimestampGauge = "postTimestamp"

	/*
		current worker retry delay in millis; grows linearly up to the cap
	*/
	HistoryRetryDelayGauge = "currentRetryDelayMs"

	/*
		latency of individual putEntities calls; despite the name, the Latency
		instrument records nanoseconds
	*/
	HistoryEntityPostLatency_ms = "entityPostLatency_ms"

	/************************* UI tracker metrics **************************/

	/*
		number of sessions currently open
	*/
	UIOnlineSessionGauge = "onlineSessionNum"

	/*
		number of statements currently executing
	*/
	UIRunningStatementGauge = "totalRunning"
)
