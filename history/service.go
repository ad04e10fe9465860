package history

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/historian/common/stats"
	"github.com/twitter/historian/config"
	"github.com/twitter/historian/services"
	"github.com/twitter/historian/timeline"
)

// Service states. Transitions are monotonic and irreversible.
const (
	stateCreated int32 = iota
	stateStarted
	stateStopped
)

// Entity types and otherInfo/filter keys posted to the timeline server.
// These are the stable wire contract with reader-side consumers.
const (
	EntityTypeSummary = "spark_event_v01"
	EntityTypeDetail  = "spark_event_v01_detail"

	FilterAppStart = "startApp"
	FilterAppEnd   = "endApp"

	DomainIDPrefix = "Spark_ATS_"
)

// SparkVersion is stamped into every entity's otherInfo.
var SparkVersion = "2.1.0"

// HistoryService subscribes to lifecycle and runtime events from the host
// bus, aggregates them into timeline entities and posts them asynchronously.
// It is an extension service: created once, bound via Start, torn down via
// Stop with a bounded drain.
type HistoryService struct {
	state int32 // atomic, one of stateCreated/Started/Stopped

	stat stats.StatsReceiver
	conf *config.Config

	appID     string
	attemptID string
	appName   string
	appUser   string

	batchSize      int
	postQueueLimit int64
	retryInterval  time.Duration
	retryMax       time.Duration
	shutdownWait   time.Duration

	v15             bool
	groupInstanceID string
	domainID        string

	// makeClient is swapped by tests to inject fakes.
	makeClient func(endpoint string) timeline.Client
	client     timeline.Client

	buffer *pendingBuffer
	queue  *postingQueue

	eventsQueued        int64 // atomic, cumulative over the process lifetime
	entityVersion       int64 // atomic, strictly monotonic per process
	postingQueueStopped int32 // atomic bool

	// Serializes flushes so concurrent publishers cannot interleave around
	// the buffer drain and enqueue an empty entity.
	publishMu sync.Mutex

	// Lifecycle metadata, guarded by mu.
	mu            sync.Mutex
	appStartSeen  bool
	appEndSeen    bool
	startTime     int64
	endTime       int64
	appStartEvent *timeline.Event
	appEndEvent   *timeline.Event

	workerStarted bool
	workerCancel  context.CancelFunc
	workerDone    chan struct{}
	poster        *entityPoster
}

// NewHistoryService returns an unbound service reporting to stat.
func NewHistoryService(stat stats.StatsReceiver) *HistoryService {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &HistoryService{
		stat:       stat,
		makeClient: timeline.MakeHTTPClient,
		buffer:     &pendingBuffer{},
		workerDone: make(chan struct{}),
	}
}

var _ services.Service = (*HistoryService)(nil)

// Start binds the service to an application attempt, creates the timeline
// client and domain, and launches the poster worker. Rejected unless the
// service is in the Created state.
func (s *HistoryService) Start(binding services.Binding) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateCreated, stateStarted) {
		return errors.Errorf("cannot start history service from state %s", s.stateName())
	}
	if binding.AppID == "" {
		return errors.New("binding has no application id")
	}

	conf := config.DefaultConfig()
	if binding.Ctx != nil && binding.Ctx.Conf != nil {
		conf = binding.Ctx.Conf
	}
	if err := conf.Validate(); err != nil {
		return errors.Wrap(err, "history service configuration")
	}
	s.conf = conf
	s.appID = binding.AppID
	s.attemptID = binding.AttemptID
	if binding.Ctx != nil {
		s.appName = binding.Ctx.AppName
		s.appUser = binding.Ctx.User
	}

	s.batchSize = conf.BatchSize
	s.postQueueLimit = int64(conf.BatchSize + conf.PostLimit)
	s.retryInterval = conf.RetryInterval()
	s.retryMax = conf.RetryIntervalMax()
	s.shutdownWait = conf.ShutdownWait()
	s.v15 = conf.V15Enabled()

	s.queue = newPostingQueue(s.stat.Gauge(stats.HistoryPostQueueEventSizeGauge))

	if !conf.Enabled {
		atomic.StoreInt32(&s.postingQueueStopped, 1)
		log.Infof("Timeline service disabled for %s; events will not be forwarded", s.appID)
		return nil
	}

	s.client = s.makeClient(conf.Endpoint)
	s.domainID = s.setupDomain()
	if s.v15 {
		s.groupInstanceID = makeGroupInstanceID(s.appID)
	}

	retry := newLinearBackOff(s.retryInterval, s.retryMax)
	s.poster = &entityPoster{
		service:       s,
		client:        s.client,
		queue:         s.queue,
		stat:          s.stat,
		retry:         retry,
		retryInterval: s.retryInterval,
		v15:           s.v15,
		attemptID:     s.attemptID,
		groupID:       s.groupInstanceID,
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.workerCancel = cancel
	s.workerStarted = true
	atomic.StoreInt32(&s.postingQueueStopped, 0)
	go s.poster.run(ctx)

	log.Infof("History service started for %s attempt %q posting to %s (batch=%d limit=%d)",
		s.appID, s.attemptID, conf.Endpoint, s.batchSize, s.postQueueLimit)
	return nil
}

// Stop transitions to Stopped, synthesizes a terminal application event if
// none was observed, flushes, and awaits the worker's drain up to the
// configured wait before interrupting it. Re-entrant calls are no-ops.
func (s *HistoryService) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.state, stateStarted, stateStopped) {
		return nil
	}

	s.mu.Lock()
	needSyntheticEnd := s.appStartSeen && !s.appEndSeen
	s.mu.Unlock()
	if needSyntheticEnd {
		log.Infof("Synthesizing application end event for %s", s.appID)
		s.Process(&ApplicationEnd{Time: nowMillis()})
	}
	s.publishPendingEvents()

	if s.queue != nil {
		s.queue.put(stopQueue{enqueuedAt: stats.Time.Now(), wait: s.shutdownWait})
	}
	atomic.StoreInt32(&s.postingQueueStopped, 1)

	if s.workerStarted {
		timer := time.NewTimer(s.shutdownWait)
		select {
		case <-s.workerDone:
			timer.Stop()
		case <-timer.C:
			log.Warnf("History service worker did not drain within %v; interrupting", s.shutdownWait)
			s.workerCancel()
			<-s.workerDone
		}
		s.workerCancel()
	} else if s.client != nil {
		s.client.Stop()
	}

	s.removeMetrics()
	log.Infof("History service stopped: %s", s)
	return nil
}

// Process is the event-bus sink. It never blocks on I/O and returns false
// when the service is not accepting events (not yet started, or the posting
// queue has been stopped).
func (s *HistoryService) Process(event Event) bool {
	if atomic.LoadInt32(&s.state) == stateCreated ||
		atomic.LoadInt32(&s.postingQueueStopped) != 0 ||
		s.queue == nil {
		return false
	}

	queued := atomic.AddInt64(&s.eventsQueued, 1)
	s.stat.Counter(stats.HistoryEventsQueuedCounter).Inc(1)
	if queued%1000 == 0 {
		log.Debugf("History service has handled %d events", queued)
	}

	timestamp := nowMillis()
	publish := true
	isLifecycle := false
	push := false

	switch e := event.(type) {
	case *ApplicationStart:
		s.mu.Lock()
		if s.appStartSeen {
			s.mu.Unlock()
			log.Warnf("Dropping duplicate application start event for %s", s.appID)
			return true
		}
		s.appStartSeen = true
		s.startTime = e.Time
		if s.startTime == 0 {
			s.startTime = timestamp
		}
		if e.AppName != "" {
			s.appName = e.AppName
		}
		if e.User != "" {
			s.appUser = e.User
		}
		converted := ToTimelineEvent(e, timestamp)
		s.appStartEvent = converted
		s.mu.Unlock()
		isLifecycle = true
		push = true
	case *ApplicationEnd:
		s.mu.Lock()
		if !s.appStartSeen {
			s.mu.Unlock()
			log.Errorf("Dropping application end event received before any start for %s", s.appID)
			return true
		}
		if s.appEndSeen {
			s.mu.Unlock()
			log.Warnf("Dropping duplicate application end event for %s", s.appID)
			return true
		}
		s.appEndSeen = true
		s.endTime = e.Time
		if s.endTime == 0 {
			s.endTime = timestamp
		}
		converted := ToTimelineEvent(e, timestamp)
		s.appEndEvent = converted
		s.mu.Unlock()
		isLifecycle = true
		push = true
	case *BlockUpdated, *ExecutorMetricsUpdate:
		publish = false
	}

	if publish {
		eventCount := 0
		if isLifecycle || queued < s.postQueueLimit {
			if converted := ToTimelineEvent(event, timestamp); converted != nil {
				eventCount = s.buffer.add(*converted)
			}
		} else {
			s.stat.Counter(stats.HistoryEventsDroppedCounter).Inc(1)
			log.Debugf("Dropping %s event: %d events queued exceeds limit %d",
				event.Tag(), queued, s.postQueueLimit)
		}
		if push || eventCount >= s.batchSize {
			s.publishPendingEvents()
		}
	}
	return true
}

// publishPendingEvents drains the buffer into one entity per protocol mode
// and enqueues them for posting. A no-op until an application start has been
// observed or when there is nothing buffered.
func (s *HistoryService) publishPendingEvents() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	started := s.appStartSeen
	s.mu.Unlock()
	if !started || s.buffer.size() == 0 {
		return
	}

	s.stat.Counter(stats.HistoryFlushCounter).Inc(1)
	timestamp := nowMillis()
	version := atomic.AddInt64(&s.entityVersion, 1)

	if !s.v15 {
		entity := s.createTimelineEntity(true, timestamp, version)
		s.buffer.drainInto(entity)
		s.enqueueEntity(entity)
		return
	}

	// v1.5: the drained buffer rides the detail entity; the summary carries
	// only the lifecycle events for listing.
	summary := s.createTimelineEntity(true, timestamp, version)
	detail := s.createTimelineEntity(false, timestamp, version)
	s.buffer.drainInto(detail)
	s.mu.Lock()
	if s.appStartEvent != nil {
		summary.AddEvent(*s.appStartEvent)
	}
	if s.appEndEvent != nil {
		summary.AddEvent(*s.appEndEvent)
	}
	s.mu.Unlock()
	s.enqueueEntity(summary)
	s.enqueueEntity(detail)
}

// enqueueEntity preflights and queues one entity as a post action.
func (s *HistoryService) enqueueEntity(entity *timeline.Entity) {
	if entity.StartTime == 0 {
		log.Errorf("Refusing to enqueue entity %s with no start time", entity.EntityID)
		return
	}
	s.queue.put(postEntity{entity: entity})
}

// createTimelineEntity builds an entity snapshot from the current lifecycle
// metadata. The caller drains the buffer into it as appropriate.
func (s *HistoryService) createTimelineEntity(summary bool, timestamp int64, version int64) *timeline.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	entityType := EntityTypeSummary
	if s.v15 && !summary {
		entityType = EntityTypeDetail
	}
	entityID := s.appID
	if s.attemptID != "" {
		entityID = s.attemptID
	}

	otherInfo := map[string]interface{}{
		"startTime":     s.startTime,
		"endTime":       s.endTime,
		"lastUpdated":   timestamp,
		"appName":       s.appName,
		"appUser":       s.appUser,
		"applicationId": s.appID,
		"attemptId":     s.attemptID,
		"entityVersion": version,
		"sparkVersion":  SparkVersion,
	}
	if s.v15 {
		otherInfo["groupInstanceId"] = s.groupInstanceID
	}

	filters := map[string]string{}
	if s.appStartSeen {
		filters[FilterAppStart] = TagApplicationStart
	}
	if s.appEndSeen {
		filters[FilterAppEnd] = TagApplicationEnd
	}

	return &timeline.Entity{
		EntityType: entityType,
		EntityID:   entityID,
		StartTime:  s.startTime,
		OtherInfo:  otherInfo,
		Filters:    filters,
		DomainID:   s.domainID,
	}
}

// QueuedActionCount is the number of actions currently awaiting the worker.
func (s *HistoryService) QueuedActionCount() int {
	if s.queue == nil {
		return 0
	}
	return s.queue.len()
}

// PostQueueEventSize is the sum of event counts over queued actions.
func (s *HistoryService) PostQueueEventSize() int64 {
	if s.queue == nil {
		return 0
	}
	return s.queue.eventSizeValue()
}

func (s *HistoryService) String() string {
	return fmt.Sprintf("HistoryService{app=%s attempt=%q state=%s eventsQueued=%d queuedActions=%d queuedEvents=%d bufferedEvents=%d}",
		s.appID, s.attemptID, s.stateName(),
		atomic.LoadInt64(&s.eventsQueued), s.QueuedActionCount(), s.PostQueueEventSize(), s.buffer.size())
}

func (s *HistoryService) stateName() string {
	switch atomic.LoadInt32(&s.state) {
	case stateCreated:
		return "Created"
	case stateStarted:
		return "Started"
	default:
		return "Stopped"
	}
}

// removeMetrics unregisters this service's instruments from the receiver.
func (s *HistoryService) removeMetrics() {
	for _, name := range []string{
		stats.HistoryEventsQueuedCounter,
		stats.HistoryEventsDroppedCounter,
		stats.HistoryEventsPostedCounter,
		stats.HistoryFlushCounter,
		stats.HistoryEntityPostFailureCounter,
		stats.HistoryEntityPostRejectionCounter,
		stats.HistoryEntityPostSuccessCounter,
		stats.HistoryPostQueueEventSizeGauge,
		stats.HistoryPostTimestampGauge,
		stats.HistoryRetryDelayGauge,
		stats.HistoryEntityPostLatency_ms,
	} {
		s.stat.Remove(name)
	}
}

func makeGroupInstanceID(appID string) string {
	if id, err := uuid.NewV4(); err == nil {
		return appID + "_" + id.String()
	}
	return appID + "_group"
}
