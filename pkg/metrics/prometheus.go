// Package metrics provides Prometheus metrics for the adaptive mastery engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the engine.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	httpBuckets    []float64
	registry       prometheus.Registerer

	// Estimation
	masteryUpdates       prometheus.Counter
	masteryUpdateLatency prometheus.Histogram
	engagementUpdates    prometheus.Counter
	engagementAlerts     prometheus.Counter
	engagementByLevel    *prometheus.GaugeVec
	decaySweeps          prometheus.Counter

	// Planning
	plansGenerated      prometheus.Counter
	planLatency         prometheus.Histogram
	insufficientContent prometheus.Counter
	plansCoalesced      prometheus.Counter

	// Ingest
	eventsIngested   prometheus.Counter
	eventsDuplicate  prometheus.Counter
	validationErrors *prometheus.CounterVec

	// State store
	lockTimeouts     prometheus.Counter
	staleStates      prometheus.Counter
	trackedStates    *prometheus.GaugeVec
	snapshotDuration prometheus.Histogram

	// Queues and workers
	queueSize        *prometheus.GaugeVec
	queueRejected    *prometheus.CounterVec
	workerProcessing prometheus.Histogram
	workerErrors     prometheus.Counter

	// Journal and broadcast
	journalWrites        prometheus.Counter
	journalDropped       prometheus.Counter
	journalErrors        prometheus.Counter
	notificationsSent    prometheus.Counter
	notificationsDropped prometheus.Counter
	subscribers          prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByComponent   *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton used by package-level recorders

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // avoids default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// DefaultLatencyBudgetMs is the per-operation budget the latency buckets are
// built around.
const DefaultLatencyBudgetMs = 200

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:   "amep",
		subsystem:   "engine",
		httpBuckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		registry:    prometheus.DefaultRegisterer,
	}
	WithLatencyBudget(DefaultLatencyBudgetMs)(m)
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.latencyBuckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of collectors
	m.masteryUpdates = m.counter("mastery_updates_total", "Mastery states committed")
	m.masteryUpdateLatency = m.histogram("mastery_update_latency_milliseconds", "Latency of a mastery update including lock wait")
	m.engagementUpdates = m.counter("engagement_updates_total", "Engagement states committed")
	m.engagementAlerts = m.counter("engagement_alerts_total", "Multi-level engagement drops that raised an alert")
	m.engagementByLevel = m.gaugeVec("engagement_students", "Students per engagement level at last aggregation", "level")
	m.decaySweeps = m.counter("engagement_decay_sweeps_total", "Eager engagement decay sweeps")

	m.plansGenerated = m.counter("plans_generated_total", "Practice sessions planned")
	m.planLatency = m.histogram("plan_latency_milliseconds", "Planner latency")
	m.insufficientContent = m.counter("plans_insufficient_content_total", "Plans rejected for lack of eligible content")
	m.plansCoalesced = m.counter("plans_coalesced_total", "Plan requests served by an in-flight identical request")

	m.eventsIngested = m.counter("events_ingested_total", "Response events accepted by the ingestor")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Async response events dropped as duplicates")
	m.validationErrors = m.counterVec("validation_errors_total", "Inputs rejected at the ingest boundary", "kind")

	m.lockTimeouts = m.counter("lock_timeouts_total", "Per-key lock acquisitions that timed out")
	m.staleStates = m.counter("stale_states_total", "Updates against archived state that were recreated")
	m.trackedStates = m.gaugeVec("tracked_states", "States held by the session store", "kind")
	m.snapshotDuration = m.histogram("snapshot_duration_milliseconds", "Time to collect a store snapshot")

	m.queueSize = m.gaugeVec("queue_size", "Current queue depth", "queue")
	m.queueRejected = m.counterVec("queue_rejected_total", "Enqueue attempts rejected", "queue", "reason")
	m.workerProcessing = m.histogram("worker_processing_milliseconds", "Async event processing latency")
	m.workerErrors = m.counter("worker_errors_total", "Async event processing failures")

	m.journalWrites = m.counter("journal_writes_total", "Journal records persisted")
	m.journalDropped = m.counter("journal_dropped_total", "Journal records dropped because the write-behind buffer was full")
	m.journalErrors = m.counter("journal_errors_total", "Journal write failures")
	m.notificationsSent = m.counter("notifications_sent_total", "Notifications delivered to subscribers")
	m.notificationsDropped = m.counter("notifications_dropped_total", "Notifications dropped for slow subscribers or full queue")
	m.subscribers = m.gauge("subscribers", "Connected real-time subscribers")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: m.httpBuckets,
	}, []string{"endpoint", "method", "status_code"})
	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// GetRegistry returns the registry backing the package-level recorders.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// RecordMasteryUpdate counts a committed mastery update and its latency.
func RecordMasteryUpdate(latencyMs float64) {
	globalManager.masteryUpdates.Inc()
	globalManager.masteryUpdateLatency.Observe(latencyMs)
}

// RecordEngagementUpdate counts a committed engagement update.
func RecordEngagementUpdate(alert bool) {
	globalManager.engagementUpdates.Inc()
	if alert {
		globalManager.engagementAlerts.Inc()
	}
}

// UpdateEngagementDistribution publishes the per-level student counts.
func UpdateEngagementDistribution(counts map[string]int) {
	for level, n := range counts {
		globalManager.engagementByLevel.WithLabelValues(level).Set(float64(n))
	}
}

// RecordDecaySweep counts an eager decay sweep.
func RecordDecaySweep() {
	globalManager.decaySweeps.Inc()
}

// RecordPlan records a generated plan and its latency.
func RecordPlan(latencyMs float64) {
	globalManager.plansGenerated.Inc()
	globalManager.planLatency.Observe(latencyMs)
}

// RecordInsufficientContent counts a plan rejected for lack of content.
func RecordInsufficientContent() {
	globalManager.insufficientContent.Inc()
}

// RecordPlanCoalesced counts a plan request that shared an in-flight result.
func RecordPlanCoalesced() {
	globalManager.plansCoalesced.Inc()
}

// RecordEventIngested counts an accepted response event.
func RecordEventIngested() {
	globalManager.eventsIngested.Inc()
}

// RecordEventDuplicate counts a duplicate async event.
func RecordEventDuplicate() {
	globalManager.eventsDuplicate.Inc()
}

// RecordValidationError counts a rejected input of the given kind.
func RecordValidationError(kind string) {
	globalManager.validationErrors.WithLabelValues(kind).Inc()
}

// RecordLockTimeout counts a per-key lock timeout.
func RecordLockTimeout() {
	globalManager.lockTimeouts.Inc()
}

// RecordStaleState counts an update that recreated archived state.
func RecordStaleState() {
	globalManager.staleStates.Inc()
}

// UpdateTrackedStates publishes how many states of a kind the store holds.
func UpdateTrackedStates(kind string, n int) {
	globalManager.trackedStates.WithLabelValues(kind).Set(float64(n))
}

// RecordSnapshotDuration records how long a store snapshot took.
func RecordSnapshotDuration(ms float64) {
	globalManager.snapshotDuration.Observe(ms)
}

// UpdateQueueSize publishes the depth of a named queue.
func UpdateQueueSize(queue string, size int) {
	globalManager.queueSize.WithLabelValues(queue).Set(float64(size))
}

// RecordQueueRejected counts a rejected enqueue.
func RecordQueueRejected(queue, reason string) {
	globalManager.queueRejected.WithLabelValues(queue, reason).Inc()
}

// RecordWorkerProcessing records async processing latency.
func RecordWorkerProcessing(latencyMs float64) {
	globalManager.workerProcessing.Observe(latencyMs)
}

// RecordWorkerError counts an async processing failure.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordJournalWrites counts persisted journal records.
func RecordJournalWrites(n int) {
	globalManager.journalWrites.Add(float64(n))
}

// RecordJournalDropped counts a journal record dropped on a full buffer.
func RecordJournalDropped() {
	globalManager.journalDropped.Inc()
}

// RecordJournalError counts a failed journal write.
func RecordJournalError() {
	globalManager.journalErrors.Inc()
}

// RecordNotificationSent counts a delivered notification.
func RecordNotificationSent() {
	globalManager.notificationsSent.Inc()
}

// RecordNotificationDropped counts a dropped notification.
func RecordNotificationDropped() {
	globalManager.notificationsDropped.Inc()
}

// UpdateSubscribers publishes the number of connected subscribers.
func UpdateSubscribers(n int) {
	globalManager.subscribers.Set(float64(n))
}

// RecordHTTPRequest records an HTTP request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent counts an error for a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage publishes heap usage.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount publishes the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}
