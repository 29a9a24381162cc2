// Package metrics provides Prometheus metrics for the peak detection
// pipeline. A single Manager owns every instrument; package-level helpers
// record against a global manager backed by a custom registry so the
// default Go collectors never leak into scrapes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns all Prometheus instruments for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Detection pipeline
	peaksDetected   *prometheus.CounterVec
	eventsPersisted prometheus.Counter
	eventsDuplicate prometheus.Counter
	markLatency     prometheus.Histogram

	// Queue lifecycle
	queueDepth     prometheus.Gauge
	messagesSent   prometheus.Counter
	messagesRead   prometheus.Counter
	messagesAcked  prometheus.Counter
	messagesDead   prometheus.Counter
	sendErrors     prometheus.Counter
	workerErrors   prometheus.Counter
	workerLatency  prometheus.Histogram
	scheduleErrors prometheus.Counter

	// External collaborators
	classifyRequests  prometheus.Counter
	classifyErrors    prometheus.Counter
	deviceSuggestions prometheus.Counter
	notificationsSent prometheus.Counter
	notificationFails prometheus.Counter

	// Estimation sweep
	estimationRuns    prometheus.Counter
	estimationNoData  prometheus.Counter
	estimationErrors  prometheus.Counter

	// HTTP surface
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // custom registry avoids default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers all instruments.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "peakd",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.register()
	return m
}

func (m *Manager) register() {
	auto := promauto.With(m.registry)

	m.peaksDetected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "peaks_detected_total",
		Help:      "Total peak windows found by the extractor, labeled by event kind",
	}, []string{"kind"})

	m.eventsPersisted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_persisted_total",
		Help:      "Total newly persisted peak events",
	})

	m.eventsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_duplicate_total",
		Help:      "Total peak events skipped because the window was already marked",
	})

	m.markLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "mark_latency_milliseconds",
		Help:      "Histogram of end-to-end find-and-mark latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.queueDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_depth",
		Help:      "Messages currently visible or leased in the durable queue",
	})

	m.messagesSent = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_messages_sent_total",
		Help:      "Total messages enqueued by the scheduler",
	})

	m.messagesRead = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_messages_read_total",
		Help:      "Total message leases handed to workers (includes redeliveries)",
	})

	m.messagesAcked = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_messages_deleted_total",
		Help:      "Total messages deleted after successful processing",
	})

	m.messagesDead = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_messages_archived_total",
		Help:      "Total messages moved to the dead-letter archive",
	})

	m.sendErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_send_errors_total",
		Help:      "Total enqueue failures",
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Total message processing failures (message left for redelivery)",
	})

	m.workerLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_latency_milliseconds",
		Help:      "Histogram of per-message worker latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.scheduleErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scheduler_enqueue_failures_total",
		Help:      "Total per-sensor enqueue failures during fan-out sweeps",
	})

	m.classifyRequests = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "classification_requests_total",
		Help:      "Total classification RPC batches sent",
	})

	m.classifyErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "classification_errors_total",
		Help:      "Total classification RPC failures (batch degraded to unclassified)",
	})

	m.deviceSuggestions = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "device_suggestions_total",
		Help:      "Total device suggestions written back above the confidence cutoff",
	})

	m.notificationsSent = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notifications_sent_total",
		Help:      "Total anomaly notification emails sent",
	})

	m.notificationFails = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notification_errors_total",
		Help:      "Total anomaly notification failures (events stay marked)",
	})

	m.estimationRuns = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "estimation_runs_total",
		Help:      "Total device power estimation sweeps completed",
	})

	m.estimationNoData = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "estimation_insufficient_data_total",
		Help:      "Total estimation sweeps skipped for lack of usable peaks",
	})

	m.estimationErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "estimation_errors_total",
		Help:      "Total estimation sweep failures (singular system or storage error)",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "Histogram of HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status"})
}

// GetRegistry returns the custom registry serving /healthz scrapes.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Package-level recording helpers against the global manager.

func RecordPeaksDetected(kind string, n int) {
	globalManager.peaksDetected.WithLabelValues(kind).Add(float64(n))
}
func RecordEventPersisted()             { globalManager.eventsPersisted.Inc() }
func RecordEventDuplicate()             { globalManager.eventsDuplicate.Inc() }
func RecordMarkLatency(ms float64)      { globalManager.markLatency.Observe(ms) }
func UpdateQueueDepth(n int)            { globalManager.queueDepth.Set(float64(n)) }
func RecordMessageSent()                { globalManager.messagesSent.Inc() }
func RecordMessageRead()                { globalManager.messagesRead.Inc() }
func RecordMessageDeleted()             { globalManager.messagesAcked.Inc() }
func RecordMessageArchived()            { globalManager.messagesDead.Inc() }
func RecordSendError()                  { globalManager.sendErrors.Inc() }
func RecordWorkerError()                { globalManager.workerErrors.Inc() }
func RecordWorkerLatency(ms float64)    { globalManager.workerLatency.Observe(ms) }
func RecordScheduleError()              { globalManager.scheduleErrors.Inc() }
func RecordClassifyRequest()            { globalManager.classifyRequests.Inc() }
func RecordClassifyError()              { globalManager.classifyErrors.Inc() }
func RecordDeviceSuggestions(n int)     { globalManager.deviceSuggestions.Add(float64(n)) }
func RecordNotificationSent()           { globalManager.notificationsSent.Inc() }
func RecordNotificationError()          { globalManager.notificationFails.Inc() }
func RecordEstimationRun()              { globalManager.estimationRuns.Inc() }
func RecordEstimationInsufficientData() { globalManager.estimationNoData.Inc() }
func RecordEstimationError()            { globalManager.estimationErrors.Inc() }

func RecordHTTPRequest(endpoint, method, status string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
}

func RecordHTTPRequestDuration(endpoint, method, status string, ms float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, status).Observe(ms)
}
