// Package metrics provides Prometheus metrics for the scores-ws service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// defaultLatencyBuckets are in milliseconds, matching the *_milliseconds metrics.
var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000} //nolint:gochecknoglobals // read-only bucket layout

// Poller states exported through the poller_state gauge.
const (
	PollerStateRunning    = 0
	PollerStateDegraded   = 1
	PollerStateAuthFailed = 2
	PollerStateStopped    = 3
)

// Manager manages all Prometheus metrics for the scores-ws service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Ingest Metrics - what the poller pulls from upstream
	scoresIngested          prometheus.Counter
	scoresFiltered          prometheus.Counter
	scoresDuplicate         prometheus.Counter
	polls                   *prometheus.CounterVec
	pollLatency             prometheus.Histogram
	pollConsecutiveFailures prometheus.Gauge
	pollerState             prometheus.Gauge
	upstreamTokenRefreshes  prometheus.Counter

	// Ledger Metrics - retained history
	ledgerSize       prometheus.Gauge
	ledgerCapacity   prometheus.Gauge
	ledgerLatestID   prometheus.Gauge
	ledgerEvicted    prometheus.Counter
	snapshotEvents   prometheus.Histogram
	truncatedResumes prometheus.Counter

	// Session Metrics - connected clients
	sessionsConnected prometheus.Gauge
	sessionsOpened    prometheus.Counter
	sessionsClosed    *prometheus.CounterVec
	sessionsRejected  *prometheus.CounterVec
	eventsDelivered   prometheus.Counter

	// Queue Metrics - per-session outbound queues
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Enhanced Error Metrics - Detailed error tracking
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
	processRSS           prometheus.Gauge
	processCPUPercent    prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Configure rebuilds the global metrics on a fresh registry with opts.
// Call it once at startup, before anything records or serves metrics.
func Configure(opts ...Option) {
	customRegistry = prometheus.NewRegistry()
	all := append(append([]Option(nil), opts...), WithPrometheusRegistry(customRegistry))
	globalManager = NewManager(all...)
}

// Enabled reports whether the global metrics record anything.
func Enabled() bool {
	return globalManager.enabled
}

// RefreshInterval returns how often sampled gauges should be refreshed.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "scoresws",
		subsystem:        "stream",
		histogramBuckets: defaultLatencyBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}
	if !m.enabled {
		// Collectors still exist so recording is safe, but nothing is exposed.
		m.registry = prometheus.NewRegistry()
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.scoresIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "scores_ingested_total",
		Help:        "Total number of scores appended to the ledger",
	})

	m.scoresFiltered = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "scores_filtered_total",
		Help:        "Total number of upstream scores discarded by the ruleset filter",
	})

	m.scoresDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "scores_duplicate_total",
		Help:        "Total number of upstream scores already ingested by an earlier poll",
	})

	m.polls = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			ConstLabels: m.customLabels,
			Name:        m.metricPrefix + "polls_total",
			Help:        "Total number of upstream polls by result",
		},
		[]string{"result"},
	)

	m.pollLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "poll_latency_milliseconds",
		Help:        "Latency of one upstream poll cycle in milliseconds",
		Buckets:     []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	m.pollConsecutiveFailures = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "poll_consecutive_failures",
		Help:        "Number of consecutive failed polls",
	})

	m.pollerState = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "poller_state",
		Help:        "Poller state: 0 running, 1 degraded, 2 auth failed, 3 stopped",
	})

	m.upstreamTokenRefreshes = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "upstream_token_refreshes_total",
		Help:        "Total number of upstream access token requests",
	})

	m.ledgerSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "ledger_size",
		Help:        "Number of score events currently retained",
	})

	m.ledgerCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "ledger_capacity",
		Help:        "Maximum number of retained score events",
	})

	m.ledgerLatestID = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "ledger_latest_id",
		Help:        "Id of the most recently appended score event",
	})

	m.ledgerEvicted = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "ledger_evicted_total",
		Help:        "Total number of score events evicted from history",
	})

	m.snapshotEvents = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "snapshot_events",
		Help:        "Number of backlog events replayed per resuming session",
		Buckets:     prometheus.ExponentialBuckets(1, 4, 10),
	})

	m.truncatedResumes = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "truncated_resumes_total",
		Help:        "Total number of resumes that asked for an id older than retained history",
	})

	m.sessionsConnected = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "sessions_connected",
		Help:        "Number of currently connected sessions",
	})

	m.sessionsOpened = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "sessions_opened_total",
		Help:        "Total number of sessions opened",
	})

	m.sessionsClosed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			ConstLabels: m.customLabels,
			Name:        m.metricPrefix + "sessions_closed_total",
			Help:        "Total number of sessions closed by reason",
		},
		[]string{"reason"},
	)

	m.sessionsRejected = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			ConstLabels: m.customLabels,
			Name:        m.metricPrefix + "sessions_rejected_total",
			Help:        "Total number of connections rejected before a session was created",
		},
		[]string{"reason"},
	)

	m.eventsDelivered = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "events_delivered_total",
		Help:        "Total number of score events written to client sockets",
	})

	m.queueEnqueueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "queue_enqueue_total",
		Help:        "Total number of events enqueued into session queues",
	})

	m.queueDequeueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "queue_dequeue_total",
		Help:        "Total number of events dequeued from session queues",
	})

	m.queueEnqueueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "queue_enqueue_errors_total",
		Help:        "Total number of rejected enqueues (full or closed queue)",
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			ConstLabels: m.customLabels,
			Name:        m.metricPrefix + "http_requests_total",
			Help:        "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			ConstLabels: m.customLabels,
			Name:        m.metricPrefix + "http_request_duration_milliseconds",
			Help:        "HTTP request duration in milliseconds",
			Buckets:     m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			ConstLabels: m.customLabels,
			Name:        m.metricPrefix + "errors_by_component_total",
			Help:        "Total number of errors by component",
		},
		[]string{"component", "error_type"},
	)

	m.errorRateByType = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			ConstLabels: m.customLabels,
			Name:        m.metricPrefix + "errors_by_type_total",
			Help:        "Total number of errors by type",
		},
		[]string{"error_type", "severity"},
	)

	m.errorRateByEndpoint = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			ConstLabels: m.customLabels,
			Name:        m.metricPrefix + "errors_by_endpoint_total",
			Help:        "Total number of errors by endpoint",
		},
		[]string{"endpoint", "method", "error_type"},
	)

	m.errorLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			ConstLabels: m.customLabels,
			Name:        m.metricPrefix + "error_latency_milliseconds",
			Help:        "Latency of operations that resulted in errors",
			Buckets:     m.histogramBuckets,
		},
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "system_memory_usage_bytes",
		Help:        "Go heap memory in use in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "system_goroutine_count",
		Help:        "Number of goroutines",
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "system_gc_pause_time_milliseconds",
		Help:        "GC pause time in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	m.processRSS = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "process_resident_memory_bytes",
		Help:        "Resident set size of the process in bytes",
	})

	m.processCPUPercent = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		ConstLabels: m.customLabels,
		Name:        m.metricPrefix + "process_cpu_percent",
		Help:        "CPU usage of the process in percent",
	})
}

// Ingest Metrics Functions.

// RecordScoreIngested increments the ingested scores counter.
func RecordScoreIngested() {
	if !globalManager.enabled {
		return
	}
	globalManager.scoresIngested.Inc()
}

// RecordScoreFiltered increments the filtered scores counter.
func RecordScoreFiltered() {
	if !globalManager.enabled {
		return
	}
	globalManager.scoresFiltered.Inc()
}

// RecordScoreDuplicate increments the duplicate scores counter.
func RecordScoreDuplicate() {
	if !globalManager.enabled {
		return
	}
	globalManager.scoresDuplicate.Inc()
}

// RecordPoll records the outcome of one poll cycle ("ok", "error", "unauthorized").
func RecordPoll(result string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.polls.WithLabelValues(result).Inc()
	globalManager.pollLatency.Observe(latencyMs)
}

// UpdatePollConsecutiveFailures sets the consecutive poll failure count.
func UpdatePollConsecutiveFailures(n int) {
	if !globalManager.enabled {
		return
	}
	globalManager.pollConsecutiveFailures.Set(float64(n))
}

// UpdatePollerState sets the poller state gauge (see PollerState* constants).
func UpdatePollerState(state int) {
	if !globalManager.enabled {
		return
	}
	globalManager.pollerState.Set(float64(state))
}

// RecordUpstreamTokenRefresh increments the token refresh counter.
func RecordUpstreamTokenRefresh() {
	if !globalManager.enabled {
		return
	}
	globalManager.upstreamTokenRefreshes.Inc()
}

// Ledger Metrics Functions.

// UpdateLedger sets the ledger size and latest id gauges.
func UpdateLedger(size int, latestID uint64) {
	if !globalManager.enabled {
		return
	}
	globalManager.ledgerSize.Set(float64(size))
	globalManager.ledgerLatestID.Set(float64(latestID))
}

// UpdateLedgerCapacity sets the ledger capacity gauge.
func UpdateLedgerCapacity(capacity int) {
	if !globalManager.enabled {
		return
	}
	globalManager.ledgerCapacity.Set(float64(capacity))
}

// RecordLedgerEviction increments the evicted events counter.
func RecordLedgerEviction() {
	if !globalManager.enabled {
		return
	}
	globalManager.ledgerEvicted.Inc()
}

// RecordSnapshot records the size of a backlog snapshot and whether it was truncated.
func RecordSnapshot(events int, truncated bool) {
	if !globalManager.enabled {
		return
	}
	globalManager.snapshotEvents.Observe(float64(events))
	if truncated {
		globalManager.truncatedResumes.Inc()
	}
}

// Session Metrics Functions.

// UpdateSessionsConnected sets the connected sessions gauge.
func UpdateSessionsConnected(n int) {
	if !globalManager.enabled {
		return
	}
	globalManager.sessionsConnected.Set(float64(n))
}

// RecordSessionOpened increments the opened sessions counter.
func RecordSessionOpened() {
	if !globalManager.enabled {
		return
	}
	globalManager.sessionsOpened.Inc()
}

// RecordSessionClosed increments the closed sessions counter for reason.
func RecordSessionClosed(reason string) {
	if !globalManager.enabled {
		return
	}
	globalManager.sessionsClosed.WithLabelValues(reason).Inc()
}

// RecordSessionRejected increments the rejected connections counter for reason.
func RecordSessionRejected(reason string) {
	if !globalManager.enabled {
		return
	}
	globalManager.sessionsRejected.WithLabelValues(reason).Inc()
}

// RecordEventDelivered increments the delivered events counter.
func RecordEventDelivered() {
	if !globalManager.enabled {
		return
	}
	globalManager.eventsDelivered.Inc()
}

// Queue Metrics Functions.

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	if !globalManager.enabled {
		return
	}
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	if !globalManager.enabled {
		return
	}
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	if !globalManager.enabled {
		return
	}
	globalManager.queueEnqueueErrors.Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Enhanced Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the heap memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if !globalManager.enabled {
		return
	}
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// UpdateProcessStats sets the process RSS and CPU gauges.
func UpdateProcessStats(rssBytes uint64, cpuPercent float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.processRSS.Set(float64(rssBytes))
	globalManager.processCPUPercent.Set(cpuPercent)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
