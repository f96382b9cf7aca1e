// Package metrics provides Prometheus metrics for VibePHP monitoring
// Exports HTTP, AI, agent loop, verification, preview and WebSocket metrics
package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vibephp"

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors for VibePHP
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPResponseSize     *prometheus.HistogramVec

	// AI Metrics
	AIRequestsTotal    *prometheus.CounterVec
	AIRequestDuration  *prometheus.HistogramVec
	AITokensUsed       *prometheus.CounterVec
	AIRequestsInFlight *prometheus.GaugeVec

	// Agent loop Metrics
	AgentTransitionsTotal *prometheus.CounterVec
	AgentCyclesTotal      *prometheus.CounterVec
	FixAttemptsTotal      prometheus.Counter
	StaleResultsTotal     *prometheus.CounterVec
	ActiveWorkspaces      prometheus.Gauge

	// Verification Metrics
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec
	ErrorsClassified     *prometheus.CounterVec
	PatchesTotal         *prometheus.CounterVec
	PreviewDeploysTotal  *prometheus.CounterVec

	// WebSocket Metrics
	WebSocketConnectionsGauge prometheus.Gauge
	WebSocketMessagesTotal    *prometheus.CounterVec

	// System Metrics
	BuildInfo    *prometheus.GaugeVec
	StartupTime  prometheus.Gauge
	GoroutineNum prometheus.Gauge
}

// Get returns the singleton Metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics creates and registers all Prometheus metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	// HTTP Metrics
	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status code",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	m.HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 7),
		},
		[]string{"endpoint"},
	)

	// AI Metrics
	m.AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "Total number of model requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	m.AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "request_duration_seconds",
			Help:      "Model request duration in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"operation"},
	)

	m.AITokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "tokens_total",
			Help:      "Tokens reported by the model API",
		},
		[]string{"operation", "type"},
	)

	m.AIRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "requests_in_flight",
			Help:      "Current number of model requests in flight",
		},
		[]string{"operation"},
	)

	// Agent loop Metrics
	m.AgentTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "transitions_total",
			Help:      "Agent state transitions",
		},
		[]string{"from", "to"},
	)

	m.AgentCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "cycles_total",
			Help:      "Completed agent cycles by outcome",
		},
		[]string{"outcome"},
	)

	m.FixAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "fix_attempts_total",
			Help:      "Applied fix attempts",
		},
	)

	m.StaleResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "stale_results_total",
			Help:      "Results discarded because their cycle was cancelled",
		},
		[]string{"operation"},
	)

	m.ActiveWorkspaces = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "active_workspaces",
			Help:      "Workspaces currently held in memory",
		},
	)

	// Verification Metrics
	m.VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "requests_total",
			Help:      "Executor requests by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	m.VerificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "request_duration_seconds",
			Help:      "Executor request duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	m.ErrorsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "errors_classified_total",
			Help:      "Verification failures by classified kind",
		},
		[]string{"kind"},
	)

	m.PatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "patches_total",
			Help:      "Line patches by result",
		},
		[]string{"result"},
	)

	m.PreviewDeploysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "deploys_total",
			Help:      "Preview deployments by result",
		},
		[]string{"result"},
	)

	// WebSocket Metrics
	m.WebSocketConnectionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_active",
			Help:      "Number of active status stream connections",
		},
	)

	m.WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_total",
			Help:      "Total number of WebSocket messages",
		},
		[]string{"type"},
	)

	// System Metrics
	m.BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_date"},
	)

	m.StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "startup_time_seconds",
			Help:      "Unix timestamp of application startup",
		},
	)

	m.GoroutineNum = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Number of goroutines",
		},
	)

	// Set startup time
	m.StartupTime.Set(float64(time.Now().Unix()))

	return m
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration, responseSize int) {
	status := statusCodeToLabel(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(endpoint).Observe(float64(responseSize))
}

// RecordAIRequest records a model request
func (m *Metrics) RecordAIRequest(operation, outcome string, duration time.Duration, inputTokens, outputTokens int) {
	m.AIRequestsTotal.WithLabelValues(operation, outcome).Inc()
	m.AIRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if inputTokens > 0 {
		m.AITokensUsed.WithLabelValues(operation, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.AITokensUsed.WithLabelValues(operation, "output").Add(float64(outputTokens))
	}
}

// RecordTransition records an agent state change
func (m *Metrics) RecordTransition(from, to string) {
	m.AgentTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordCycle records how an agent cycle ended
func (m *Metrics) RecordCycle(outcome string) {
	m.AgentCyclesTotal.WithLabelValues(outcome).Inc()
}

// RecordFixAttempt records one applied fix attempt
func (m *Metrics) RecordFixAttempt() {
	m.FixAttemptsTotal.Inc()
}

// RecordStaleResult records a discarded late response
func (m *Metrics) RecordStaleResult(operation string) {
	m.StaleResultsTotal.WithLabelValues(operation).Inc()
}

// RecordVerification records an executor round trip
func (m *Metrics) RecordVerification(mode, outcome string, duration time.Duration) {
	m.VerificationsTotal.WithLabelValues(mode, outcome).Inc()
	m.VerificationDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordClassification records a classified verification failure
func (m *Metrics) RecordClassification(kind string) {
	m.ErrorsClassified.WithLabelValues(kind).Inc()
}

// RecordPatches records patch outcomes of one fix application
func (m *Metrics) RecordPatches(applied, loose, skipped int) {
	m.PatchesTotal.WithLabelValues("applied").Add(float64(applied - loose))
	m.PatchesTotal.WithLabelValues("applied_loose").Add(float64(loose))
	m.PatchesTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordPreviewDeploy records a preview deploy decision
func (m *Metrics) RecordPreviewDeploy(result string) {
	m.PreviewDeploysTotal.WithLabelValues(result).Inc()
}

// RecordWebSocketConnection records a WebSocket connection change
func (m *Metrics) RecordWebSocketConnection(delta int) {
	m.WebSocketConnectionsGauge.Add(float64(delta))
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType string) {
	m.WebSocketMessagesTotal.WithLabelValues(msgType).Inc()
}

// SetBuildInfo sets build information
func (m *Metrics) SetBuildInfo(version, commit, buildDate string) {
	m.BuildInfo.WithLabelValues(version, commit, buildDate).Set(1)
}

// UpdateGoroutines samples the goroutine count
func (m *Metrics) UpdateGoroutines() {
	m.GoroutineNum.Set(float64(runtime.NumGoroutine()))
}

// Helper function to convert status code to label
func statusCodeToLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
