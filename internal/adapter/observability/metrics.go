// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// RPCCallsTotal counts calls to downstream tool servers by server name,
	// tool, and outcome (success/connection_error/tool_error/validation_error).
	RPCCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_calls_total",
			Help: "Total calls to downstream tool servers",
		},
		[]string{"server", "tool", "outcome"},
	)
	// RPCCallDuration records the latency of one completed call attempt
	// (not the whole retried operation) to a downstream tool server.
	RPCCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpc_call_duration_seconds",
			Help:    "Downstream tool server call duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"server", "tool"},
	)
	// RPCRetriesTotal counts retry attempts made by the Retrier, by server.
	RPCRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_retries_total",
			Help: "Total retry attempts made against downstream tool servers",
		},
		[]string{"server"},
	)

	// CircuitBreakerStatus tracks circuit breaker state per downstream server.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"server"},
	)

	// CacheHitsTotal and CacheMissesTotal count cache lookups by resource
	// kind (price, historical, search, company, metrics, news, overview).
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits by resource",
		},
		[]string{"resource"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses by resource",
		},
		[]string{"resource"},
	)
	// CacheStaleReadsTotal counts stale-on-error fallback reads by resource.
	CacheStaleReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_stale_reads_total",
			Help: "Total stale-on-error cache fallback reads by resource",
		},
		[]string{"resource"},
	)

	// WsConnectionsGauge is the current count of live WebSocket connections.
	WsConnectionsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Current number of live WebSocket connections",
		},
	)
	// WsMessagesSentTotal counts WebSocket messages delivered, by message type.
	WsMessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_messages_sent_total",
			Help: "Total WebSocket messages successfully delivered",
		},
		[]string{"type"},
	)

	// WorkflowExecutionsTotal counts completed workflow executions by
	// execution mode and terminal status (completed/failed).
	WorkflowExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_executions_total",
			Help: "Total workflow executions by mode and terminal status",
		},
		[]string{"mode", "status"},
	)
	// WorkflowExecutionDuration records execution wall-clock time.
	WorkflowExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflow_execution_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"mode"},
	)

	// AlertsTriggeredTotal and AlertsSuppressedTotal track the AlertMonitor's
	// evaluation loop outcomes.
	AlertsTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_triggered_total",
			Help: "Total price alerts whose condition evaluated true",
		},
		[]string{"condition"},
	)
	AlertsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_notifications_suppressed_total",
			Help: "Total alert notifications suppressed by the anti-fatigue window",
		},
	)

	// JobsEnqueuedTotal counts background jobs enqueued by type (e.g.
	// scheduled workflow runs dispatched through asynq).
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"type"},
	)
	// JobsProcessing is a gauge of the number of currently processing jobs by type.
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"type"},
	)
	// JobsCompletedTotal counts jobs completed by type.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"type"},
	)
	// JobsFailedTotal counts jobs failed by type.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"type"},
	)
	// JobFailuresByCode breaks job failures down by the domain error code
	// that caused them, for alerting on a specific upstream failure mode.
	JobFailuresByCode = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_failures_by_code_total",
			Help: "Total job failures by domain error code",
		},
		[]string{"type", "code"},
	)
)

var metricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the default registry.
// Safe to call more than once per process (e.g. from both cmd/server and
// test setup); registration only happens on the first call.
func InitMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			RPCCallsTotal,
			RPCCallDuration,
			RPCRetriesTotal,
			CircuitBreakerStatus,
			CacheHitsTotal,
			CacheMissesTotal,
			CacheStaleReadsTotal,
			WsConnectionsGauge,
			WsMessagesSentTotal,
			WorkflowExecutionsTotal,
			WorkflowExecutionDuration,
			AlertsTriggeredTotal,
			AlertsSuppressedTotal,
			JobsEnqueuedTotal,
			JobsProcessing,
			JobsCompletedTotal,
			JobsFailedTotal,
			JobFailuresByCode,
		)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordRPCCall records one completed call attempt to a downstream tool
// server: its outcome classification and latency.
func RecordRPCCall(server, tool, outcome string, duration time.Duration) {
	RPCCallsTotal.WithLabelValues(server, tool, outcome).Inc()
	RPCCallDuration.WithLabelValues(server, tool).Observe(duration.Seconds())
}

// RecordRPCRetry records one retry attempt made against a downstream server.
func RecordRPCRetry(server string) {
	RPCRetriesTotal.WithLabelValues(server).Inc()
}

// RecordCircuitBreakerStatus records circuit breaker state for a downstream
// server: 0=closed, 1=open, 2=half-open.
func RecordCircuitBreakerStatus(server string, status int) {
	CircuitBreakerStatus.WithLabelValues(server).Set(float64(status))
}

// RecordCacheHit and RecordCacheMiss track CacheStore lookups by resource.
func RecordCacheHit(resource string)  { CacheHitsTotal.WithLabelValues(resource).Inc() }
func RecordCacheMiss(resource string) { CacheMissesTotal.WithLabelValues(resource).Inc() }

// RecordStaleRead records a stale-on-error cache fallback for resource.
func RecordStaleRead(resource string) { CacheStaleReadsTotal.WithLabelValues(resource).Inc() }

// SetWsConnections sets the current live-connection gauge.
func SetWsConnections(n int) { WsConnectionsGauge.Set(float64(n)) }

// RecordWsMessageSent counts one successfully delivered WebSocket message.
func RecordWsMessageSent(msgType string) { WsMessagesSentTotal.WithLabelValues(msgType).Inc() }

// RecordWorkflowExecution records a terminal workflow execution's mode,
// status, and wall-clock duration.
func RecordWorkflowExecution(mode, status string, duration time.Duration) {
	WorkflowExecutionsTotal.WithLabelValues(mode, status).Inc()
	WorkflowExecutionDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordAlertTriggered counts one alert whose condition evaluated true.
func RecordAlertTriggered(condition string) {
	AlertsTriggeredTotal.WithLabelValues(condition).Inc()
}

// RecordAlertSuppressed counts one notification suppressed by anti-fatigue.
func RecordAlertSuppressed() { AlertsSuppressedTotal.Inc() }

// EnqueueJob increments the enqueued jobs counter for the given type.
func EnqueueJob(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

// StartProcessingJob increments the processing gauge for the given type.
func StartProcessingJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Inc()
}

// CompleteJob marks a job complete by decrementing processing gauge and incrementing completed counter.
func CompleteJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsCompletedTotal.WithLabelValues(jobType).Inc()
}

// FailJob marks a job failed by decrementing processing gauge and incrementing failed counter.
func FailJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsFailedTotal.WithLabelValues(jobType).Inc()
}

// RecordJobFailureByCode breaks a job failure down by the domain error code
// that caused it, defaulting to "UNKNOWN" when code is blank.
func RecordJobFailureByCode(jobType, code string) {
	if code == "" {
		code = "UNKNOWN"
	}
	JobFailuresByCode.WithLabelValues(jobType, code).Inc()
}

var (
	appEnvMu sync.RWMutex
	appEnv   string
)

// SetAppEnv records the running environment so dev-only instrumentation can
// gate itself without threading config through every call site.
func SetAppEnv(env string) {
	appEnvMu.Lock()
	defer appEnvMu.Unlock()
	appEnv = env
}

// isDevEnv reports whether the process was configured with SetAppEnv("dev").
func isDevEnv() bool {
	appEnvMu.RLock()
	defer appEnvMu.RUnlock()
	return appEnv == "dev" || appEnv == "DEV" || appEnv == "development"
}
