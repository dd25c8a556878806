package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	stageDurationBuckets = []float64{60, 600, 3600, 21600, 86400, 172800, 345600}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Workflow metrics
	WorkflowStartsTotal      *prometheus.CounterVec
	ApprovalsTotal           *prometheus.CounterVec
	WorkflowCompletionsTotal *prometheus.CounterVec
	WorkflowExpiriesTotal    prometheus.Counter
	VersionConflictsTotal    prometheus.Counter
	StageResidenceDuration   *prometheus.HistogramVec

	// Throttle metrics
	ThrottleAllowedTotal  *prometheus.CounterVec
	ThrottleDeniedTotal   *prometheus.CounterVec
	ThrottleFailOpenTotal prometheus.Counter

	// Response cache metrics
	ResponseCacheHitsTotal   prometheus.Counter
	ResponseCacheMissesTotal prometheus.Counter
	ResponseCacheEntries     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qcflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qcflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qcflow_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qcflow_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Workflows
		WorkflowStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qcflow_workflow_starts_total",
			Help: "Total number of approval workflows started.",
		}, []string{"initial_stage"}),
		ApprovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qcflow_approvals_total",
			Help: "Total number of approval decisions recorded.",
		}, []string{"stage", "decision"}),
		WorkflowCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qcflow_workflow_completions_total",
			Help: "Total number of workflows reaching a terminal status.",
		}, []string{"final_status"}),
		WorkflowExpiriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qcflow_workflow_expiries_total",
			Help: "Total number of workflows expired by the sweeper.",
		}),
		VersionConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qcflow_version_conflicts_total",
			Help: "Total number of optimistic-lock conflicts on workflow writes.",
		}),
		StageResidenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qcflow_stage_residence_duration_seconds",
			Help:    "Time a workflow spent in a stage before a decision.",
			Buckets: stageDurationBuckets,
		}, []string{"stage"}),

		// Throttle
		ThrottleAllowedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qcflow_throttle_allowed_total",
			Help: "Total requests admitted by the rate limiter.",
		}, []string{"endpoint"}),
		ThrottleDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qcflow_throttle_denied_total",
			Help: "Total requests denied by the rate limiter.",
		}, []string{"endpoint"}),
		ThrottleFailOpenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qcflow_throttle_fail_open_total",
			Help: "Total requests admitted because the throttle counter failed.",
		}),

		// Response cache
		ResponseCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qcflow_response_cache_hits_total",
			Help: "Total response cache hits.",
		}),
		ResponseCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qcflow_response_cache_misses_total",
			Help: "Total response cache misses.",
		}),
		ResponseCacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qcflow_response_cache_entries",
			Help: "Entries currently in the response cache namespace.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Workflows
		m.WorkflowStartsTotal,
		m.ApprovalsTotal,
		m.WorkflowCompletionsTotal,
		m.WorkflowExpiriesTotal,
		m.VersionConflictsTotal,
		m.StageResidenceDuration,
		// Throttle
		m.ThrottleAllowedTotal,
		m.ThrottleDeniedTotal,
		m.ThrottleFailOpenTotal,
		// Response cache
		m.ResponseCacheHitsTotal,
		m.ResponseCacheMissesTotal,
		m.ResponseCacheEntries,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordWorkflowStart records a workflow start.
func (m *Metrics) RecordWorkflowStart(initialStage string) {
	m.WorkflowStartsTotal.WithLabelValues(initialStage).Inc()
}

// RecordApproval records one approval decision on a stage.
func (m *Metrics) RecordApproval(stage, decision string, residence time.Duration) {
	m.ApprovalsTotal.WithLabelValues(stage, decision).Inc()
	m.StageResidenceDuration.WithLabelValues(stage).Observe(residence.Seconds())
}

// RecordWorkflowCompletion records a workflow reaching a terminal status.
func (m *Metrics) RecordWorkflowCompletion(finalStatus string) {
	m.WorkflowCompletionsTotal.WithLabelValues(finalStatus).Inc()
}

// RecordWorkflowExpiries records a batch of sweeper expiries.
func (m *Metrics) RecordWorkflowExpiries(count int) {
	m.WorkflowExpiriesTotal.Add(float64(count))
}

// RecordVersionConflict records a lost optimistic-lock race.
func (m *Metrics) RecordVersionConflict() {
	m.VersionConflictsTotal.Inc()
}

// RecordThrottleVerdict records a rate limiter decision for an endpoint.
func (m *Metrics) RecordThrottleVerdict(endpoint string, allowed bool) {
	if allowed {
		m.ThrottleAllowedTotal.WithLabelValues(endpoint).Inc()
	} else {
		m.ThrottleDeniedTotal.WithLabelValues(endpoint).Inc()
	}
}

// RecordThrottleFailOpen records a request admitted on counter failure.
func (m *Metrics) RecordThrottleFailOpen() {
	m.ThrottleFailOpenTotal.Inc()
}

// RecordResponseCacheHit records a response cache hit.
func (m *Metrics) RecordResponseCacheHit() {
	m.ResponseCacheHitsTotal.Inc()
}

// RecordResponseCacheMiss records a response cache miss.
func (m *Metrics) RecordResponseCacheMiss() {
	m.ResponseCacheMissesTotal.Inc()
}

// SetResponseCacheEntries sets the cache population gauge.
func (m *Metrics) SetResponseCacheEntries(count float64) {
	m.ResponseCacheEntries.Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
