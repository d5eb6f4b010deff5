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
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
	recordCountBuckets     = []float64{0, 10, 50, 100, 500, 1000, 5000}
)

// Metrics holds all Prometheus metric instruments for the server.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Upstream search metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState *prometheus.GaugeVec

	// List view metrics
	ViewLoadsTotal      *prometheus.CounterVec
	ViewLoadDuration    *prometheus.HistogramVec
	ViewRecordsLoaded   *prometheus.HistogramVec
	ViewOperationsTotal *prometheus.CounterVec
	ExportsTotal        *prometheus.CounterVec

	// Session metrics
	SessionsActive       prometheus.Gauge
	SessionRestoresTotal *prometheus.CounterVec
	SessionStoreErrors   *prometheus.CounterVec

	// System metrics
	DefinitionReloadTotal    *prometheus.CounterVec
	DefinitionsLoaded        prometheus.Gauge
	OpenAPIOperationsIndexed *prometheus.GaugeVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseview_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseview_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseview_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseview_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Upstream
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseview_backend_requests_total",
			Help: "Total number of upstream search requests.",
		}, []string{"service_id", "operation_id", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseview_backend_request_duration_seconds",
			Help:    "Upstream search request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"service_id"}),
		BackendCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "caseview_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"service_id"}),

		// List views
		ViewLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseview_view_loads_total",
			Help: "Total number of list loads by outcome.",
		}, []string{"page_id", "status"}),
		ViewLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseview_view_load_duration_seconds",
			Help:    "List load duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"page_id"}),
		ViewRecordsLoaded: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseview_view_records_loaded",
			Help:    "Number of records returned by a successful load.",
			Buckets: recordCountBuckets,
		}, []string{"page_id"}),
		ViewOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseview_view_operations_total",
			Help: "Total number of in-memory list operations.",
		}, []string{"page_id", "operation"}),
		ExportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseview_exports_total",
			Help: "Total number of export requests by outcome.",
		}, []string{"page_id", "format", "status"}),

		// Sessions
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "caseview_sessions_active",
			Help: "Number of live page controllers held in memory.",
		}),
		SessionRestoresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseview_session_restores_total",
			Help: "Controller acquisitions by origin (live, store, new).",
		}, []string{"origin"}),
		SessionStoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseview_session_store_errors_total",
			Help: "Session store failures by operation.",
		}, []string{"operation"}),

		// System
		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseview_definition_reload_total",
			Help: "Total definition reloads.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "caseview_definitions_loaded",
			Help: "Number of loaded page definitions.",
		}),
		OpenAPIOperationsIndexed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "caseview_openapi_operations_indexed",
			Help: "Number of indexed OpenAPI operations.",
		}, []string{"service_id"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Upstream
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		// List views
		m.ViewLoadsTotal,
		m.ViewLoadDuration,
		m.ViewRecordsLoaded,
		m.ViewOperationsTotal,
		m.ExportsTotal,
		// Sessions
		m.SessionsActive,
		m.SessionRestoresTotal,
		m.SessionStoreErrors,
		// System
		m.DefinitionReloadTotal,
		m.DefinitionsLoaded,
		m.OpenAPIOperationsIndexed,
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

// RecordBackendRequest records an upstream search request. status is the
// HTTP status, or 0 when no response was received.
func (m *Metrics) RecordBackendRequest(serviceID, operationID string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(serviceID, operationID, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(serviceID).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker state for a service.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(serviceID string, state float64) {
	m.BackendCircuitBreakerState.WithLabelValues(serviceID).Set(state)
}

// RecordViewLoad records the outcome of a list load. status is "ok",
// "failed", "rejected" or "superseded".
func (m *Metrics) RecordViewLoad(pageID, status string, duration time.Duration, records int) {
	m.ViewLoadsTotal.WithLabelValues(pageID, status).Inc()
	m.ViewLoadDuration.WithLabelValues(pageID).Observe(duration.Seconds())
	if status == "ok" {
		m.ViewRecordsLoaded.WithLabelValues(pageID).Observe(float64(records))
	}
}

// RecordViewOperation records a filter, sort, page or view change.
func (m *Metrics) RecordViewOperation(pageID, operation string) {
	m.ViewOperationsTotal.WithLabelValues(pageID, operation).Inc()
}

// RecordExport records an export request. status is "ok", "empty" or "error".
func (m *Metrics) RecordExport(pageID, format, status string) {
	m.ExportsTotal.WithLabelValues(pageID, format, status).Inc()
}

// SetSessionsActive sets the number of live controllers.
func (m *Metrics) SetSessionsActive(n int) {
	m.SessionsActive.Set(float64(n))
}

// RecordSessionRestore records where a controller came from.
func (m *Metrics) RecordSessionRestore(origin string) {
	m.SessionRestoresTotal.WithLabelValues(origin).Inc()
}

// RecordSessionStoreError records a failed session store operation.
func (m *Metrics) RecordSessionStoreError(operation string) {
	m.SessionStoreErrors.WithLabelValues(operation).Inc()
}

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded page definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// SetOpenAPIOperationsIndexed sets the number of indexed OpenAPI operations.
func (m *Metrics) SetOpenAPIOperationsIndexed(serviceID string, count float64) {
	m.OpenAPIOperationsIndexed.WithLabelValues(serviceID).Set(count)
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
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to "unmatched" so unknown paths cannot explode label
// cardinality.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return "unmatched"
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
