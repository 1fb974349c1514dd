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
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	opDurationBuckets   = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets     = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Workflow metrics
	WorkflowInitiationsTotal *prometheus.CounterVec
	WorkflowOutcomesTotal    *prometheus.CounterVec
	WorkflowActiveInstances  *prometheus.GaugeVec
	WorkflowExpirationsTotal *prometheus.CounterVec
	StepCompletionsTotal     *prometheus.CounterVec
	StepDelegationsTotal     *prometheus.CounterVec
	StepDuration             *prometheus.HistogramVec

	// Signature metrics
	SignatureCreationsTotal     *prometheus.CounterVec
	SignatureInvalidationsTotal prometheus.Counter
	SignatureFailuresTotal      *prometheus.CounterVec

	// Audit metrics
	AuditAppendsTotal       *prometheus.CounterVec
	AuditChainVerifications *prometheus.CounterVec

	// Case metrics
	CaseOpensTotal       *prometheus.CounterVec
	CaseTransitionsTotal *prometheus.CounterVec

	// Cache metrics
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter
	IdempotencyReplaysTotal    prometheus.Counter

	// System metrics
	TemplatesLoaded prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qms_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qms_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qms_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qms_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Workflows
		WorkflowInitiationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qms_workflow_initiations_total",
			Help: "Total number of workflow initiations.",
		}, []string{"target_type"}),
		WorkflowOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qms_workflow_outcomes_total",
			Help: "Total number of workflows reaching a terminal status.",
		}, []string{"target_type", "outcome"}),
		WorkflowActiveInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qms_workflow_active_instances",
			Help: "Number of active workflow instances.",
		}, []string{"target_type"}),
		WorkflowExpirationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qms_workflow_expirations_total",
			Help: "Total number of workflows marked expired.",
		}, []string{"target_type"}),
		StepCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qms_step_completions_total",
			Help: "Total number of workflow step completions.",
		}, []string{"target_type", "action"}),
		StepDelegationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qms_step_delegations_total",
			Help: "Total number of workflow step delegations.",
		}, []string{"target_type"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qms_step_duration_seconds",
			Help:    "Time from step activation to completion in seconds.",
			Buckets: []float64{60, 3600, 86400, 259200, 604800, 1209600},
		}, []string{"target_type"}),

		// Signatures
		SignatureCreationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qms_signature_creations_total",
			Help: "Total number of electronic signatures created.",
		}, []string{"method"}),
		SignatureInvalidationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qms_signature_invalidations_total",
			Help: "Total number of signatures invalidated.",
		}),
		SignatureFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qms_signature_failures_total",
			Help: "Total number of rejected signature attempts.",
		}, []string{"reason"}),

		// Audit
		AuditAppendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qms_audit_appends_total",
			Help: "Total number of audit records appended.",
		}, []string{"entity_type"}),
		AuditChainVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qms_audit_chain_verifications_total",
			Help: "Total number of audit chain verification runs.",
		}, []string{"result"}),

		// Cases
		CaseOpensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qms_case_opens_total",
			Help: "Total number of cases opened.",
		}, []string{"kind", "severity"}),
		CaseTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qms_case_transitions_total",
			Help: "Total number of case status transitions.",
		}, []string{"kind", "to"}),

		// Cache
		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qms_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qms_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),
		IdempotencyReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qms_idempotency_replays_total",
			Help: "Total requests answered from the idempotency store.",
		}),

		// System
		TemplatesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qms_templates_loaded",
			Help: "Number of active workflow templates.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Workflows
		m.WorkflowInitiationsTotal,
		m.WorkflowOutcomesTotal,
		m.WorkflowActiveInstances,
		m.WorkflowExpirationsTotal,
		m.StepCompletionsTotal,
		m.StepDelegationsTotal,
		m.StepDuration,
		// Signatures
		m.SignatureCreationsTotal,
		m.SignatureInvalidationsTotal,
		m.SignatureFailuresTotal,
		// Audit
		m.AuditAppendsTotal,
		m.AuditChainVerifications,
		// Cases
		m.CaseOpensTotal,
		m.CaseTransitionsTotal,
		// Cache
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		m.IdempotencyReplaysTotal,
		// System
		m.TemplatesLoaded,
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

// RecordWorkflowInitiation records a workflow initiation.
func (m *Metrics) RecordWorkflowInitiation(targetType string) {
	m.WorkflowInitiationsTotal.WithLabelValues(targetType).Inc()
	m.WorkflowActiveInstances.WithLabelValues(targetType).Inc()
}

// RecordWorkflowOutcome records a workflow reaching a terminal status.
func (m *Metrics) RecordWorkflowOutcome(targetType, outcome string) {
	m.WorkflowOutcomesTotal.WithLabelValues(targetType, outcome).Inc()
	m.WorkflowActiveInstances.WithLabelValues(targetType).Dec()
}

// RecordWorkflowExpiration records a workflow marked expired.
func (m *Metrics) RecordWorkflowExpiration(targetType string) {
	m.WorkflowExpirationsTotal.WithLabelValues(targetType).Inc()
}

// RecordStepCompletion records a completed step and how long it was active.
func (m *Metrics) RecordStepCompletion(targetType, action string, activeFor time.Duration) {
	m.StepCompletionsTotal.WithLabelValues(targetType, action).Inc()
	if activeFor > 0 {
		m.StepDuration.WithLabelValues(targetType).Observe(activeFor.Seconds())
	}
}

// RecordStepDelegation records a step delegation.
func (m *Metrics) RecordStepDelegation(targetType string) {
	m.StepDelegationsTotal.WithLabelValues(targetType).Inc()
}

// RecordSignatureCreation records a created signature by method.
func (m *Metrics) RecordSignatureCreation(method string) {
	m.SignatureCreationsTotal.WithLabelValues(method).Inc()
}

// RecordSignatureInvalidation records an invalidated signature.
func (m *Metrics) RecordSignatureInvalidation() {
	m.SignatureInvalidationsTotal.Inc()
}

// RecordSignatureFailure records a rejected signature attempt.
func (m *Metrics) RecordSignatureFailure(reason string) {
	m.SignatureFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordAuditAppend records an appended audit record.
func (m *Metrics) RecordAuditAppend(entityType string) {
	m.AuditAppendsTotal.WithLabelValues(entityType).Inc()
}

// RecordAuditChainVerification records a chain verification run.
func (m *Metrics) RecordAuditChainVerification(valid bool) {
	result := "valid"
	if !valid {
		result = "broken"
	}
	m.AuditChainVerifications.WithLabelValues(result).Inc()
}

// RecordCaseOpen records an opened case.
func (m *Metrics) RecordCaseOpen(kind, severity string) {
	m.CaseOpensTotal.WithLabelValues(kind, severity).Inc()
}

// RecordCaseTransition records a case status transition.
func (m *Metrics) RecordCaseTransition(kind, to string) {
	m.CaseTransitionsTotal.WithLabelValues(kind, to).Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	m.CapabilityCacheMissesTotal.Inc()
}

// RecordIdempotencyReplay records a request served from the idempotency store.
func (m *Metrics) RecordIdempotencyReplay() {
	m.IdempotencyReplaysTotal.Inc()
}

// SetTemplatesLoaded sets the number of active workflow templates.
func (m *Metrics) SetTemplatesLoaded(count float64) {
	m.TemplatesLoaded.Set(count)
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
