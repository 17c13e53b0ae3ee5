package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the orchestrator.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Detection metrics
	DetectionsTotal      *prometheus.CounterVec
	DetectionDuration    prometheus.Histogram
	DetectionCacheHits   prometheus.Counter
	DetectionCacheMisses prometheus.Counter

	// Deployment metrics
	DeploymentsSubmittedTotal prometheus.Counter
	DeploymentErrorsTotal     *prometheus.CounterVec

	// Reconciliation metrics
	PollsTotal        prometheus.Counter
	PollErrorsTotal   prometheus.Counter
	ConvergenceTotal  *prometheus.CounterVec
	AccountsConverged *prometheus.CounterVec

	// Self-registration metrics
	SelfRegistrationsTotal *prometheus.CounterVec

	// Catalog metrics
	CatalogSyncTotal      prometheus.Counter
	CatalogSyncedAccounts prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics. Passing nil uses
// a fresh registry, which keeps tests isolated.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgdeploy_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orgdeploy_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		DetectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgdeploy_detections_total",
				Help: "Organization structure detections by outcome",
			},
			[]string{"outcome"},
		),
		DetectionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orgdeploy_detection_duration_seconds",
				Help:    "Duration of organization structure detection",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		DetectionCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orgdeploy_detection_cache_hits_total",
				Help: "Snapshot cache hits",
			},
		),
		DetectionCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orgdeploy_detection_cache_misses_total",
				Help: "Snapshot cache misses",
			},
		),

		DeploymentsSubmittedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orgdeploy_deployments_submitted_total",
				Help: "Stack set deployments submitted",
			},
		),
		DeploymentErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgdeploy_deployment_errors_total",
				Help: "Deployment submission failures by category",
			},
			[]string{"category"},
		),

		PollsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orgdeploy_status_polls_total",
				Help: "Deployment status polls issued",
			},
		),
		PollErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orgdeploy_status_poll_errors_total",
				Help: "Deployment status polls that failed",
			},
		),
		ConvergenceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgdeploy_convergence_total",
				Help: "Deployment operations reaching a terminal aggregate state",
			},
			[]string{"state"},
		),
		AccountsConverged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgdeploy_accounts_converged_total",
				Help: "Per-account terminal deployment outcomes",
			},
			[]string{"status"},
		),

		SelfRegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgdeploy_self_registrations_total",
				Help: "Self-registration announcements by outcome",
			},
			[]string{"outcome"},
		),

		CatalogSyncTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orgdeploy_catalog_sync_total",
				Help: "Account catalog sync invocations",
			},
		),
		CatalogSyncedAccounts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orgdeploy_catalog_synced_accounts_total",
				Help: "Accounts upserted into the catalog by sync",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DetectionsTotal,
		m.DetectionDuration,
		m.DetectionCacheHits,
		m.DetectionCacheMisses,
		m.DeploymentsSubmittedTotal,
		m.DeploymentErrorsTotal,
		m.PollsTotal,
		m.PollErrorsTotal,
		m.ConvergenceTotal,
		m.AccountsConverged,
		m.SelfRegistrationsTotal,
		m.CatalogSyncTotal,
		m.CatalogSyncedAccounts,
	)

	return m
}

// Handler returns the /metrics handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an http.Handler with request count and duration
// metrics. The path label is the route template, not the raw URL, to keep
// cardinality bounded.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
