package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Role lifecycle metrics
	RoleChangesTotal     *prometheus.CounterVec
	SyncOperationsTotal  *prometheus.CounterVec
	SyncDuration         *prometheus.HistogramVec
	SnapshotUpdatesTotal *prometheus.CounterVec

	// Permission cache metrics
	PermissionCacheHitsTotal   prometheus.Counter
	PermissionCacheMissesTotal prometheus.Counter
	PermissionCacheEntries     prometheus.Gauge

	// Identity provider metrics
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estateloop_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "estateloop_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		RoleChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estateloop_role_changes_total",
				Help: "Total number of role change requests",
			},
			[]string{"outcome"},
		),
		SyncOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estateloop_sync_operations_total",
				Help: "Total number of reconciliation passes",
			},
			[]string{"direction", "outcome"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "estateloop_sync_duration_seconds",
				Help:    "Reconciliation pass duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction"},
		),
		SnapshotUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estateloop_snapshot_updates_total",
				Help: "Total number of listing author snapshot fan-outs",
			},
			[]string{"outcome"},
		),

		PermissionCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "estateloop_permission_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
		),
		PermissionCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "estateloop_permission_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
		),
		PermissionCacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "estateloop_permission_cache_entries",
				Help: "Current number of cached permission sets",
			},
		),

		ProviderRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estateloop_identity_provider_requests_total",
				Help: "Total number of identity provider API calls",
			},
			[]string{"operation", "status"},
		),
		ProviderRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "estateloop_identity_provider_request_duration_seconds",
				Help:    "Identity provider API call duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "estateloop_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "estateloop_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RoleChangesTotal,
		m.SyncOperationsTotal,
		m.SyncDuration,
		m.SnapshotUpdatesTotal,
		m.PermissionCacheHitsTotal,
		m.PermissionCacheMissesTotal,
		m.PermissionCacheEntries,
		m.ProviderRequestsTotal,
		m.ProviderRequestDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// MetricsHandler returns the /metrics endpoint handler for a registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
