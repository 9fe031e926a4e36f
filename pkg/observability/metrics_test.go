package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RoleChangesTotal.WithLabelValues("success").Inc()
	m.SyncOperationsTotal.WithLabelValues("db_to_identity", "success").Inc()
	m.PermissionCacheHitsTotal.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RoleChangesTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PermissionCacheHitsTotal))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/roles/debug", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/roles/debug", "418"))
	assert.Equal(t, float64(1), count)
}

func TestMetricsHandlerServes(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
