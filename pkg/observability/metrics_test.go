package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.DeploymentsSubmittedTotal.Inc()
	m.DeploymentErrorsTotal.WithLabelValues("Throttled").Inc()
	m.ConvergenceTotal.WithLabelValues("CONVERGED_SUCCESS").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.DeploymentsSubmittedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DeploymentErrorsTotal.WithLabelValues("Throttled")))
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	m := NewMetrics(nil)
	m.PollsTotal.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "orgdeploy_status_polls_total 1"))
}

func TestInstrumentHandler(t *testing.T) {
	m := NewMetrics(nil)

	h := m.InstrumentHandler("/api/v1/organizations/detect", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/organizations/detect", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/organizations/detect", "202"))
	assert.Equal(t, float64(1), count)
}
