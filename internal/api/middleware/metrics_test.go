package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/donaldgifford/ebay-mcp/internal/api/middleware"
	"github.com/donaldgifford/ebay-mcp/internal/metrics"
)

func histogramCount(t *testing.T, labels ...string) uint64 {
	t.Helper()
	observer, err := metrics.HTTPRequestDuration.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)
	var m dto.Metric
	require.NoError(t, observer.(prometheus.Metric).Write(&m))
	return m.GetHistogram().GetSampleCount()
}

// Metric collectors are process globals, so these tests do not run in parallel.
func TestMetrics_RecordsRouteTemplate(t *testing.T) {
	tests := []struct {
		name   string
		method string
		route  string
		target string
		status int
	}{
		{name: "quota read", method: http.MethodGet, route: "/api/v1/quota", target: "/api/v1/quota", status: http.StatusOK},
		{name: "consent lookup", method: http.MethodGet, route: "/api/v1/consent/:user", target: "/api/v1/consent/alice", status: http.StatusNotFound},
		{name: "cache invalidate", method: http.MethodDelete, route: "/api/v1/cache", target: "/api/v1/cache?prefix=rest:", status: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.Use(mw.Metrics())
			e.Add(tt.method, tt.route, func(c echo.Context) error { return c.NoContent(tt.status) })

			status := strconv.Itoa(tt.status)
			counter := metrics.HTTPRequestsTotal.WithLabelValues(tt.method, tt.route, status)
			beforeCount := testutil.ToFloat64(counter)
			beforeSamples := histogramCount(t, tt.method, tt.route, status)

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, http.NoBody))

			assert.Equal(t, tt.status, rec.Code)
			assert.InDelta(t, beforeCount+1, testutil.ToFloat64(counter), 0.0001)
			assert.Equal(t, beforeSamples+1, histogramCount(t, tt.method, tt.route, status))
		})
	}
}

func TestMetrics_HandlerErrorStatus(t *testing.T) {
	e := echo.New()
	e.Use(mw.Metrics())
	e.GET("/api/v1/cache", func(echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "shared cache disabled")
	})

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/cache", "503")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache", http.NoBody))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.InDelta(t, before+1, testutil.ToFloat64(counter), 0.0001)
}

func TestMetrics_ProbesOnlyMoveGauges(t *testing.T) {
	e := echo.New()
	e.Use(mw.Metrics())
	healthy := true
	probe := func(c echo.Context) error {
		if healthy {
			return c.NoContent(http.StatusOK)
		}
		return c.NoContent(http.StatusServiceUnavailable)
	}
	e.GET("/healthz", probe)
	e.GET("/readyz", probe)

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/readyz", "200")
	before := testutil.ToFloat64(counter)

	hit := func(path string) {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	hit("/healthz")
	hit("/readyz")
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.HealthzUp), 0.0001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.ReadyzUp), 0.0001)

	healthy = false
	hit("/readyz")
	assert.InDelta(t, 0.0, testutil.ToFloat64(metrics.ReadyzUp), 0.0001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.HealthzUp), 0.0001)

	assert.InDelta(t, before, testutil.ToFloat64(counter), 0.0001)
}
