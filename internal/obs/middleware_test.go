package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-core/internal/obs"
)

func TestHTTPMetricsUseRoutePattern(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("storefront", nil, registry)

	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Get("/api/v1/orders/{orderId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/abc", nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/api/v1/orders/{orderId}", "404")))
	require.Equal(t, 1, testutil.CollectAndCount(metrics.ReqDur))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight))

	again := obs.NewHTTPMetrics("storefront", nil, registry)
	require.Same(t, metrics.ReqTotal, again.ReqTotal)
}

func TestRequestLoggerLevelsByStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.NewLogger(obs.LogConfig{Level: "debug", Service: "storefront", Out: &buf})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Cart-Session", "s-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "error", line["level"])
	require.Equal(t, "/boom", line["route"])
	require.Equal(t, "storefront", line["service"])
	require.Equal(t, "s-1", line["cart_session"])
	require.NotEmpty(t, line["request_id"])
	require.EqualValues(t, 502, line["status"])
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{0.05, 0.5}, obs.ParseBucketsCSV("0.05, x, -1, 0.5"))
	require.Nil(t, obs.ParseBucketsCSV(""))
}

func TestDomainMetricsNilSafe(t *testing.T) {
	require.NotPanics(t, func() { obs.Inc(nil, "a") })
	obs.MustRegisterDomainMetrics("storefront_test", prometheus.NewRegistry())
	obs.Inc(obs.CheckoutTotal, "card", "ok")
	require.Equal(t, 1.0, testutil.ToFloat64(obs.CheckoutTotal.WithLabelValues("card", "ok")))
}
