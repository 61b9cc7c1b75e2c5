package telemetry

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/llm-meter/config"
)

func TestInitTracer_None(t *testing.T) {
	shutdown, err := InitTracer("llm-meter-test", &config.Config{OTELExporterType: "none"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/user/{id}/stats", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/user/{id}/stats", "404"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/user/alice/stats", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/user/bob/stats", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/user/{id}/stats", "404"))
	assert.Equal(t, before+2, after)
}

func TestMiddleware_UnmatchedPathsShareOneSeries(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {})

	before := testutil.CollectAndCount(httpRequestsTotal)
	for i := 0; i < 50; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", fmt.Sprintf("/scan/%d", i), nil))
	}

	assert.LessOrEqual(t, testutil.CollectAndCount(httpRequestsTotal), before+1)
	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", unmatchedRoute, "404")), 50.0)
}

func TestRecorders(t *testing.T) {
	RecordChatOutcome("free", "ok")
	assert.GreaterOrEqual(t, testutil.ToFloat64(chatRequestsTotal.WithLabelValues("free", "ok")), 1.0)

	prompt := testutil.ToFloat64(tokensTotal.WithLabelValues("pro", "prompt"))
	RecordUsage("pro", 1000, 2000, decimal.RequireFromString("0.005"), decimal.RequireFromString("0.0065"))
	assert.Equal(t, prompt+1000, testutil.ToFloat64(tokensTotal.WithLabelValues("pro", "prompt")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(revenueTotal.WithLabelValues("pro")), 0.0065)

	RecordUpstreamLatency("openai", 250*time.Millisecond)
	RecordTierChange("enterprise", "webhook")
	assert.GreaterOrEqual(t, testutil.ToFloat64(tierChangesTotal.WithLabelValues("enterprise", "webhook")), 1.0)
	RecordWebhookEvent("checkout.session.completed", "processed")
}

func TestMetricsHandler(t *testing.T) {
	RecordTierChange("pro", "api")

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "llm_meter_tier_changes_total"))
}
