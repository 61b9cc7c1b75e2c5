package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_meter_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_meter_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	chatRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_meter_chat_requests_total",
			Help: "Chat requests by outcome (ok, invalid, quota_exceeded, upstream_error, internal_error)",
		},
		[]string{"tier", "outcome"},
	)

	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_meter_tokens_total",
			Help: "Metered tokens by tier and kind",
		},
		[]string{"tier", "kind"},
	)

	providerCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_meter_provider_cost_usd_total",
			Help: "Upstream provider cost in USD",
		},
		[]string{"tier"},
	)

	revenueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_meter_revenue_usd_total",
			Help: "Amount charged to users in USD",
		},
		[]string{"tier"},
	)

	upstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_meter_upstream_latency_seconds",
			Help:    "Upstream completion latency",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	tierChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_meter_tier_changes_total",
			Help: "Tier changes by target tier and source (api, webhook)",
		},
		[]string{"tier", "source"},
	)

	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_meter_webhook_events_total",
			Help: "Payment webhook events by type and result",
		},
		[]string{"type", "result"},
	)
)

// unmatchedRoute labels requests no chi route matched, so scanned paths
// cannot grow the series set.
const unmatchedRoute = "unmatched"

// Middleware records request count and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		routePath := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				routePath = pattern
			}
		}

		httpRequestsTotal.WithLabelValues(r.Method, routePath, strconv.Itoa(ww.Status())).Inc()
		httpRequestDuration.WithLabelValues(r.Method, routePath).Observe(time.Since(start).Seconds())
	})
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func RecordChatOutcome(tier, outcome string) {
	chatRequestsTotal.WithLabelValues(tier, outcome).Inc()
}

// RecordUsage adds one metered request to the token and money counters.
func RecordUsage(tier string, promptTokens, completionTokens int64, cost, price decimal.Decimal) {
	tokensTotal.WithLabelValues(tier, "prompt").Add(float64(promptTokens))
	tokensTotal.WithLabelValues(tier, "completion").Add(float64(completionTokens))
	providerCostTotal.WithLabelValues(tier).Add(cost.InexactFloat64())
	revenueTotal.WithLabelValues(tier).Add(price.InexactFloat64())
}

// RecordUpstreamLatency is labelled by provider only. Model names come from
// clients and would make the series set unbounded.
func RecordUpstreamLatency(provider string, d time.Duration) {
	upstreamLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func RecordTierChange(tier, source string) {
	tierChangesTotal.WithLabelValues(tier, source).Inc()
}

func RecordWebhookEvent(eventType, result string) {
	webhookEventsTotal.WithLabelValues(eventType, result).Inc()
}
