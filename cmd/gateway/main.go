package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-meter/config"
	"github.com/vnmchuo/llm-meter/internal/chat"
	"github.com/vnmchuo/llm-meter/internal/ledger"
	"github.com/vnmchuo/llm-meter/internal/logging"
	"github.com/vnmchuo/llm-meter/internal/metering"
	"github.com/vnmchuo/llm-meter/internal/payment"
	"github.com/vnmchuo/llm-meter/internal/provider"
	"github.com/vnmchuo/llm-meter/internal/provider/anthropic"
	"github.com/vnmchuo/llm-meter/internal/provider/gemini"
	"github.com/vnmchuo/llm-meter/internal/provider/openai"
	"github.com/vnmchuo/llm-meter/internal/proxy"
	"github.com/vnmchuo/llm-meter/internal/seeder"
	"github.com/vnmchuo/llm-meter/internal/telemetry"
	"github.com/vnmchuo/llm-meter/internal/tier"
	"github.com/vnmchuo/llm-meter/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("llm-meter", cfg)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer()

	ctx := context.Background()

	// 3. Ledger storage
	catalog := tier.DefaultCatalog()
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open ledger store", zap.Error(err))
	}
	defer closeStore()
	accounts := ledger.New(store, catalog)

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to ping redis", zap.Error(err))
	}
	logger.Info("redis connected", zap.String("addr", cfg.RedisAddr))

	// 5. Upstream providers
	router := proxy.NewRouter(buildProviders(cfg))

	// 6. Metering + orchestration
	engine := metering.NewEngine(catalog, metering.Pricing{
		InputRate:     cfg.PriceInputPerToken,
		OutputRate:    cfg.PriceOutputPerToken,
		ProfitMargin:  cfg.ProfitMargin,
		MinimumCharge: cfg.MinimumCharge,
	})
	tracer := otel.GetTracerProvider().Tracer("llm-meter")
	chatService := chat.NewService(accounts, engine, catalog, router, chat.Defaults{
		Model:       cfg.DefaultModel,
		Temperature: cfg.DefaultTemperature,
		MaxTokens:   cfg.DefaultMaxTokens,
		UserID:      cfg.DefaultUserID,
	}, logger, tracer)
	handler := proxy.NewHandler(chatService, logger)

	// 7. Payments
	tierPrices := cfg.TierPrices()
	stripeProvider := payment.NewStripeProvider(payment.StripeConfig{
		SecretKey:      cfg.StripeSecretKey,
		PublishableKey: cfg.StripePublishableKey,
		WebhookSecret:  cfg.StripeWebhookSecret,
	}, nil)
	webhooks := payment.NewWebhookProcessor(accounts, catalog, tierPrices, rdb, logger)
	paymentHandler := payment.NewHandler(stripeProvider, webhooks, accounts, tierPrices, logger)

	// 8. Rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.RateLimitRequests, cfg.RateLimitWindow)

	// 9. Seed demo account if RUN_SEED=true
	if cfg.RunSeed {
		if err := seeder.SeedDemoAccount(ctx, accounts, cfg.DefaultUserID, "", logger); err != nil {
			logger.Error("seeding failed", zap.Error(err))
		}
	}

	// 10. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(telemetry.Middleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Stripe-Signature", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"llm-meter"}`))
	})
	r.Handle("/metrics", telemetry.MetricsHandler())

	r.Route("/api", func(r chi.Router) {
		// Stripe retries webhooks on its own schedule; only client calls are limited.
		r.Route("/stripe", paymentHandler.Routes)

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			handler.Routes(r)
		})
	})

	// 11. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("llm-meter starting", zap.String("port", cfg.Port), zap.String("ledger_store", cfg.LedgerStore))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}

// openStore returns the configured ledger store and a close func.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledger.Store, func(), error) {
	if cfg.LedgerStore != "postgres" {
		logger.Info("using in-memory ledger store")
		return ledger.NewMemoryStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	store := ledger.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("postgres ledger store connected")
	return store, pool.Close, nil
}

// buildProviders puts the configured upstream first. Other adapters with a
// key configured are added as fallbacks.
func buildProviders(cfg *config.Config) []provider.Provider {
	deepseek := openai.New(openai.Config{
		APIKey:  cfg.UpstreamAPIKey,
		BaseURL: cfg.UpstreamBaseURL,
		Timeout: cfg.UpstreamTimeout,
	})
	claude := anthropic.New(cfg.AnthropicAPIKey, "", cfg.UpstreamTimeout)
	google := gemini.New(cfg.GeminiAPIKey, "", cfg.UpstreamTimeout)

	var primary provider.Provider
	switch cfg.UpstreamProvider {
	case "anthropic":
		primary = claude
	case "gemini":
		primary = google
	default:
		primary = deepseek
	}

	providers := []provider.Provider{primary}
	if primary != deepseek && cfg.UpstreamAPIKey != "" {
		providers = append(providers, deepseek)
	}
	if primary != claude && cfg.AnthropicAPIKey != "" {
		providers = append(providers, claude)
	}
	if primary != google && cfg.GeminiAPIKey != "" {
		providers = append(providers, google)
	}
	return providers
}
