package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Server
	Port               string   // default: 8080
	CORSAllowedOrigins []string // default: "*"

	// Ledger storage
	LedgerStore string // "memory" or "postgres", default: memory
	PostgresDSN string

	// Cache
	RedisAddr string

	// Upstream
	UpstreamProvider string // "openai", "anthropic" or "gemini"
	UpstreamBaseURL  string // default: https://api.deepseek.com/v1
	UpstreamAPIKey   string
	AnthropicAPIKey  string
	GeminiAPIKey     string
	UpstreamTimeout  time.Duration // default: 60s

	// Chat defaults
	DefaultModel       string  // default: deepseek-chat
	DefaultTemperature float64 // default: 0.7
	DefaultMaxTokens   int     // default: 1000
	DefaultUserID      string  // default: demo-user

	// Pricing
	PriceInputPerToken  decimal.Decimal // default: 0.000001
	PriceOutputPerToken decimal.Decimal // default: 0.000002
	ProfitMargin        decimal.Decimal // default: 0.30
	MinimumCharge       decimal.Decimal // default: 0.01

	// Payments
	StripeSecretKey       string
	StripePublishableKey  string
	StripeWebhookSecret   string
	StripePricePro        string
	StripePriceEnterprise string

	// Rate Limiting
	RateLimitRequests int           // per client per window, default: 100
	RateLimitWindow   time.Duration // default: 15m

	// Observability
	OTELExporterType     string // "stdout", "otlp" or "none"
	OTELExporterEndpoint string // default: "localhost:4317"
	LogLevel             string // default: info
	LogFormat            string // "json" or "console"

	RunSeed bool
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		CORSAllowedOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		LedgerStore:           getEnv("LEDGER_STORE", "memory"),
		PostgresDSN:           os.Getenv("POSTGRES_DSN"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		UpstreamProvider:      getEnv("UPSTREAM_PROVIDER", "openai"),
		UpstreamBaseURL:       getEnv("UPSTREAM_BASE_URL", "https://api.deepseek.com/v1"),
		UpstreamAPIKey:        os.Getenv("UPSTREAM_API_KEY"),
		AnthropicAPIKey:       os.Getenv("ANTHROPIC_API_KEY"),
		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		DefaultModel:          getEnv("DEFAULT_MODEL", "deepseek-chat"),
		DefaultUserID:         getEnv("DEFAULT_USER_ID", "demo-user"),
		StripeSecretKey:       os.Getenv("STRIPE_SECRET_KEY"),
		StripePublishableKey:  os.Getenv("STRIPE_PUBLISHABLE_KEY"),
		StripeWebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripePricePro:        os.Getenv("STRIPE_PRICE_PRO"),
		StripePriceEnterprise: os.Getenv("STRIPE_PRICE_ENTERPRISE"),
		OTELExporterType:      getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint:  getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.UpstreamTimeout, err = parseDuration("UPSTREAM_TIMEOUT", "60s"); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = parseDuration("RATE_LIMIT_WINDOW", "15m"); err != nil {
		return nil, err
	}
	if cfg.DefaultMaxTokens, err = parseInt("DEFAULT_MAX_TOKENS", "1000"); err != nil {
		return nil, err
	}
	if cfg.RateLimitRequests, err = parseInt("RATE_LIMIT_REQUESTS", "100"); err != nil {
		return nil, err
	}

	tempStr := getEnv("DEFAULT_TEMPERATURE", "0.7")
	cfg.DefaultTemperature, err = strconv.ParseFloat(tempStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TEMPERATURE: %w", err)
	}

	if cfg.PriceInputPerToken, err = parseDecimal("PRICE_INPUT_PER_TOKEN", "0.000001"); err != nil {
		return nil, err
	}
	if cfg.PriceOutputPerToken, err = parseDecimal("PRICE_OUTPUT_PER_TOKEN", "0.000002"); err != nil {
		return nil, err
	}
	if cfg.ProfitMargin, err = parseDecimal("PROFIT_MARGIN", "0.30"); err != nil {
		return nil, err
	}
	if cfg.MinimumCharge, err = parseDecimal("MINIMUM_CHARGE", "0.01"); err != nil {
		return nil, err
	}

	if cfg.RunSeed, err = strconv.ParseBool(getEnv("RUN_SEED", "false")); err != nil {
		return nil, fmt.Errorf("invalid RUN_SEED: %w", err)
	}

	return cfg, nil
}

// Validate checks what the HTTP server needs on top of Load. The CLI skips
// it so pricing can be previewed without Redis or Postgres.
func (c *Config) Validate() error {
	switch c.LedgerStore {
	case "memory":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when LEDGER_STORE=postgres")
		}
	default:
		return fmt.Errorf("invalid LEDGER_STORE %q", c.LedgerStore)
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	switch c.UpstreamProvider {
	case "openai", "anthropic", "gemini":
	default:
		return fmt.Errorf("invalid UPSTREAM_PROVIDER %q", c.UpstreamProvider)
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive")
	}
	if c.ProfitMargin.IsNegative() || c.MinimumCharge.IsNegative() {
		return fmt.Errorf("PROFIT_MARGIN and MINIMUM_CHARGE must not be negative")
	}
	return nil
}

// TierPrices maps configured Stripe price ids to tier ids.
func (c *Config) TierPrices() map[string]string {
	prices := make(map[string]string)
	if c.StripePricePro != "" {
		prices[c.StripePricePro] = "pro"
	}
	if c.StripePriceEnterprise != "" {
		prices[c.StripePriceEnterprise] = "enterprise"
	}
	return prices
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func parseInt(key, fallback string) (int, error) {
	n, err := strconv.Atoi(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseDecimal(key, fallback string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
