// Package chat orchestrates metered chat requests and tier upgrades on top
// of the ledger and the metering engine.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-meter/internal/ledger"
	"github.com/vnmchuo/llm-meter/internal/metering"
	"github.com/vnmchuo/llm-meter/internal/provider"
	"github.com/vnmchuo/llm-meter/internal/telemetry"
	"github.com/vnmchuo/llm-meter/internal/tier"
)

// Upstream is the LLM client collaborator. proxy.Router implements it.
type Upstream interface {
	Complete(ctx context.Context, req *provider.Request) (*provider.Response, error)
	ListModels(ctx context.Context) ([]provider.Model, error)
}

// Defaults fill in generation parameters a request leaves out.
type Defaults struct {
	Model       string
	Temperature float64
	MaxTokens   int
	UserID      string
}

type Request struct {
	UserID      string             `json:"userId"`
	Messages    []provider.Message `json:"messages"`
	Model       string             `json:"model,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	MaxTokens   *int               `json:"maxTokens,omitempty"`
}

type Result struct {
	ID          string               `json:"id"`
	Model       string               `json:"model"`
	Message     provider.Message     `json:"message"`
	Usage       metering.Usage       `json:"usage"`
	Cost        decimal.Decimal      `json:"cost"`
	Price       decimal.Decimal      `json:"price"`
	Profit      decimal.Decimal      `json:"profit"`
	QuotaStatus metering.QuotaStatus `json:"quota_status"`
}

type UserStats struct {
	UserID      string               `json:"user_id"`
	Tier        string               `json:"tier"`
	QuotaStatus metering.QuotaStatus `json:"quota_status"`
	Stats       ledger.Stats         `json:"stats"`
}

type Service struct {
	ledger   *ledger.Ledger
	engine   *metering.Engine
	catalog  *tier.Catalog
	upstream Upstream
	defaults Defaults
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewService(l *ledger.Ledger, engine *metering.Engine, catalog *tier.Catalog, upstream Upstream, defaults Defaults, logger *zap.Logger, tracer trace.Tracer) *Service {
	return &Service{
		ledger:   l,
		engine:   engine,
		catalog:  catalog,
		upstream: upstream,
		defaults: defaults,
		logger:   logger,
		tracer:   tracer,
	}
}

// Chat runs one metered request. The user's ledger lock is held from the
// pre-flight quota check until usage is recorded, so concurrent requests
// from one user never pass the same stale check.
func (s *Service) Chat(ctx context.Context, req *Request) (*Result, error) {
	if err := validate(req); err != nil {
		telemetry.RecordChatOutcome("", "invalid")
		return nil, err
	}

	userID := req.UserID
	if userID == "" {
		userID = s.defaults.UserID
	}
	upstreamReq := s.upstreamRequest(req, userID)

	ctx, span := s.tracer.Start(ctx, "chat.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("request_id", upstreamReq.RequestID),
		attribute.String("model", upstreamReq.Model),
	)

	var result *Result
	var tierID string
	err := s.ledger.WithLock(ctx, userID, func(e *ledger.Entry) error {
		acct, err := e.Account(ctx)
		if err != nil {
			return err
		}
		tierID = acct.Tier

		status := s.engine.CheckQuota(acct.PeriodTokens, acct.Tier)
		if !status.CanUse {
			return &QuotaExceededError{Status: status}
		}

		start := time.Now()
		resp, err := s.upstream.Complete(ctx, upstreamReq)
		if err != nil {
			return &UpstreamError{Err: err}
		}
		telemetry.RecordUpstreamLatency(resp.Provider, time.Since(start))

		usage := metering.Usage{
			PromptTokens:     int64(resp.PromptTokens),
			CompletionTokens: int64(resp.CompletionTokens),
			TotalTokens:      int64(resp.TotalTokens),
		}
		usage.TotalTokens = usage.Total()

		cost := s.engine.ProviderCost(usage)
		price := s.engine.UserPrice(usage, acct.Tier)
		profit := s.engine.Profit(usage, acct.Tier)

		model := resp.Model
		if model == "" {
			model = upstreamReq.Model
		}
		tx, err := e.RecordUsage(ctx, model, usage, cost, price, profit)
		if err != nil {
			return err
		}

		id := resp.ID
		if id == "" {
			id = tx.ID
		}
		result = &Result{
			ID:          id,
			Model:       model,
			Message:     provider.Message{Role: "assistant", Content: resp.Content},
			Usage:       usage,
			Cost:        cost,
			Price:       price,
			Profit:      profit,
			QuotaStatus: s.engine.CheckQuota(acct.PeriodTokens+usage.TotalTokens, acct.Tier),
		}
		return nil
	})
	if err != nil {
		s.recordFailure(span, userID, tierID, err)
		return nil, err
	}

	telemetry.RecordChatOutcome(tierID, "ok")
	telemetry.RecordUsage(tierID, result.Usage.PromptTokens, result.Usage.CompletionTokens, result.Cost, result.Price)
	span.SetAttributes(attribute.Int64("total_tokens", result.Usage.TotalTokens))
	s.logger.Info("chat request metered",
		zap.String("user_id", userID),
		zap.String("tier", tierID),
		zap.String("model", result.Model),
		zap.Int64("tokens", result.Usage.TotalTokens),
		zap.String("cost", result.Cost.String()),
		zap.String("price", result.Price.String()),
		zap.Int64("remaining", result.QuotaStatus.Remaining),
	)
	return result, nil
}

func (s *Service) recordFailure(span trace.Span, userID, tierID string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var quotaErr *QuotaExceededError
	var upstreamErr *UpstreamError
	switch {
	case errors.As(err, &quotaErr):
		telemetry.RecordChatOutcome(tierID, "quota_exceeded")
		s.logger.Info("chat request rejected over quota",
			zap.String("user_id", userID),
			zap.String("tier", tierID),
			zap.Int64("period_usage", quotaErr.Status.PeriodUsage),
			zap.Int64("tier_limit", quotaErr.Status.TierLimit),
		)
	case errors.As(err, &upstreamErr):
		telemetry.RecordChatOutcome(tierID, "upstream_error")
		s.logger.Warn("upstream call failed", zap.String("user_id", userID), zap.Error(upstreamErr.Err))
	default:
		telemetry.RecordChatOutcome(tierID, "internal_error")
		s.logger.Error("chat request failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func validate(req *Request) error {
	if req == nil || len(req.Messages) == 0 {
		return invalid("messages array is required")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return invalid("message %d has invalid role %q", i, m.Role)
		}
		if m.Content == "" {
			return invalid("message %d has empty content", i)
		}
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return invalid("max_tokens must be positive")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return invalid("temperature must be between 0 and 2")
	}
	return nil
}

func (s *Service) upstreamRequest(req *Request, userID string) *provider.Request {
	out := &provider.Request{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   s.defaults.MaxTokens,
		Temperature: s.defaults.Temperature,
		UserID:      userID,
		RequestID:   uuid.New().String(),
	}
	if out.Model == "" {
		out.Model = s.defaults.Model
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	return out
}

// Stats reports the user's tier, current quota and history aggregates.
func (s *Service) Stats(ctx context.Context, userID string) (*UserStats, error) {
	acct, stats, err := s.ledger.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UserStats{
		UserID:      acct.UserID,
		Tier:        acct.Tier,
		QuotaStatus: s.engine.CheckQuota(acct.PeriodTokens, acct.Tier),
		Stats:       stats,
	}, nil
}

// Upgrade moves an existing user to tierID and starts a new billing period.
// Payment is verified elsewhere.
func (s *Service) Upgrade(ctx context.Context, userID, tierID string) (tier.Definition, error) {
	def, err := s.catalog.Lookup(tierID)
	if err != nil {
		return tier.Definition{}, fmt.Errorf("%w: %s", err, tierID)
	}
	if err := s.ledger.SetTier(ctx, userID, def.ID); err != nil {
		return tier.Definition{}, err
	}
	telemetry.RecordTierChange(def.ID, "api")
	s.logger.Info("tier upgraded", zap.String("user_id", userID), zap.String("tier", def.ID))
	return def, nil
}

func (s *Service) Pricing() []tier.Definition {
	return s.catalog.List()
}

func (s *Service) Models(ctx context.Context) ([]provider.Model, error) {
	models, err := s.upstream.ListModels(ctx)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	return models, nil
}
