// Package metering turns upstream token usage into provider cost, user
// price, profit and quota verdicts. Every function is pure.
package metering

import (
	"github.com/shopspring/decimal"

	"github.com/vnmchuo/llm-meter/internal/tier"
)

// Usage is the token accounting reported by the upstream for one request.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Total returns the upstream-reported total, or the sum of the parts when the
// upstream left it out.
func (u Usage) Total() int64 {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return nonNegative(u.PromptTokens) + nonNegative(u.CompletionTokens)
}

// Pricing holds the monetary constants. MinimumCharge is the smallest amount
// ever billed on a paid tier so no call produces an unpayable sub-cent charge.
type Pricing struct {
	InputRate     decimal.Decimal // per prompt token
	OutputRate    decimal.Decimal // per completion token
	ProfitMargin  decimal.Decimal // 0.30 = 30% markup over provider cost
	MinimumCharge decimal.Decimal
}

func DefaultPricing() Pricing {
	return Pricing{
		InputRate:     decimal.RequireFromString("0.000001"),
		OutputRate:    decimal.RequireFromString("0.000002"),
		ProfitMargin:  decimal.RequireFromString("0.30"),
		MinimumCharge: decimal.RequireFromString("0.01"),
	}
}

// QuotaStatus is the verdict of a pre-flight or post-call quota check.
type QuotaStatus struct {
	Tier        string `json:"tier"`
	PeriodUsage int64  `json:"period_usage"`
	TierLimit   int64  `json:"tier_limit"`
	Remaining   int64  `json:"remaining"`
	Exceeded    bool   `json:"exceeded"`
	CanUse      bool   `json:"can_use"`
}

type Engine struct {
	catalog *tier.Catalog
	pricing Pricing
}

func NewEngine(catalog *tier.Catalog, pricing Pricing) *Engine {
	return &Engine{catalog: catalog, pricing: pricing}
}

func (e *Engine) Pricing() Pricing { return e.pricing }

// ProviderCost is what the upstream charges the operator for usage.
func (e *Engine) ProviderCost(u Usage) decimal.Decimal {
	input := decimal.NewFromInt(nonNegative(u.PromptTokens)).Mul(e.pricing.InputRate)
	output := decimal.NewFromInt(nonNegative(u.CompletionTokens)).Mul(e.pricing.OutputRate)
	return input.Add(output)
}

// UserPrice is what the user is charged. The free tier is tracked but never
// billed per call.
func (e *Engine) UserPrice(u Usage, tierID string) decimal.Decimal {
	if tierID == e.catalog.Default().ID {
		return decimal.Zero
	}
	price := e.ProviderCost(u).Mul(decimal.NewFromInt(1).Add(e.pricing.ProfitMargin))
	return decimal.Max(price, e.pricing.MinimumCharge)
}

// Profit may be negative: free-tier calls are recorded as a loss.
func (e *Engine) Profit(u Usage, tierID string) decimal.Decimal {
	return e.UserPrice(u, tierID).Sub(e.ProviderCost(u))
}

// CheckQuota compares period usage against the tier allowance. Usage equal to
// the limit is still allowed; an unknown tier has a zero allowance.
func (e *Engine) CheckQuota(periodUsage int64, tierID string) QuotaStatus {
	limit := e.catalog.Limit(tierID)
	remaining := limit - periodUsage
	if remaining < 0 {
		remaining = 0
	}
	exceeded := periodUsage > limit
	return QuotaStatus{
		Tier:        tierID,
		PeriodUsage: periodUsage,
		TierLimit:   limit,
		Remaining:   remaining,
		Exceeded:    exceeded,
		CanUse:      !exceeded,
	}
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
