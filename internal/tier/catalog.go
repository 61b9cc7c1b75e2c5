// Package tier holds the static catalog of subscription tiers.
package tier

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrUnknownTier = errors.New("unknown tier")

const (
	Free       = "free"
	Pro        = "pro"
	Enterprise = "enterprise"
)

// Definition describes one subscription plan. MonthlyCost is what the plan
// itself costs per billing period, independent of per-request pricing.
type Definition struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	MonthlyTokens int64           `json:"monthly_tokens"`
	MonthlyCost   decimal.Decimal `json:"monthly_cost"`
	Features      []string        `json:"features"`
}

// Catalog is an immutable, ordered set of tiers. The first tier is the
// default assigned to new users and is never billed per call.
type Catalog struct {
	tiers []Definition
	index map[string]int
}

func NewCatalog(tiers ...Definition) *Catalog {
	c := &Catalog{
		tiers: make([]Definition, 0, len(tiers)),
		index: make(map[string]int, len(tiers)),
	}
	for _, t := range tiers {
		if _, dup := c.index[t.ID]; dup {
			continue
		}
		t.Features = append([]string(nil), t.Features...)
		c.index[t.ID] = len(c.tiers)
		c.tiers = append(c.tiers, t)
	}
	return c
}

// DefaultCatalog returns the free / pro / enterprise plans.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Definition{
			ID:            Free,
			Name:          "Free",
			MonthlyTokens: 10_000,
			MonthlyCost:   decimal.Zero,
			Features:      []string{"Basic AI Chat", "Standard Models"},
		},
		Definition{
			ID:            Pro,
			Name:          "Pro",
			MonthlyTokens: 100_000,
			MonthlyCost:   decimal.RequireFromString("9.99"),
			Features:      []string{"All AI Models", "Priority Access", "Advanced Features"},
		},
		Definition{
			ID:            Enterprise,
			Name:          "Enterprise",
			MonthlyTokens: 1_000_000,
			MonthlyCost:   decimal.RequireFromString("49.99"),
			Features:      []string{"Custom Models", "API Access", "Dedicated Support"},
		},
	)
}

// Lookup returns the tier with the given id or ErrUnknownTier.
func (c *Catalog) Lookup(id string) (Definition, error) {
	i, ok := c.index[id]
	if !ok {
		return Definition{}, ErrUnknownTier
	}
	return c.clone(i), nil
}

// List returns every tier in display order.
func (c *Catalog) List() []Definition {
	out := make([]Definition, len(c.tiers))
	for i := range c.tiers {
		out[i] = c.clone(i)
	}
	return out
}

// Default is the lowest tier, used for lazily created accounts.
func (c *Catalog) Default() Definition {
	if len(c.tiers) == 0 {
		return Definition{ID: Free, Name: "Free", MonthlyCost: decimal.Zero}
	}
	return c.clone(0)
}

// Limit is the monthly token allowance, or 0 for an unknown tier.
func (c *Catalog) Limit(id string) int64 {
	t, err := c.Lookup(id)
	if err != nil {
		return 0
	}
	return t.MonthlyTokens
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.index[id]
	return ok
}

func (c *Catalog) clone(i int) Definition {
	t := c.tiers[i]
	t.Features = append([]string(nil), t.Features...)
	return t
}
