package seeder

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-meter/internal/ledger"
	"github.com/vnmchuo/llm-meter/internal/metering"
	"github.com/vnmchuo/llm-meter/internal/tier"
)

func newLedger() *ledger.Ledger {
	return ledger.New(ledger.NewMemoryStore(), tier.DefaultCatalog())
}

func TestSeedDemoAccount(t *testing.T) {
	ctx := context.Background()
	l := newLedger()

	require.NoError(t, SeedDemoAccount(ctx, l, "demo-user", "pro", zap.NewNop()))

	acct, err := l.Get(ctx, "demo-user")
	require.NoError(t, err)
	assert.Equal(t, "pro", acct.Tier)
	assert.Equal(t, DemoCustomerRef, acct.CustomerRef)

	found, err := l.FindByCustomer(ctx, DemoCustomerRef)
	require.NoError(t, err)
	assert.Equal(t, "demo-user", found.UserID)
}

func TestSeedDemoAccount_Idempotent(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	require.NoError(t, SeedDemoAccount(ctx, l, "demo-user", "pro", zap.NewNop()))

	_, err := l.RecordUsage(ctx, "demo-user", "deepseek-chat", metering.Usage{PromptTokens: 200, CompletionTokens: 300}, decimal.Zero, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	require.NoError(t, SeedDemoAccount(ctx, l, "demo-user", "pro", zap.NewNop()))

	acct, err := l.Get(ctx, "demo-user")
	require.NoError(t, err)
	assert.Equal(t, int64(500), acct.PeriodTokens)
}

func TestSeedDemoAccount_DefaultTier(t *testing.T) {
	ctx := context.Background()
	l := newLedger()

	require.NoError(t, SeedDemoAccount(ctx, l, "demo-user", "", zap.NewNop()))

	acct, err := l.Get(ctx, "demo-user")
	require.NoError(t, err)
	assert.Equal(t, "free", acct.Tier)
}
