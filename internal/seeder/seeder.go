package seeder

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vnmchuo/llm-meter/internal/ledger"
)

const DemoCustomerRef = "cus_demo"

// SeedDemoAccount makes sure userID exists on tierID. Running it again is a
// no-op, and an existing account keeps its period usage when already on tierID.
func SeedDemoAccount(ctx context.Context, l *ledger.Ledger, userID, tierID string, logger *zap.Logger) error {
	acct, err := l.GetOrCreate(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to seed demo account: %w", err)
	}

	if tierID != "" {
		changed, err := l.AssignTier(ctx, userID, tierID)
		if err != nil {
			return fmt.Errorf("failed to seed demo tier: %w", err)
		}
		if changed {
			logger.Info("demo account tier set", zap.String("user_id", userID), zap.String("tier", tierID))
		}
	}

	if acct.CustomerRef == "" {
		if err := l.LinkCustomer(ctx, userID, DemoCustomerRef); err != nil {
			logger.Warn("demo customer ref not linked, skipping", zap.String("user_id", userID), zap.Error(err))
		}
	}

	logger.Info("demo account ready", zap.String("user_id", userID))
	return nil
}
