// Package ledger tracks per-user tier, period token usage and the
// append-only history of metered transactions.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vnmchuo/llm-meter/internal/metering"
	"github.com/vnmchuo/llm-meter/internal/tier"
)

// Ledger serializes mutations per user id on top of a Store.
type Ledger struct {
	store   Store
	catalog *tier.Catalog
	locks   *userLocks
	now     func() time.Time
}

func New(store Store, catalog *tier.Catalog) *Ledger {
	return &Ledger{
		store:   store,
		catalog: catalog,
		locks:   newUserLocks(),
		now:     time.Now,
	}
}

// Entry is a handle on one user's account, valid only inside WithLock.
type Entry struct {
	l      *Ledger
	userID string
}

func (e *Entry) UserID() string { return e.userID }

// Account returns the user's tier and period usage, creating the account on
// first contact. The transaction history is not loaded.
func (e *Entry) Account(ctx context.Context) (*Account, error) {
	return e.l.store.GetOrCreate(ctx, e.userID, e.l.catalog.Default().ID)
}

// RecordUsage adds usage.Total() to period usage and appends a transaction.
func (e *Entry) RecordUsage(ctx context.Context, model string, usage metering.Usage, cost, price, profit decimal.Decimal) (*Transaction, error) {
	tx := &Transaction{
		ID:               uuid.New().String(),
		Timestamp:        e.l.now().UTC(),
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Tokens:           usage.Total(),
		Cost:             cost,
		Price:            price,
		Profit:           profit,
	}
	if err := e.l.store.AppendTransaction(ctx, e.userID, tx); err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}
	return tx, nil
}

// SetTier moves the user to tierID and starts a new billing period.
// Transaction history is kept.
func (e *Entry) SetTier(ctx context.Context, tierID string) error {
	return e.l.store.SetTier(ctx, e.userID, tierID)
}

// WithLock runs fn while holding the user's lock. Different users never
// block each other.
func (l *Ledger) WithLock(ctx context.Context, userID string, fn func(e *Entry) error) error {
	unlock, err := l.locks.acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(&Entry{l: l, userID: userID})
}

// GetOrCreate returns the account without its transaction history; use Get
// or Stats for the history.
func (l *Ledger) GetOrCreate(ctx context.Context, userID string) (*Account, error) {
	return l.store.GetOrCreate(ctx, userID, l.catalog.Default().ID)
}

func (l *Ledger) Get(ctx context.Context, userID string) (*Account, error) {
	return l.store.Get(ctx, userID)
}

func (l *Ledger) FindByCustomer(ctx context.Context, customerRef string) (*Account, error) {
	return l.store.FindByCustomer(ctx, customerRef)
}

func (l *Ledger) RecordUsage(ctx context.Context, userID, model string, usage metering.Usage, cost, price, profit decimal.Decimal) (*Transaction, error) {
	var tx *Transaction
	err := l.WithLock(ctx, userID, func(e *Entry) error {
		var err error
		tx, err = e.RecordUsage(ctx, model, usage, cost, price, profit)
		return err
	})
	return tx, err
}

// SetTier fails with ErrUserNotFound for a user that was never seen.
func (l *Ledger) SetTier(ctx context.Context, userID, tierID string) error {
	return l.WithLock(ctx, userID, func(e *Entry) error {
		return e.SetTier(ctx, tierID)
	})
}

// AssignTier is SetTier that leaves the period alone when the user is
// already on tierID. It reports whether the tier changed.
func (l *Ledger) AssignTier(ctx context.Context, userID, tierID string) (bool, error) {
	changed := false
	err := l.WithLock(ctx, userID, func(e *Entry) error {
		acct, err := l.store.Head(ctx, userID)
		if err != nil {
			return err
		}
		if acct.Tier == tierID {
			return nil
		}
		if err := e.SetTier(ctx, tierID); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

func (l *Ledger) LinkCustomer(ctx context.Context, userID, customerRef string) error {
	return l.WithLock(ctx, userID, func(e *Entry) error {
		return l.store.LinkCustomer(ctx, userID, customerRef)
	})
}

// Stats aggregates the user's whole transaction history.
func (l *Ledger) Stats(ctx context.Context, userID string) (*Account, Stats, error) {
	acct, err := l.store.Get(ctx, userID)
	if err != nil {
		return nil, Stats{}, err
	}
	return acct, Summarize(acct.Transactions), nil
}
