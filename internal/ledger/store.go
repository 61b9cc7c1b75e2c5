package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUserNotFound = errors.New("user not found")

// Transaction is one metered request. It is never modified after append.
type Transaction struct {
	ID               string          `json:"id"`
	Timestamp        time.Time       `json:"timestamp"`
	Model            string          `json:"model,omitempty"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	Tokens           int64           `json:"tokens"`
	Cost             decimal.Decimal `json:"cost"`
	Price            decimal.Decimal `json:"price"`
	Profit           decimal.Decimal `json:"profit"`
}

// Account is the ledger entry for one user.
type Account struct {
	UserID       string        `json:"user_id"`
	Tier         string        `json:"tier"`
	PeriodTokens int64         `json:"period_tokens"`
	CustomerRef  string        `json:"customer_ref,omitempty"`
	Transactions []Transaction `json:"transactions"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (a *Account) clone() *Account {
	c := *a
	c.Transactions = append([]Transaction(nil), a.Transactions...)
	return &c
}

// head copies the account without its transaction history.
func (a *Account) head() *Account {
	c := *a
	c.Transactions = []Transaction{}
	return &c
}

// Store persists accounts. Each method is atomic on its own; callers that
// need check-then-act across calls go through Ledger.WithLock.
type Store interface {
	// GetOrCreate and Head skip the transaction history; Get loads it.
	GetOrCreate(ctx context.Context, userID, defaultTier string) (*Account, error)
	Head(ctx context.Context, userID string) (*Account, error)
	Get(ctx context.Context, userID string) (*Account, error)
	// AppendTransaction adds tx.Tokens to the period usage and appends tx.
	AppendTransaction(ctx context.Context, userID string, tx *Transaction) error
	// SetTier changes the tier and resets period usage to zero.
	SetTier(ctx context.Context, userID, tierID string) error
	LinkCustomer(ctx context.Context, userID, customerRef string) error
	FindByCustomer(ctx context.Context, customerRef string) (*Account, error)
}
