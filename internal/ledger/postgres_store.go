package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS ledger_accounts (
	user_id       TEXT PRIMARY KEY,
	tier          TEXT NOT NULL,
	period_tokens BIGINT NOT NULL DEFAULT 0,
	customer_ref  TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS ledger_accounts_customer_ref_idx
	ON ledger_accounts (customer_ref) WHERE customer_ref IS NOT NULL;

CREATE TABLE IF NOT EXISTS ledger_transactions (
	id                UUID PRIMARY KEY,
	user_id           TEXT NOT NULL REFERENCES ledger_accounts (user_id),
	model             TEXT NOT NULL DEFAULT '',
	prompt_tokens     BIGINT NOT NULL,
	completion_tokens BIGINT NOT NULL,
	tokens            BIGINT NOT NULL,
	cost              NUMERIC(24, 12) NOT NULL,
	price             NUMERIC(24, 12) NOT NULL,
	profit            NUMERIC(24, 12) NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS ledger_transactions_user_idx
	ON ledger_transactions (user_id, created_at);
`

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, userID, defaultTier string) (*Account, error) {
	query := `
		INSERT INTO ledger_accounts (user_id, tier)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, userID, defaultTier); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return s.Head(ctx, userID)
}

func (s *PostgresStore) Head(ctx context.Context, userID string) (*Account, error) {
	query := `
		SELECT user_id, tier, period_tokens, COALESCE(customer_ref, ''), created_at, updated_at
		FROM ledger_accounts
		WHERE user_id = $1
	`
	return scanAccount(s.db.QueryRow(ctx, query, userID))
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*Account, error) {
	acct, err := s.Head(ctx, userID)
	if err != nil {
		return nil, err
	}

	txs, err := s.transactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	acct.Transactions = txs
	return acct, nil
}

func (s *PostgresStore) FindByCustomer(ctx context.Context, customerRef string) (*Account, error) {
	if customerRef == "" {
		return nil, ErrUserNotFound
	}
	query := `
		SELECT user_id, tier, period_tokens, COALESCE(customer_ref, ''), created_at, updated_at
		FROM ledger_accounts
		WHERE customer_ref = $1
	`
	acct, err := scanAccount(s.db.QueryRow(ctx, query, customerRef))
	if err != nil {
		return nil, err
	}

	txs, err := s.transactions(ctx, acct.UserID)
	if err != nil {
		return nil, err
	}
	acct.Transactions = txs
	return acct, nil
}

func (s *PostgresStore) AppendTransaction(ctx context.Context, userID string, t *Transaction) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE ledger_accounts
		SET period_tokens = period_tokens + $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, t.Tokens)
	if err != nil {
		return fmt.Errorf("failed to update period usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_transactions
			(id, user_id, model, prompt_tokens, completion_tokens, tokens, cost, price, profit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, userID, t.Model, t.PromptTokens, t.CompletionTokens, t.Tokens, t.Cost, t.Price, t.Profit, t.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetTier(ctx context.Context, userID, tierID string) error {
	query := `
		UPDATE ledger_accounts
		SET tier = $2, period_tokens = 0, updated_at = NOW()
		WHERE user_id = $1
	`
	tag, err := s.db.Exec(ctx, query, userID, tierID)
	if err != nil {
		return fmt.Errorf("failed to set tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) LinkCustomer(ctx context.Context, userID, customerRef string) error {
	query := `UPDATE ledger_accounts SET customer_ref = $2, updated_at = NOW() WHERE user_id = $1`
	tag, err := s.db.Exec(ctx, query, userID, customerRef)
	if err != nil {
		return fmt.Errorf("failed to link customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) transactions(ctx context.Context, userID string) ([]Transaction, error) {
	query := `
		SELECT id, model, prompt_tokens, completion_tokens, tokens, cost, price, profit, created_at
		FROM ledger_transactions
		WHERE user_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		var t Transaction
		err := rows.Scan(
			&t.ID, &t.Model, &t.PromptTokens, &t.CompletionTokens, &t.Tokens,
			&t.Cost, &t.Price, &t.Profit, &t.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	a := Account{Transactions: []Transaction{}}
	err := row.Scan(&a.UserID, &a.Tier, &a.PeriodTokens, &a.CustomerRef, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}
