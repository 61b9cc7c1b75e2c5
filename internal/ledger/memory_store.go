package ledger

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		now:      time.Now,
	}
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, userID, defaultTier string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[userID]
	if !ok {
		now := s.now()
		acct = &Account{
			UserID:       userID,
			Tier:         defaultTier,
			Transactions: []Transaction{},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		s.accounts[userID] = acct
	}
	return acct.head(), nil
}

func (s *MemoryStore) Head(ctx context.Context, userID string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return acct.head(), nil
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return acct.clone(), nil
}

func (s *MemoryStore) AppendTransaction(ctx context.Context, userID string, tx *Transaction) error {
	return s.mutate(userID, func(a *Account) {
		a.PeriodTokens += tx.Tokens
		a.Transactions = append(a.Transactions, *tx)
	})
}

func (s *MemoryStore) SetTier(ctx context.Context, userID, tierID string) error {
	return s.mutate(userID, func(a *Account) {
		a.Tier = tierID
		a.PeriodTokens = 0
	})
}

func (s *MemoryStore) LinkCustomer(ctx context.Context, userID, customerRef string) error {
	return s.mutate(userID, func(a *Account) {
		a.CustomerRef = customerRef
	})
}

func (s *MemoryStore) FindByCustomer(ctx context.Context, customerRef string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if customerRef == "" {
		return nil, ErrUserNotFound
	}
	for _, acct := range s.accounts {
		if acct.CustomerRef == customerRef {
			return acct.clone(), nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStore) mutate(userID string, fn func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(acct)
	acct.UpdatedAt = s.now()
	return nil
}
