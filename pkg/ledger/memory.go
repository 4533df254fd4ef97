package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryStore implements Store in process memory.
// Thread-safe via RWMutex; every mutation is a single critical section.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*Account)}
}

func (s *MemoryStore) Account(ctx context.Context, userID string) (Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[userID]; ok {
		return *a, true, nil
	}
	return Account{UserID: userID, Balance: decimal.Zero}, false, nil
}

func (s *MemoryStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	a, _, err := s.Account(ctx, userID)
	return a.Balance, err
}

func (s *MemoryStore) AddCredit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := checkMutation(userID, amount); err != nil {
		return decimal.Zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.getOrCreate(userID)
	a.Balance = a.Balance.Add(amount)
	return a.Balance, nil
}

func (s *MemoryStore) DeductCredit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := checkMutation(userID, amount); err != nil {
		return decimal.Zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	available := decimal.Zero
	if ok {
		available = a.Balance
	}
	if amount.GreaterThan(available) {
		return available, &InsufficientCreditError{UserID: userID, Available: available, Required: amount}
	}
	a.Balance = a.Balance.Sub(amount)
	return a.Balance, nil
}

func (s *MemoryStore) WalletAddress(ctx context.Context, userID string) (string, error) {
	a, _, err := s.Account(ctx, userID)
	return a.WalletAddress, err
}

func (s *MemoryStore) SetWalletAddress(ctx context.Context, userID, address string) error {
	if err := checkWallet(userID, address); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(userID).WalletAddress = address
	return nil
}

func (s *MemoryStore) getOrCreate(userID string) *Account {
	a, ok := s.accounts[userID]
	if !ok {
		a = &Account{UserID: userID, Balance: decimal.Zero}
		s.accounts[userID] = a
	}
	return a
}
