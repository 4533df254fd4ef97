// Package ledger keeps per-user store-credit balances.
//
// Accounts are created implicitly by the mutating operations (AddCredit,
// SetWalletAddress). Reads never create an account: an unknown user has a
// zero balance and no wallet. Every mutation is atomic per user id, and a
// deduction that exceeds the balance is rejected whole. Amounts carry at
// most finance.MicroScale decimals so every backend stores them exactly.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/AbhayRathi/AgenticRefunds/pkg/finance"
	"github.com/AbhayRathi/AgenticRefunds/pkg/validation"
)

// ErrInsufficientCredit matches any *InsufficientCreditError.
var ErrInsufficientCredit = errors.New("ledger: insufficient credit")

// InsufficientCreditError is returned by DeductCredit when the requested
// amount exceeds the balance. Nothing was deducted.
type InsufficientCreditError struct {
	UserID    string
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("ledger: insufficient credit for %s: available %s, required %s",
		e.UserID, finance.Format(e.Available), finance.Format(e.Required))
}

func (e *InsufficientCreditError) Is(target error) bool {
	return target == ErrInsufficientCredit
}

// Account is a snapshot of a user's ledger row.
type Account struct {
	UserID        string          `json:"userId"`
	Balance       decimal.Decimal `json:"balance"`
	WalletAddress string          `json:"walletAddress,omitempty"`
}

// Store is the credit ledger contract.
type Store interface {
	// Account returns the user's account and whether it exists.
	Account(ctx context.Context, userID string) (Account, bool, error)
	// Balance returns 0 for unknown users.
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	// AddCredit creates the account if absent and keeps any wallet address.
	AddCredit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	// DeductCredit is all-or-nothing.
	DeductCredit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	// WalletAddress returns "" when no wallet is on file.
	WalletAddress(ctx context.Context, userID string) (string, error)
	SetWalletAddress(ctx context.Context, userID, address string) error
}

func checkMutation(userID string, amount decimal.Decimal) error {
	if err := validation.NonEmpty("userId", userID); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return validation.Errorf("amount", "must be greater than zero")
	}
	if !finance.HasMicroPrecision(amount) {
		return validation.Errorf("amount", "must have at most %d decimal places", finance.MicroScale)
	}
	return nil
}

func checkWallet(userID, address string) error {
	if err := validation.NonEmpty("userId", userID); err != nil {
		return err
	}
	return validation.WalletAddress("walletAddress", address)
}

// Demo account seeded when LEDGER_SEED_DEMO is set.
const (
	DemoUserID = "user-123"
	DemoWallet = "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
)

// DemoBalance is the starting credit of the demo account.
var DemoBalance = decimal.NewFromInt(5)

// SeedDemo gives the demo user a balance of DemoBalance and a wallet, unless
// the account already exists.
func SeedDemo(ctx context.Context, s Store) error {
	_, ok, err := s.Account(ctx, DemoUserID)
	if err != nil {
		return fmt.Errorf("ledger: seed: %w", err)
	}
	if ok {
		return nil
	}
	if _, err := s.AddCredit(ctx, DemoUserID, DemoBalance); err != nil {
		return fmt.Errorf("ledger: seed: %w", err)
	}
	if err := s.SetWalletAddress(ctx, DemoUserID, DemoWallet); err != nil {
		return fmt.Errorf("ledger: seed: %w", err)
	}
	return nil
}
