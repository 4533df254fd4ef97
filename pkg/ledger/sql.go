package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AbhayRathi/AgenticRefunds/pkg/keylock"
)

// Dialect selects placeholder syntax and row locking for SQLStore.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS credit_accounts (
	user_id TEXT PRIMARY KEY,
	balance NUMERIC(20, 6) NOT NULL DEFAULT 0,
	wallet_address TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
);
`

// SQLite keeps balances as TEXT so decimal strings round-trip exactly.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS credit_accounts (
	user_id TEXT PRIMARY KEY,
	balance TEXT NOT NULL DEFAULT '0',
	wallet_address TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL
);
`

// SQLStore implements Store using database/sql. Mutations run as
// read-modify-write inside a transaction, serialized per user in process
// and, on Postgres, by a row lock across processes. On Postgres a failed
// mutation of an unknown user leaves no row behind.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	locks   keylock.Map
	clock   func() time.Time
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, clock: time.Now}
}

// Init creates the accounts table if needed.
func (s *SQLStore) Init(ctx context.Context) error {
	schema := postgresSchema
	if s.dialect == SQLite {
		schema = sqliteSchema
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// q rewrites $n placeholders for the store's dialect.
func (s *SQLStore) q(query string) string {
	if s.dialect != SQLite {
		return query
	}
	for i := 9; i >= 1; i-- {
		query = strings.ReplaceAll(query, "$"+strconv.Itoa(i), "?")
	}
	return query
}

func (s *SQLStore) selectForUpdate() string {
	query := "SELECT user_id, balance, wallet_address FROM credit_accounts WHERE user_id = $1"
	if s.dialect == Postgres {
		query += " FOR UPDATE"
	}
	return s.q(query)
}

const ensureAccount = "INSERT INTO credit_accounts (user_id, updated_at) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING"

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) load(ctx context.Context, q queryer, query, userID string) (Account, bool, error) {
	var a Account
	err := q.QueryRowContext(ctx, query, userID).Scan(&a.UserID, &a.Balance, &a.WalletAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{UserID: userID, Balance: decimal.Zero}, false, nil
	}
	if err != nil {
		return Account{}, false, fmt.Errorf("ledger: load account: %w", err)
	}
	return a, true, nil
}

func (s *SQLStore) Account(ctx context.Context, userID string) (Account, bool, error) {
	return s.load(ctx, s.db, s.q("SELECT user_id, balance, wallet_address FROM credit_accounts WHERE user_id = $1"), userID)
}

func (s *SQLStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	a, _, err := s.Account(ctx, userID)
	return a.Balance, err
}

func (s *SQLStore) WalletAddress(ctx context.Context, userID string) (string, error) {
	a, _, err := s.Account(ctx, userID)
	return a.WalletAddress, err
}

func (s *SQLStore) AddCredit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := checkMutation(userID, amount); err != nil {
		return decimal.Zero, err
	}
	var balance decimal.Decimal
	err := s.withAccount(ctx, userID, func(tx *sql.Tx, a Account, exists bool) error {
		balance = a.Balance.Add(amount)
		return s.write(ctx, tx, exists, Account{UserID: userID, Balance: balance, WalletAddress: a.WalletAddress})
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func (s *SQLStore) DeductCredit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := checkMutation(userID, amount); err != nil {
		return decimal.Zero, err
	}
	var balance decimal.Decimal
	err := s.withAccount(ctx, userID, func(tx *sql.Tx, a Account, exists bool) error {
		balance = a.Balance
		if amount.GreaterThan(a.Balance) {
			return &InsufficientCreditError{UserID: userID, Available: a.Balance, Required: amount}
		}
		balance = a.Balance.Sub(amount)
		return s.write(ctx, tx, exists, Account{UserID: userID, Balance: balance, WalletAddress: a.WalletAddress})
	})
	if err != nil {
		return balance, err
	}
	return balance, nil
}

func (s *SQLStore) SetWalletAddress(ctx context.Context, userID, address string) error {
	if err := checkWallet(userID, address); err != nil {
		return err
	}
	return s.withAccount(ctx, userID, func(tx *sql.Tx, a Account, exists bool) error {
		return s.write(ctx, tx, exists, Account{UserID: userID, Balance: a.Balance, WalletAddress: address})
	})
}

// withAccount runs fn with the user's row loaded inside a transaction. The
// transaction commits only if fn returns nil.
func (s *SQLStore) withAccount(ctx context.Context, userID string, fn func(tx *sql.Tx, a Account, exists bool) error) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// FOR UPDATE locks nothing on a missing row, so make sure it exists
	// first. A rollback removes it again.
	if s.dialect == Postgres {
		if _, err := tx.ExecContext(ctx, ensureAccount, userID, s.clock().UTC()); err != nil {
			return fmt.Errorf("ledger: ensure account: %w", err)
		}
	}

	a, exists, err := s.load(ctx, tx, s.selectForUpdate(), userID)
	if err != nil {
		return err
	}
	if err := fn(tx, a, exists); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

func (s *SQLStore) write(ctx context.Context, tx *sql.Tx, exists bool, a Account) error {
	query := "INSERT INTO credit_accounts (user_id, balance, wallet_address, updated_at) VALUES ($1, $2, $3, $4)"
	args := []any{a.UserID, a.Balance.String(), a.WalletAddress, s.clock().UTC()}
	if exists {
		query = "UPDATE credit_accounts SET balance = $1, wallet_address = $2, updated_at = $3 WHERE user_id = $4"
		args = []any{a.Balance.String(), a.WalletAddress, s.clock().UTC(), a.UserID}
	}
	if _, err := tx.ExecContext(ctx, s.q(query), args...); err != nil {
		return fmt.Errorf("ledger: persist account: %w", err)
	}
	return nil
}
