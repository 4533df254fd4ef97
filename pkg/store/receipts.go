package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// receiptTimeLayout is fixed width so created_at sorts lexically.
const receiptTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Receipt statuses.
const (
	ReceiptSettled = "SETTLED"
	ReceiptFailed  = "FAILED"
)

// Receipt records one settlement attempt, successful or not.
type Receipt struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	OrderID        string          `json:"orderId,omitempty"`
	Method         string          `json:"method"`
	Amount         decimal.Decimal `json:"amount"`
	CreditUsed     decimal.Decimal `json:"creditUsed"`
	CashPaid       decimal.Decimal `json:"cashPaid"`
	CreditAdded    decimal.Decimal `json:"creditAdded"`
	TransactionRef string          `json:"transactionRef,omitempty"`
	Status         string          `json:"status"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// ReceiptStore is an append-only settlement journal.
type ReceiptStore interface {
	Append(ctx context.Context, r Receipt) error
	// Get returns the receipt with id and whether it exists.
	Get(ctx context.Context, id string) (Receipt, bool, error)
	// ListByUser returns the newest receipts first.
	ListByUser(ctx context.Context, userID string, limit int) ([]Receipt, error)
}

// MemoryReceiptStore implements ReceiptStore in memory.
type MemoryReceiptStore struct {
	mu       sync.RWMutex
	receipts []Receipt
}

func NewMemoryReceiptStore() *MemoryReceiptStore {
	return &MemoryReceiptStore{}
}

func (s *MemoryReceiptStore) Append(ctx context.Context, r Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *MemoryReceiptStore) Get(ctx context.Context, id string) (Receipt, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.receipts) - 1; i >= 0; i-- {
		if s.receipts[i].ID == id {
			return s.receipts[i], true, nil
		}
	}
	return Receipt{}, false, nil
}

func (s *MemoryReceiptStore) ListByUser(ctx context.Context, userID string, limit int) ([]Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Receipt, 0)
	for i := len(s.receipts) - 1; i >= 0; i-- {
		if s.receipts[i].UserID == userID {
			out = append(out, s.receipts[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SQLiteReceiptStore persists receipts in a SQLite database.
type SQLiteReceiptStore struct {
	db *sql.DB
}

func NewSQLiteReceiptStore(db *sql.DB) (*SQLiteReceiptStore, error) {
	s := &SQLiteReceiptStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteReceiptStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS settlement_receipts (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        order_id TEXT NOT NULL DEFAULT '',
        method TEXT NOT NULL,
        amount TEXT NOT NULL,
        credit_used TEXT NOT NULL,
        cash_paid TEXT NOT NULL,
        credit_added TEXT NOT NULL,
        transaction_ref TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL,
        error TEXT NOT NULL DEFAULT '',
        created_at TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS settlement_receipts_user ON settlement_receipts (user_id, created_at);`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("store: migrate settlement_receipts: %w", err)
	}
	return nil
}

func (s *SQLiteReceiptStore) Append(ctx context.Context, r Receipt) error {
	query := `INSERT INTO settlement_receipts (
		id, user_id, order_id, method, amount, credit_used, cash_paid, credit_added, transaction_ref, status, error, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.UserID, r.OrderID, r.Method,
		r.Amount.String(), r.CreditUsed.String(), r.CashPaid.String(), r.CreditAdded.String(),
		r.TransactionRef, r.Status, r.Error, r.CreatedAt.UTC().Format(receiptTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("store: insert receipt: %w", err)
	}
	return nil
}

const receiptColumns = `id, user_id, order_id, method, amount, credit_used, cash_paid, credit_added, transaction_ref, status, error, created_at`

func (s *SQLiteReceiptStore) Get(ctx context.Context, id string) (Receipt, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM settlement_receipts WHERE id = ?`, id)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Receipt{}, false, nil
	}
	if err != nil {
		return Receipt{}, false, fmt.Errorf("store: get receipt: %w", err)
	}
	return r, true, nil
}

func (s *SQLiteReceiptStore) ListByUser(ctx context.Context, userID string, limit int) ([]Receipt, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
        SELECT ` + receiptColumns + `
        FROM settlement_receipts
        WHERE user_id = ?
        ORDER BY created_at DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Receipt, 0)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan receipt: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate receipts: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row scanner) (Receipt, error) {
	var (
		r       Receipt
		created string
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.OrderID, &r.Method, &r.Amount, &r.CreditUsed, &r.CashPaid,
		&r.CreditAdded, &r.TransactionRef, &r.Status, &r.Error, &created); err != nil {
		return Receipt{}, err
	}
	r.CreatedAt = parseTime(created)
	return r, nil
}

func parseTime(value string) time.Time {
	if t, err := time.Parse(receiptTimeLayout, value); err == nil {
		return t
	}
	return time.Time{}
}
