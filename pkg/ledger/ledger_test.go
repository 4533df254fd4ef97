package ledger

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbhayRathi/AgenticRefunds/pkg/validation"

	_ "modernc.org/sqlite"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// :memory: is per connection.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s := NewSQLStore(db, SQLite)
	require.NoError(t, s.Init(context.Background()))
	return s
}

// storeContract exercises the behaviour every Store must share.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("unknown user reads zero without creating", func(t *testing.T) {
		bal, err := s.Balance(ctx, "ghost")
		require.NoError(t, err)
		assert.True(t, bal.IsZero())

		_, ok, err := s.Account(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, ok)

		w, err := s.WalletAddress(ctx, "ghost")
		require.NoError(t, err)
		assert.Empty(t, w)
	})

	t.Run("add creates and accumulates", func(t *testing.T) {
		bal, err := s.AddCredit(ctx, "alice", d("2.50"))
		require.NoError(t, err)
		assert.True(t, bal.Equal(d("2.5")), bal.String())

		bal, err = s.AddCredit(ctx, "alice", d("1.25"))
		require.NoError(t, err)
		assert.True(t, bal.Equal(d("3.75")), bal.String())

		_, ok, err := s.Account(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("add keeps wallet", func(t *testing.T) {
		require.NoError(t, s.SetWalletAddress(ctx, "bob", DemoWallet))
		_, err := s.AddCredit(ctx, "bob", d("1"))
		require.NoError(t, err)

		w, err := s.WalletAddress(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, DemoWallet, w)
	})

	t.Run("deduct exact and insufficient", func(t *testing.T) {
		_, err := s.AddCredit(ctx, "carol", d("5"))
		require.NoError(t, err)

		_, err = s.DeductCredit(ctx, "carol", d("5.01"))
		var ierr *InsufficientCreditError
		require.ErrorAs(t, err, &ierr)
		assert.ErrorIs(t, err, ErrInsufficientCredit)
		assert.True(t, ierr.Available.Equal(d("5")))
		assert.True(t, ierr.Required.Equal(d("5.01")))

		bal, err := s.Balance(ctx, "carol")
		require.NoError(t, err)
		assert.True(t, bal.Equal(d("5")), "failed deduction must not apply")

		bal, err = s.DeductCredit(ctx, "carol", d("5"))
		require.NoError(t, err)
		assert.True(t, bal.IsZero())
	})

	t.Run("deduct from unknown user", func(t *testing.T) {
		_, err := s.DeductCredit(ctx, "nobody", d("1"))
		assert.ErrorIs(t, err, ErrInsufficientCredit)
		_, ok, err := s.Account(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		_, err := s.AddCredit(ctx, "dave", decimal.Zero)
		assert.ErrorIs(t, err, validation.ErrInvalid)
		_, err = s.AddCredit(ctx, "dave", d("-1"))
		assert.ErrorIs(t, err, validation.ErrInvalid)
		_, err = s.DeductCredit(ctx, "dave", d("-1"))
		assert.ErrorIs(t, err, validation.ErrInvalid)
		_, err = s.AddCredit(ctx, "", d("1"))
		assert.ErrorIs(t, err, validation.ErrInvalid)
		assert.ErrorIs(t, s.SetWalletAddress(ctx, "dave", "0x123"), validation.ErrInvalid)

		_, ok, err := s.Account(ctx, "dave")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent adds are not lost", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.AddCredit(ctx, "erin", d("0.5"))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		bal, err := s.Balance(ctx, "erin")
		require.NoError(t, err)
		assert.True(t, bal.Equal(d("10")), bal.String())
	})

	t.Run("sub-micro amounts are rejected unapplied", func(t *testing.T) {
		for _, amt := range []string{"0.0000004", "1.0000015"} {
			_, err := s.AddCredit(ctx, "frank", d(amt))
			var verr *validation.Error
			require.ErrorAs(t, err, &verr, amt)
			assert.Equal(t, "amount", verr.Field)

			_, err = s.DeductCredit(ctx, "frank", d(amt))
			assert.ErrorIs(t, err, validation.ErrInvalid)
		}
		_, ok, err := s.Account(ctx, "frank")
		require.NoError(t, err)
		assert.False(t, ok)

		bal, err := s.AddCredit(ctx, "frank", d("0.000001"))
		require.NoError(t, err)
		assert.True(t, bal.Equal(d("0.000001")), bal.String())
	})

	t.Run("seed demo is idempotent", func(t *testing.T) {
		require.NoError(t, SeedDemo(ctx, s))
		require.NoError(t, SeedDemo(ctx, s))
		a, ok, err := s.Account(ctx, DemoUserID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, a.Balance.Equal(DemoBalance))
		assert.Equal(t, DemoWallet, a.WalletAddress)
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestSQLStore_SQLite(t *testing.T) {
	storeContract(t, newSQLiteStore(t))
}

func TestInsufficientCreditError_Message(t *testing.T) {
	err := &InsufficientCreditError{UserID: "u", Available: d("5"), Required: d("15")}
	assert.Equal(t, "ledger: insufficient credit for u: available 5.00, required 15.00", err.Error())
}
