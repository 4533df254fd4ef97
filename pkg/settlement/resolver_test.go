package settlement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/AbhayRathi/AgenticRefunds/pkg/gateway"
	"github.com/AbhayRathi/AgenticRefunds/pkg/ledger"
	"github.com/AbhayRathi/AgenticRefunds/pkg/store"
	"github.com/AbhayRathi/AgenticRefunds/pkg/validation"
)

const wallet = "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Transfer(ctx context.Context, req gateway.TransferRequest) gateway.TransferResponse {
	args := m.Called(ctx, req)
	return args.Get(0).(gateway.TransferResponse)
}

func amountIs(want string) any {
	return mock.MatchedBy(func(req gateway.TransferRequest) bool {
		return req.Amount.Equal(d(want)) && req.RecipientAddress == wallet && req.Currency == "USDC"
	})
}

func seeded(t *testing.T, user, balance string) *ledger.MemoryStore {
	t.Helper()
	s := ledger.NewMemoryStore()
	if balance != "0" {
		_, err := s.AddCredit(context.Background(), user, d(balance))
		require.NoError(t, err)
	}
	return s
}

func balanceOf(t *testing.T, s ledger.Store, user string) decimal.Decimal {
	t.Helper()
	b, err := s.Balance(context.Background(), user)
	require.NoError(t, err)
	return b
}

func TestSettle_CreditPathAddsBonusWithoutTransfer(t *testing.T) {
	store := seeded(t, "u", "5")
	gw := &mockGateway{}
	r := NewResolver(store, gw, DefaultConfig())

	res, err := r.Settle(context.Background(), Request{UserID: "u", Amount: d("10"), PreferredMethod: MethodCredit})
	require.NoError(t, err)

	assert.Equal(t, MethodCredit, res.Method)
	assert.True(t, res.CreditUsed.IsZero())
	assert.True(t, res.CashPaid.IsZero())
	assert.True(t, res.CreditAdded.Equal(d("15")))
	assert.True(t, res.NewCreditBalance.Equal(d("20")), res.NewCreditBalance.String())
	assert.True(t, balanceOf(t, store, "u").Equal(d("20")))
	gw.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
}

func TestSettle_HybridPath(t *testing.T) {
	store := seeded(t, "u", "5")
	gw := &mockGateway{}
	gw.On("Transfer", mock.Anything, amountIs("10")).
		Return(gateway.TransferResponse{Success: true, TransactionHash: "0xhybrid"}).Once()
	r := NewResolver(store, gw, DefaultConfig())

	res, err := r.Settle(context.Background(), Request{UserID: "u", Amount: d("15"), WalletAddress: wallet, PreferredMethod: MethodCash})
	require.NoError(t, err)

	assert.Equal(t, MethodHybrid, res.Method)
	assert.True(t, res.CreditUsed.Equal(d("5")))
	assert.True(t, res.CashPaid.Equal(d("10")))
	assert.True(t, res.CreditUsed.Add(res.CashPaid).Equal(d("15")))
	assert.True(t, res.NewCreditBalance.IsZero())
	assert.Equal(t, "0xhybrid", res.TransactionRef)
	assert.True(t, strings.HasPrefix(res.TransferOrderID, "refund-"), res.TransferOrderID)
	assert.True(t, balanceOf(t, store, "u").IsZero())
	gw.AssertExpectations(t)
}

func TestSettle_HybridTransferFailureKeepsCredit(t *testing.T) {
	store := seeded(t, "u", "5")
	gw := &mockGateway{}
	gw.On("Transfer", mock.Anything, amountIs("10")).
		Return(gateway.TransferResponse{Success: false, Error: "network error"}).Once()
	r := NewResolver(store, gw, DefaultConfig())

	res, err := r.Settle(context.Background(), Request{UserID: "u", Amount: d("15"), WalletAddress: wallet, PreferredMethod: MethodCash})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrSettlementFailed)

	var ferr *FailedError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, MethodHybrid, ferr.Method)
	assert.Contains(t, err.Error(), "credit balance is safe")
	assert.Contains(t, err.Error(), "network error")
	assert.True(t, balanceOf(t, store, "u").Equal(d("5")))
}

func TestSettle_PureCashWithoutCredit(t *testing.T) {
	store := seeded(t, "u", "0")
	gw := &mockGateway{}
	gw.On("Transfer", mock.Anything, amountIs("12.49")).
		Return(gateway.TransferResponse{Success: true, TransactionHash: "0xcash"}).Once()
	r := NewResolver(store, gw, DefaultConfig(), WithReferenceGenerator(func() string { return "refund-fixed" }))

	res, err := r.Settle(context.Background(), Request{UserID: "u", Amount: d("12.49"), WalletAddress: wallet, PreferredMethod: MethodCash})
	require.NoError(t, err)
	assert.Equal(t, MethodCash, res.Method)
	assert.True(t, res.CreditUsed.IsZero())
	assert.True(t, res.CashPaid.Equal(d("12.49")))
	assert.Equal(t, "refund-fixed", res.TransferOrderID)

	_, exists, err := store.Account(context.Background(), "u")
	require.NoError(t, err)
	assert.False(t, exists, "cash path must not create an account")
	gw.AssertExpectations(t)
}

func TestSettle_CashWhenCreditCoversAmount(t *testing.T) {
	for _, credit := range []string{"15", "20"} {
		t.Run("credit "+credit, func(t *testing.T) {
			store := seeded(t, "u", credit)
			gw := &mockGateway{}
			gw.On("Transfer", mock.Anything, amountIs("15")).
				Return(gateway.TransferResponse{Success: true, TransactionHash: "0xfull"}).Once()
			r := NewResolver(store, gw, DefaultConfig())

			res, err := r.Settle(context.Background(), Request{UserID: "u", Amount: d("15"), WalletAddress: wallet, PreferredMethod: MethodCash})
			require.NoError(t, err)
			assert.Equal(t, MethodCash, res.Method)
			assert.True(t, res.CashPaid.Equal(d("15")))
			assert.True(t, res.NewCreditBalance.Equal(d(credit)))
			assert.True(t, balanceOf(t, store, "u").Equal(d(credit)))
		})
	}
}

func TestSettle_CashFailure(t *testing.T) {
	store := seeded(t, "u", "0")
	gw := &mockGateway{}
	gw.On("Transfer", mock.Anything, mock.Anything).Return(gateway.Failed("rejected")).Once()
	r := NewResolver(store, gw, DefaultConfig())

	_, err := r.Settle(context.Background(), Request{UserID: "u", Amount: d("3"), WalletAddress: wallet, PreferredMethod: MethodCash})
	var ferr *FailedError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, MethodCash, ferr.Method)
	assert.ErrorIs(t, err, ErrSettlementFailed)
}

type slowGateway struct{ delay time.Duration }

func (g slowGateway) Transfer(ctx context.Context, req gateway.TransferRequest) gateway.TransferResponse {
	time.Sleep(g.delay)
	return gateway.TransferResponse{Success: true, TransactionHash: "0xlate"}
}

func TestSettle_TransferTimeoutIsFailure(t *testing.T) {
	store := seeded(t, "u", "5")
	r := NewResolver(store, slowGateway{delay: 500 * time.Millisecond}, Config{TransferTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := r.Settle(context.Background(), Request{UserID: "u", Amount: d("15"), WalletAddress: wallet, PreferredMethod: MethodCash})
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.ErrorIs(t, err, ErrSettlementFailed)
	assert.Contains(t, err.Error(), "credit balance is safe")
	assert.True(t, balanceOf(t, store, "u").Equal(d("5")))
}

func TestSettle_SuccessWithoutHashIsFailure(t *testing.T) {
	store := seeded(t, "u", "5")
	gw := &mockGateway{}
	gw.On("Transfer", mock.Anything, mock.Anything).Return(gateway.TransferResponse{Success: true}).Once()
	r := NewResolver(store, gw, DefaultConfig())

	_, err := r.Settle(context.Background(), Request{UserID: "u", Amount: d("15"), WalletAddress: wallet, PreferredMethod: MethodCash})
	assert.ErrorIs(t, err, ErrSettlementFailed)
	assert.True(t, balanceOf(t, store, "u").Equal(d("5")))
}

// failingDeduct wraps a store and fails every deduction.
type failingDeduct struct {
	*ledger.MemoryStore
}

func (f failingDeduct) DeductCredit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("disk full")
}

func TestSettle_DeductFailureAfterTransferNeedsReconciliation(t *testing.T) {
	store := failingDeduct{seeded(t, "u", "5")}
	gw := &mockGateway{}
	gw.On("Transfer", mock.Anything, amountIs("10")).
		Return(gateway.TransferResponse{Success: true, TransactionHash: "0xpaid"}).Once()
	r := NewResolver(store, gw, DefaultConfig())

	_, err := r.Settle(context.Background(), Request{UserID: "u", Amount: d("15"), WalletAddress: wallet, PreferredMethod: MethodCash})
	assert.ErrorIs(t, err, ErrReconciliation)
	assert.NotErrorIs(t, err, ErrSettlementFailed)

	var rerr *ReconciliationError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "0xpaid", rerr.TransactionRef)
	assert.True(t, rerr.CreditToDeduct.Equal(d("5")))
	assert.ErrorContains(t, errors.Unwrap(err), "disk full")
}

func TestSettle_ValidationHasNoSideEffects(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"no user", Request{Amount: d("1"), WalletAddress: wallet, PreferredMethod: MethodCash}},
		{"zero amount", Request{UserID: "u", Amount: decimal.Zero, WalletAddress: wallet, PreferredMethod: MethodCash}},
		{"negative amount", Request{UserID: "u", Amount: d("-2"), PreferredMethod: MethodCredit}},
		{"bad wallet", Request{UserID: "u", Amount: d("1"), WalletAddress: "0xnope", PreferredMethod: MethodCash}},
		{"missing wallet for cash", Request{UserID: "u", Amount: d("1"), PreferredMethod: MethodCash}},
		{"bad wallet for credit", Request{UserID: "u", Amount: d("1"), WalletAddress: "wallet", PreferredMethod: MethodCredit}},
		{"hybrid is not a choice", Request{UserID: "u", Amount: d("1"), WalletAddress: wallet, PreferredMethod: MethodHybrid}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seeded(t, "u", "5")
			gw := &mockGateway{}
			r := NewResolver(store, gw, DefaultConfig())

			_, err := r.Settle(context.Background(), tt.req)
			assert.ErrorIs(t, err, validation.ErrInvalid)
			assert.True(t, balanceOf(t, store, "u").Equal(d("5")))
			gw.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
		})
	}
}

func TestSettle_ConcurrentSettlementsSpendCreditOnce(t *testing.T) {
	store := seeded(t, "u", "5")
	gw := gateway.NewSimulated()
	r := NewResolver(store, gw, DefaultConfig())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*Result
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Settle(context.Background(), Request{UserID: "u", Amount: d("15"), WalletAddress: wallet, PreferredMethod: MethodCash})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, results, 4)
	creditUsed := decimal.Zero
	hybrids := 0
	for _, res := range results {
		creditUsed = creditUsed.Add(res.CreditUsed)
		if res.Method == MethodHybrid {
			hybrids++
		}
		assert.True(t, res.CreditUsed.Add(res.CashPaid).Equal(d("15")))
	}
	assert.Equal(t, 1, hybrids)
	assert.True(t, creditUsed.Equal(d("5")))
	assert.True(t, balanceOf(t, store, "u").IsZero())
	assert.Len(t, gw.Transfers(), 4)
}

func TestNewResolver_Defaults(t *testing.T) {
	r := NewResolver(ledger.NewMemoryStore(), &mockGateway{}, Config{})
	assert.True(t, r.config.BonusMultiplier.Equal(d("1.5")))
	assert.Equal(t, DefaultTransferTimeout, r.config.TransferTimeout)

	r = NewResolver(ledger.NewMemoryStore(), &mockGateway{}, Config{BonusMultiplier: d("2")})
	res, err := r.Settle(context.Background(), Request{UserID: "u", Amount: d("4.25"), PreferredMethod: MethodCredit})
	require.NoError(t, err)
	assert.True(t, res.NewCreditBalance.Equal(d("8.5")))
}

func TestSettle_JournalRecordsEveryAttempt(t *testing.T) {
	accounts := seeded(t, "u", "5")
	journal := store.NewMemoryReceiptStore()
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	gw := &mockGateway{}
	gw.On("Transfer", mock.Anything, amountIs("10")).
		Return(gateway.TransferResponse{Success: false, Error: "insufficient gas"}).Once()
	gw.On("Transfer", mock.Anything, amountIs("10")).
		Return(gateway.TransferResponse{Success: true, TransactionHash: "0xok"}).Once()
	r := NewResolver(accounts, gw, DefaultConfig(), WithJournal(journal))
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	ctx := context.Background()
	req := Request{UserID: "u", Amount: d("15"), WalletAddress: wallet, PreferredMethod: MethodCash, Reference: "order-9"}

	_, err := r.Settle(ctx, req)
	require.ErrorIs(t, err, ErrSettlementFailed)
	_, err = r.Settle(ctx, req)
	require.NoError(t, err)
	_, err = r.Settle(ctx, Request{UserID: "u", Amount: d("0"), PreferredMethod: MethodCredit})
	require.ErrorIs(t, err, validation.ErrInvalid)

	receipts, err := journal.ListByUser(ctx, "u", 0)
	require.NoError(t, err)
	require.Len(t, receipts, 2, "validation failures are not journaled")

	ok, failed := receipts[0], receipts[1]
	assert.Equal(t, store.ReceiptSettled, ok.Status)
	assert.Equal(t, "hybrid", ok.Method)
	assert.Equal(t, "order-9", ok.OrderID)
	assert.Equal(t, "0xok", ok.TransactionRef)
	assert.True(t, ok.CreditUsed.Equal(d("5")))
	assert.True(t, ok.CashPaid.Equal(d("10")))

	assert.Equal(t, store.ReceiptFailed, failed.Status)
	assert.Equal(t, "hybrid", failed.Method)
	assert.Contains(t, failed.Error, "insufficient gas")
	assert.True(t, failed.CashPaid.IsZero())
}

func TestSettle_RecordsPayoutWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("credit", func(t *testing.T) {
		accounts := ledger.NewMemoryStore()
		r := NewResolver(accounts, &mockGateway{}, DefaultConfig())

		_, err := r.Settle(ctx, Request{UserID: "newbie", Amount: d("8"), WalletAddress: wallet, PreferredMethod: MethodCredit})
		require.NoError(t, err)
		got, err := accounts.WalletAddress(ctx, "newbie")
		require.NoError(t, err)
		assert.Equal(t, wallet, got)
	})

	t.Run("credit without wallet keeps the old one", func(t *testing.T) {
		accounts := seeded(t, "u", "1")
		require.NoError(t, accounts.SetWalletAddress(ctx, "u", ledger.DemoWallet))
		r := NewResolver(accounts, &mockGateway{}, DefaultConfig())

		_, err := r.Settle(ctx, Request{UserID: "u", Amount: d("2"), PreferredMethod: MethodCredit})
		require.NoError(t, err)
		got, err := accounts.WalletAddress(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, ledger.DemoWallet, got)
	})

	t.Run("hybrid", func(t *testing.T) {
		accounts := seeded(t, "u", "5")
		gw := &mockGateway{}
		gw.On("Transfer", mock.Anything, amountIs("10")).
			Return(gateway.TransferResponse{Success: true, TransactionHash: "0xh"}).Once()
		r := NewResolver(accounts, gw, DefaultConfig())

		_, err := r.Settle(ctx, Request{UserID: "u", Amount: d("15"), WalletAddress: wallet, PreferredMethod: MethodCash})
		require.NoError(t, err)
		got, err := accounts.WalletAddress(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, wallet, got)
	})

	t.Run("failed hybrid leaves account alone", func(t *testing.T) {
		accounts := seeded(t, "u", "5")
		gw := &mockGateway{}
		gw.On("Transfer", mock.Anything, mock.Anything).Return(gateway.Failed("rejected")).Once()
		r := NewResolver(accounts, gw, DefaultConfig())

		_, err := r.Settle(ctx, Request{UserID: "u", Amount: d("15"), WalletAddress: wallet, PreferredMethod: MethodCash})
		require.ErrorIs(t, err, ErrSettlementFailed)
		got, err := accounts.WalletAddress(ctx, "u")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestSettle_AmountPrecision(t *testing.T) {
	ctx := context.Background()
	accounts := ledger.NewMemoryStore()
	gw := &mockGateway{}
	r := NewResolver(accounts, gw, DefaultConfig())

	for _, method := range []Method{MethodCredit, MethodCash} {
		_, err := r.Settle(ctx, Request{UserID: "u", Amount: d("3.0000001"), WalletAddress: wallet, PreferredMethod: method})
		var verr *validation.Error
		require.ErrorAs(t, err, &verr, method)
		assert.Equal(t, "amount", verr.Field)
	}
	gw.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)

	// 0.000001 × 1.5 rounds to the micro the ledger can hold.
	res, err := r.Settle(ctx, Request{UserID: "u", Amount: d("0.000001"), PreferredMethod: MethodCredit})
	require.NoError(t, err)
	assert.Equal(t, "0.000002", res.CreditAdded.String())
	assert.True(t, res.NewCreditBalance.Equal(res.CreditAdded))

	res, err = r.Settle(ctx, Request{UserID: "u", Amount: d("1.234567"), PreferredMethod: MethodCredit})
	require.NoError(t, err)
	assert.Equal(t, "1.851851", res.CreditAdded.String())
	assert.True(t, res.NewCreditBalance.Equal(d("0.000002").Add(res.CreditAdded)), res.NewCreditBalance.String())
}

func TestSettle_ReceiptUsesRefundID(t *testing.T) {
	journal := store.NewMemoryReceiptStore()
	r := NewResolver(ledger.NewMemoryStore(), &mockGateway{}, DefaultConfig(), WithJournal(journal))

	_, err := r.Settle(context.Background(), Request{UserID: "u", Amount: d("2"), PreferredMethod: MethodCredit, RefundID: "ref-order-1-1"})
	require.NoError(t, err)

	got, ok, err := journal.Get(context.Background(), "ref-order-1-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.ReceiptSettled, got.Status)
	assert.Equal(t, "credit", got.Method)
}
