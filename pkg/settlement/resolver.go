package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AbhayRathi/AgenticRefunds/pkg/finance"
	"github.com/AbhayRathi/AgenticRefunds/pkg/gateway"
	"github.com/AbhayRathi/AgenticRefunds/pkg/keylock"
	"github.com/AbhayRathi/AgenticRefunds/pkg/ledger"
	"github.com/AbhayRathi/AgenticRefunds/pkg/observability"
	"github.com/AbhayRathi/AgenticRefunds/pkg/store"
	"github.com/AbhayRathi/AgenticRefunds/pkg/validation"
)

// DefaultTransferTimeout bounds a single gateway call.
const DefaultTransferTimeout = 30 * time.Second

// DefaultBonusMultiplier is applied to refunds taken as store credit.
var DefaultBonusMultiplier = decimal.RequireFromString("1.5")

// Config tunes the resolver.
type Config struct {
	BonusMultiplier decimal.Decimal
	TransferTimeout time.Duration
}

// DefaultConfig returns the standard bonus and timeout.
func DefaultConfig() Config {
	return Config{BonusMultiplier: DefaultBonusMultiplier, TransferTimeout: DefaultTransferTimeout}
}

// Resolver settles refunds against a ledger and a gateway. Settlements for
// the same user are serialized so two concurrent requests cannot both spend
// the same credit.
type Resolver struct {
	ledger  ledger.Store
	gateway gateway.Gateway
	config  Config
	locks   keylock.Map
	obs     *observability.Provider
	logger  *slog.Logger
	newRef  func() string
	journal Journal
	now     func() time.Time
}

// Journal records settlement attempts.
type Journal interface {
	Append(ctx context.Context, r store.Receipt) error
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithObservability records a span per settlement.
func WithObservability(p *observability.Provider) Option {
	return func(r *Resolver) { r.obs = p }
}

// WithReferenceGenerator overrides generation of transfer order ids.
func WithReferenceGenerator(fn func() string) Option {
	return func(r *Resolver) { r.newRef = fn }
}

// WithJournal appends a receipt for every settlement attempt that got past
// validation.
func WithJournal(j Journal) Option {
	return func(r *Resolver) { r.journal = j }
}

// NewResolver creates a resolver. Zero config fields take their defaults.
func NewResolver(store ledger.Store, gw gateway.Gateway, cfg Config, opts ...Option) *Resolver {
	if !cfg.BonusMultiplier.IsPositive() {
		cfg.BonusMultiplier = DefaultBonusMultiplier
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = DefaultTransferTimeout
	}
	r := &Resolver{
		ledger:  store,
		gateway: gw,
		config:  cfg,
		obs:     observability.Disabled(),
		logger:  slog.Default().With("component", "settlement"),
		newRef:  func() string { return "refund-" + uuid.NewString() },
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func validate(req Request) error {
	if err := validation.NonEmpty("userId", req.UserID); err != nil {
		return err
	}
	if !req.Amount.IsPositive() {
		return validation.Errorf("amount", "must be greater than zero")
	}
	if !finance.HasMicroPrecision(req.Amount) {
		return validation.Errorf("amount", "must have at most %d decimal places", finance.MicroScale)
	}
	switch req.PreferredMethod {
	case MethodCash:
		return validation.WalletAddress("walletAddress", req.WalletAddress)
	case MethodCredit:
		if req.WalletAddress != "" {
			return validation.WalletAddress("walletAddress", req.WalletAddress)
		}
		return nil
	default:
		return validation.Errorf("preferredMethod", "must be one of cash, credit")
	}
}

// Settle pays req.Amount to the user.
//
//   - Credit: the ledger receives Amount × bonus; the gateway is not called.
//   - Cash with 0 < credit < Amount: hybrid. The remainder is transferred
//     first, then the whole credit balance is deducted.
//   - Cash otherwise (no credit, or credit ≥ Amount): the full amount is
//     transferred and the ledger is left alone.
//
// After a credit or hybrid settlement the request's wallet becomes the
// account's payout wallet.
//
// Gateway failures and timeouts return a *FailedError with the ledger
// untouched.
func (r *Resolver) Settle(ctx context.Context, req Request) (res *Result, err error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	ctx, finish := r.obs.TrackOperation(ctx, "refund.settle",
		observability.SettlementOperation(req.UserID, string(req.PreferredMethod))...)
	defer func() {
		if res != nil {
			observability.SpanFromContext(ctx).SetAttributes(observability.AttrSettlementMethod.String(string(res.Method)))
			r.obs.RecordPayout(ctx, string(res.Method), res.CreditUsed.Add(res.CashPaid).Add(res.CreditAdded).InexactFloat64())
		}
		r.record(ctx, req, res, err)
		finish(err)
	}()

	unlock := r.locks.Lock(req.UserID)
	defer unlock()

	res, err = r.settle(ctx, req)
	if err == nil && res.Method != MethodCash {
		r.rememberWallet(ctx, req.UserID, req.WalletAddress)
	}
	return res, err
}

func (r *Resolver) settle(ctx context.Context, req Request) (*Result, error) {
	if req.PreferredMethod == MethodCredit {
		return r.settleCredit(ctx, req)
	}

	credit, err := r.ledger.Balance(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("settlement: read credit: %w", err)
	}
	if credit.IsPositive() && credit.LessThan(req.Amount) {
		return r.settleHybrid(ctx, req, credit)
	}
	return r.settleCash(ctx, req, credit)
}

// rememberWallet stores the payout wallet on an account the settlement just
// wrote to. The refund is already paid, so a failure is only logged.
func (r *Resolver) rememberWallet(ctx context.Context, userID, address string) {
	if address == "" {
		return
	}
	current, err := r.ledger.WalletAddress(ctx, userID)
	if err == nil && current == address {
		return
	}
	if err := r.ledger.SetWalletAddress(context.WithoutCancel(ctx), userID, address); err != nil {
		r.logger.WarnContext(ctx, "payout wallet not recorded", "user_id", userID, "error", err)
	}
}

func (r *Resolver) settleCredit(ctx context.Context, req Request) (*Result, error) {
	// The ledger holds micros; the reported bonus is exactly what was credited.
	bonus := finance.RoundMicros(req.Amount.Mul(r.config.BonusMultiplier))
	balance, err := r.ledger.AddCredit(ctx, req.UserID, bonus)
	if err != nil {
		return nil, fmt.Errorf("settlement: add credit: %w", err)
	}
	r.logger.InfoContext(ctx, "refund settled as credit",
		"user_id", req.UserID, "amount", req.Amount.String(), "credit_added", bonus.String(), "balance", balance.String())
	return &Result{
		Method:           MethodCredit,
		CreditUsed:       decimal.Zero,
		CashPaid:         decimal.Zero,
		CreditAdded:      bonus,
		NewCreditBalance: balance,
	}, nil
}

func (r *Resolver) settleCash(ctx context.Context, req Request, credit decimal.Decimal) (*Result, error) {
	orderID := r.reference(req)
	resp := r.transfer(ctx, req.WalletAddress, req.Amount, orderID)
	if !resp.Success {
		r.logger.WarnContext(ctx, "cash refund transfer failed",
			"user_id", req.UserID, "order_id", orderID, "reason", resp.Error)
		return nil, &FailedError{Method: MethodCash, Amount: req.Amount, Reason: resp.Error}
	}
	r.logger.InfoContext(ctx, "refund settled as cash",
		"user_id", req.UserID, "order_id", orderID, "amount", req.Amount.String(), "tx", resp.TransactionHash)
	return &Result{
		Method:           MethodCash,
		CreditUsed:       decimal.Zero,
		CashPaid:         req.Amount,
		CreditAdded:      decimal.Zero,
		TransactionRef:   resp.TransactionHash,
		TransferOrderID:  orderID,
		NewCreditBalance: credit,
	}, nil
}

func (r *Resolver) settleHybrid(ctx context.Context, req Request, credit decimal.Decimal) (*Result, error) {
	remainder := req.Amount.Sub(credit)
	orderID := r.reference(req)

	resp := r.transfer(ctx, req.WalletAddress, remainder, orderID)
	if !resp.Success {
		r.logger.WarnContext(ctx, "hybrid refund transfer failed, credit untouched",
			"user_id", req.UserID, "order_id", orderID, "credit", credit.String(), "reason", resp.Error)
		return nil, &FailedError{Method: MethodHybrid, Amount: remainder, Reason: resp.Error}
	}

	// The transfer is final. Deduct even if the caller has gone away.
	balance, err := r.ledger.DeductCredit(context.WithoutCancel(ctx), req.UserID, credit)
	if err != nil {
		r.logger.ErrorContext(ctx, "credit deduction failed after transfer",
			"user_id", req.UserID, "order_id", orderID, "tx", resp.TransactionHash, "error", err)
		return nil, &ReconciliationError{
			UserID:         req.UserID,
			TransactionRef: resp.TransactionHash,
			CreditToDeduct: credit,
			Cause:          err,
		}
	}

	r.logger.InfoContext(ctx, "refund settled as hybrid",
		"user_id", req.UserID, "order_id", orderID, "credit_used", credit.String(),
		"cash_paid", remainder.String(), "tx", resp.TransactionHash)
	return &Result{
		Method:           MethodHybrid,
		CreditUsed:       credit,
		CashPaid:         remainder,
		CreditAdded:      decimal.Zero,
		TransactionRef:   resp.TransactionHash,
		TransferOrderID:  orderID,
		NewCreditBalance: balance,
	}, nil
}

func (r *Resolver) record(ctx context.Context, req Request, res *Result, err error) {
	if r.journal == nil {
		return
	}
	id := req.RefundID
	if id == "" {
		id = uuid.NewString()
	}
	rec := store.Receipt{
		ID:        id,
		UserID:    req.UserID,
		OrderID:   req.Reference,
		Method:    string(req.PreferredMethod),
		Amount:    req.Amount,
		Status:    store.ReceiptSettled,
		CreatedAt: r.now().UTC(),
	}
	if res != nil {
		rec.Method = string(res.Method)
		rec.CreditUsed = res.CreditUsed
		rec.CashPaid = res.CashPaid
		rec.CreditAdded = res.CreditAdded
		rec.TransactionRef = res.TransactionRef
		if rec.OrderID == "" {
			rec.OrderID = res.TransferOrderID
		}
	}
	if err != nil {
		rec.Status = store.ReceiptFailed
		rec.Error = err.Error()
		var failed *FailedError
		if errors.As(err, &failed) {
			rec.Method = string(failed.Method)
		}
		var recon *ReconciliationError
		if errors.As(err, &recon) {
			rec.Method = string(MethodHybrid)
			rec.TransactionRef = recon.TransactionRef
		}
	}
	if jerr := r.journal.Append(context.WithoutCancel(ctx), rec); jerr != nil {
		r.logger.ErrorContext(ctx, "settlement receipt not recorded", "user_id", req.UserID, "status", rec.Status, "error", jerr)
	}
}

func (r *Resolver) reference(req Request) string {
	if req.Reference != "" {
		return req.Reference
	}
	return r.newRef()
}

// transfer calls the gateway under the configured timeout. A gateway that
// does not return in time counts as a failure; its late answer is dropped.
func (r *Resolver) transfer(ctx context.Context, to string, amount decimal.Decimal, orderID string) gateway.TransferResponse {
	ctx, cancel := context.WithTimeout(ctx, r.config.TransferTimeout)
	defer cancel()

	done := make(chan gateway.TransferResponse, 1)
	go func() {
		done <- r.gateway.Transfer(ctx, gateway.TransferRequest{
			RecipientAddress: to,
			Amount:           amount,
			Currency:         finance.Currency,
			OrderID:          orderID,
		})
	}()

	select {
	case resp := <-done:
		if resp.Success && resp.TransactionHash == "" {
			return gateway.Failed("gateway reported success without a transaction reference")
		}
		return resp
	case <-ctx.Done():
		return gateway.Failed(fmt.Sprintf("transfer did not complete: %v", ctx.Err()))
	}
}
