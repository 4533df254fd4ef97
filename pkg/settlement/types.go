// Package settlement pays out approved refunds as store credit, a wallet
// transfer, or a split of both.
//
// The one ordering rule that matters: on the hybrid path the transfer runs
// first and the credit deduction happens only after the gateway confirmed
// it. A failed transfer never leaves a user with debited credit.
package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/AbhayRathi/AgenticRefunds/pkg/finance"
)

// Method is the payout shape. Callers choose Cash or Credit; Hybrid is only
// ever a result.
type Method string

const (
	MethodCash   Method = "cash"
	MethodCredit Method = "credit"
	MethodHybrid Method = "hybrid"
)

// Request asks the resolver to settle Amount for UserID.
type Request struct {
	UserID          string
	Amount          decimal.Decimal
	WalletAddress   string
	PreferredMethod Method
	// Reference ties the transfer to an upstream order; a fresh refund
	// reference is generated when empty.
	Reference string
	// RefundID names the journal receipt of this attempt. Generated when
	// empty.
	RefundID string
}

// Result describes a completed settlement. For cash and hybrid results
// CreditUsed + CashPaid equals the requested amount. For credit results both
// are zero and the ledger received a bonus-multiplied credit.
type Result struct {
	Method           Method          `json:"method"`
	CreditUsed       decimal.Decimal `json:"creditUsed"`
	CashPaid         decimal.Decimal `json:"cashPaid"`
	CreditAdded      decimal.Decimal `json:"creditAdded"`
	TransactionRef   string          `json:"transactionRef,omitempty"`
	TransferOrderID  string          `json:"transferOrderId,omitempty"`
	NewCreditBalance decimal.Decimal `json:"newCreditBalance"`
}

// ErrSettlementFailed matches any *FailedError.
var ErrSettlementFailed = errors.New("settlement failed")

// FailedError reports a gateway failure on the cash or hybrid path. The
// ledger is never touched when this error is returned.
type FailedError struct {
	Method Method
	Amount decimal.Decimal
	Reason string
}

func (e *FailedError) Error() string {
	if e.Method == MethodHybrid {
		return fmt.Sprintf("settlement failed: transfer of %s %s failed: %s. Your credit balance is safe.",
			finance.Format(e.Amount), finance.Currency, e.Reason)
	}
	return fmt.Sprintf("settlement failed: transfer of %s %s failed: %s. No credit was used.",
		finance.Format(e.Amount), finance.Currency, e.Reason)
}

func (e *FailedError) Is(target error) bool {
	return target == ErrSettlementFailed
}

// ErrReconciliation matches any *ReconciliationError.
var ErrReconciliation = errors.New("settlement: reconciliation required")

// ReconciliationError means the hybrid transfer went through but the credit
// deduction did not. The user has been paid in cash and still holds the
// credit; TransactionRef identifies the transfer for manual follow-up.
type ReconciliationError struct {
	UserID         string
	TransactionRef string
	CreditToDeduct decimal.Decimal
	Cause          error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("settlement: transfer %s succeeded but deducting %s credit from %s failed: %v",
		e.TransactionRef, finance.Format(e.CreditToDeduct), e.UserID, e.Cause)
}

func (e *ReconciliationError) Is(target error) bool {
	return target == ErrReconciliation
}

func (e *ReconciliationError) Unwrap() error {
	return e.Cause
}
