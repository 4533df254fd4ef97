package api

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/AbhayRathi/AgenticRefunds/pkg/delivery"
	"github.com/AbhayRathi/AgenticRefunds/pkg/evaluator"
	"github.com/AbhayRathi/AgenticRefunds/pkg/policy"
	"github.com/AbhayRathi/AgenticRefunds/pkg/settlement"
	"github.com/AbhayRathi/AgenticRefunds/pkg/store"
)

// Refund statuses reported by /process.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusRejected  = "REJECTED"
)

type EvaluateRequest struct {
	OrderID       string                 `json:"orderId"`
	CustomerID    string                 `json:"customerId"`
	SystemLogs    []delivery.SystemEvent `json:"systemLogs"`
	DeliveryOrder delivery.DeliveryOrder `json:"deliveryOrder"`
}

type ProcessRequest struct {
	OrderID               string                 `json:"orderId"`
	CustomerID            string                 `json:"customerId"`
	CustomerWalletAddress string                 `json:"customerWalletAddress"`
	SystemLogs            []delivery.SystemEvent `json:"systemLogs"`
	DeliveryOrder         delivery.DeliveryOrder `json:"deliveryOrder"`
}

type NegotiateRequest struct {
	OrderID       string  `json:"orderId"`
	CustomerID    string  `json:"customerId"`
	WalletAddress string  `json:"walletAddress"`
	Choice        string  `json:"choice"`
	Amount        float64 `json:"amount"`
}

type SimulateRequest struct {
	IssueType delivery.IssueKind `json:"issueType"`
	LatencyMs int64              `json:"latencyMs"`
}

// amount renders a decimal as a bare JSON number without float rounding.
func amount(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

type Evaluation struct {
	ShouldRefund      bool                      `json:"shouldRefund"`
	RefundPercentage  float64                   `json:"refundPercentage"`
	RefundAmount      json.Number               `json:"refundAmount"`
	MatchedPolicies   []policy.RefundPolicy     `json:"matchedPolicies"`
	Reasoning         string                    `json:"reasoning"`
	ReasoningSource   evaluator.ReasoningSource `json:"reasoningSource"`
	Confidence        float64                   `json:"confidence"`
	RetrievalFallback bool                      `json:"retrievalFallback"`
}

func newEvaluation(d *evaluator.Decision) Evaluation {
	return Evaluation{
		ShouldRefund:      d.ShouldRefund,
		RefundPercentage:  d.RefundPercentage,
		RefundAmount:      amount(d.RefundAmount),
		MatchedPolicies:   d.MatchedPolicies,
		Reasoning:         d.Reasoning,
		ReasoningSource:   d.ReasoningSource,
		Confidence:        d.Confidence,
		RetrievalFallback: d.RetrievalFallback,
	}
}

type EvaluateResponse struct {
	Evaluation Evaluation `json:"evaluation"`
	Message    string     `json:"message"`
}

type Settlement struct {
	Method           settlement.Method `json:"method"`
	CreditUsed       json.Number       `json:"creditUsed"`
	CashPaid         json.Number       `json:"cashPaid"`
	CreditAdded      json.Number       `json:"creditAdded"`
	TransactionRef   string            `json:"transactionRef,omitempty"`
	NewCreditBalance json.Number       `json:"newCreditBalance"`
}

func newSettlement(r *settlement.Result) *Settlement {
	return &Settlement{
		Method:           r.Method,
		CreditUsed:       amount(r.CreditUsed),
		CashPaid:         amount(r.CashPaid),
		CreditAdded:      amount(r.CreditAdded),
		TransactionRef:   r.TransactionRef,
		NewCreditBalance: amount(r.NewCreditBalance),
	}
}

type ProcessResponse struct {
	RefundID        string                `json:"refundId"`
	OrderID         string                `json:"orderId"`
	Amount          json.Number           `json:"amount"`
	Status          string                `json:"status"`
	TransactionHash string                `json:"transactionHash,omitempty"`
	Error           string                `json:"error,omitempty"`
	Reasoning       string                `json:"reasoning"`
	MatchedPolicies []policy.RefundPolicy `json:"matchedPolicies"`
	Settlement      *Settlement           `json:"settlement,omitempty"`
	Timestamp       int64                 `json:"timestamp"`
}

type NegotiateResponse struct {
	RefundID    string      `json:"refundId"`
	OrderID     string      `json:"orderId"`
	CustomerID  string      `json:"customerId"`
	Approved    bool        `json:"approved"`
	BaseAmount  json.Number `json:"baseAmount"`
	BonusAmount json.Number `json:"bonusAmount"`
	TotalAmount json.Number `json:"totalAmount"`
	*Settlement
}

type SimulateResponse struct {
	SystemLogs []delivery.SystemEvent `json:"systemLogs"`
	Message    string                 `json:"message"`
}

type LedgerResponse struct {
	UserID             string          `json:"userId"`
	StoreCreditBalance json.Number     `json:"storeCreditBalance"`
	WalletAddress      string          `json:"walletAddress"`
	RecentReceipts     []store.Receipt `json:"recentReceipts,omitempty"`
}

// RefundStatusResponse reports the journaled outcome of one settlement.
type RefundStatusResponse struct {
	RefundID       string            `json:"refundId"`
	OrderID        string            `json:"orderId,omitempty"`
	CustomerID     string            `json:"customerId"`
	Status         string            `json:"status"`
	Method         settlement.Method `json:"method"`
	Amount         json.Number       `json:"amount"`
	CreditUsed     json.Number       `json:"creditUsed"`
	CashPaid       json.Number       `json:"cashPaid"`
	CreditAdded    json.Number       `json:"creditAdded"`
	TransactionRef string            `json:"transactionRef,omitempty"`
	Error          string            `json:"error,omitempty"`
	Timestamp      int64             `json:"timestamp"`
}

func newRefundStatus(r store.Receipt) RefundStatusResponse {
	status := StatusCompleted
	if r.Status == store.ReceiptFailed {
		status = StatusFailed
	}
	return RefundStatusResponse{
		RefundID:       r.ID,
		OrderID:        r.OrderID,
		CustomerID:     r.UserID,
		Status:         status,
		Method:         settlement.Method(r.Method),
		Amount:         amount(r.Amount),
		CreditUsed:     amount(r.CreditUsed),
		CashPaid:       amount(r.CashPaid),
		CreditAdded:    amount(r.CreditAdded),
		TransactionRef: r.TransactionRef,
		Error:          r.Error,
		Timestamp:      r.CreatedAt.UnixMilli(),
	}
}
