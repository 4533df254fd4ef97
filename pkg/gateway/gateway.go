// Package gateway performs stablecoin payouts.
//
// A Gateway never returns a Go error. Every failure, including transport
// errors and cancelled contexts, is reported as a TransferResponse with
// Success false.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// TransferRequest is a single payout instruction.
type TransferRequest struct {
	RecipientAddress string          `json:"recipientAddress"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	OrderID          string          `json:"orderId"`
}

// TransferResponse is the outcome of a transfer attempt.
type TransferResponse struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Gateway moves funds to a wallet.
type Gateway interface {
	Transfer(ctx context.Context, req TransferRequest) TransferResponse
}

// Failed builds an unsuccessful response.
func Failed(msg string) TransferResponse {
	return TransferResponse{Success: false, Error: msg}
}
