package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"

	"github.com/AbhayRathi/AgenticRefunds/pkg/finance"
	"github.com/AbhayRathi/AgenticRefunds/pkg/validation"
)

// Simulated is an in-process gateway for demos and local runs. It validates
// the request the way a real payout service would and returns a random
// 32-byte transaction hash.
type Simulated struct {
	mu        sync.Mutex
	failWith  string
	transfers []TransferRequest
	logger    *slog.Logger
}

func NewSimulated() *Simulated {
	return &Simulated{logger: slog.Default().With("component", "gateway", "mode", "simulated")}
}

// FailWith makes subsequent transfers fail with msg. An empty msg restores
// success.
func (s *Simulated) FailWith(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = msg
}

// Transfers returns the successful transfers so far.
func (s *Simulated) Transfers() []TransferRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TransferRequest(nil), s.transfers...)
}

func (s *Simulated) Transfer(ctx context.Context, req TransferRequest) TransferResponse {
	if err := ctx.Err(); err != nil {
		return Failed(err.Error())
	}
	if err := validation.WalletAddress("recipientAddress", req.RecipientAddress); err != nil {
		return Failed(err.Error())
	}
	if !req.Amount.IsPositive() {
		return Failed("amount must be greater than zero")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != "" {
		return Failed(s.failWith)
	}

	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return Failed(err.Error())
	}
	s.transfers = append(s.transfers, req)
	hash := "0x" + hex.EncodeToString(b[:])
	s.logger.InfoContext(ctx, "transfer simulated",
		"order_id", req.OrderID, "amount", finance.Format(req.Amount), "currency", req.Currency, "tx", hash)
	return TransferResponse{Success: true, TransactionHash: hash}
}
