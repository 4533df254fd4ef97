package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPGateway calls a payout service over HTTP:
//
//	POST {baseURL}/transfers
//	{"recipientAddress": "...", "amount": "10.5", "currency": "USDC", "orderId": "..."}
//
// and expects {"success": bool, "transactionHash": "...", "error": "..."}.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPGateway creates a gateway client. The client timeout is an upper
// bound; callers normally impose a tighter deadline through ctx.
func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  slog.Default().With("component", "gateway"),
	}
}

type transferBody struct {
	RecipientAddress string `json:"recipientAddress"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	OrderID          string `json:"orderId"`
}

func (g *HTTPGateway) Transfer(ctx context.Context, req TransferRequest) TransferResponse {
	resp, err := g.do(ctx, req)
	if err != nil {
		g.logger.ErrorContext(ctx, "transfer failed", "order_id", req.OrderID, "error", err)
		return Failed(err.Error())
	}
	if !resp.Success && resp.Error == "" {
		resp.Error = "transfer rejected"
	}
	return resp
}

func (g *HTTPGateway) do(ctx context.Context, req TransferRequest) (TransferResponse, error) {
	body, err := json.Marshal(transferBody{
		RecipientAddress: req.RecipientAddress,
		Amount:           req.Amount.String(),
		Currency:         req.Currency,
		OrderID:          req.OrderID,
	})
	if err != nil {
		return TransferResponse{}, fmt.Errorf("gateway: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return TransferResponse{}, fmt.Errorf("gateway: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return TransferResponse{}, fmt.Errorf("gateway: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return TransferResponse{}, fmt.Errorf("gateway: read response: %w", err)
	}

	var out TransferResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if httpResp.StatusCode >= 300 {
			return TransferResponse{}, fmt.Errorf("gateway: status %d", httpResp.StatusCode)
		}
		return TransferResponse{}, fmt.Errorf("gateway: decode response: %w", err)
	}
	if httpResp.StatusCode >= 300 {
		out.Success = false
		if out.Error == "" {
			out.Error = fmt.Sprintf("gateway: status %d", httpResp.StatusCode)
		}
	}
	if out.Success && out.TransactionHash == "" {
		return TransferResponse{}, fmt.Errorf("gateway: success without transaction hash")
	}
	return out, nil
}
