package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AbhayRathi/AgenticRefunds/pkg/delivery"
	"github.com/AbhayRathi/AgenticRefunds/pkg/evaluator"
	"github.com/AbhayRathi/AgenticRefunds/pkg/finance"
	"github.com/AbhayRathi/AgenticRefunds/pkg/ledger"
	"github.com/AbhayRathi/AgenticRefunds/pkg/settlement"
	"github.com/AbhayRathi/AgenticRefunds/pkg/store"
	"github.com/AbhayRathi/AgenticRefunds/pkg/validation"
)

// recentReceiptLimit bounds the receipts returned with a ledger view.
const recentReceiptLimit = 10

// Evaluator decides refunds.
type Evaluator interface {
	Evaluate(ctx context.Context, orderID string, events []delivery.SystemEvent, order delivery.DeliveryOrder) (*evaluator.Decision, error)
}

// Settler pays refunds out.
type Settler interface {
	Settle(ctx context.Context, req settlement.Request) (*settlement.Result, error)
}

// ReceiptReader reads the settlement journal.
type ReceiptReader interface {
	Get(ctx context.Context, id string) (store.Receipt, bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]store.Receipt, error)
}

// RefundServer serves the refund HTTP API.
type RefundServer struct {
	evaluator Evaluator
	settler   Settler
	ledger    ledger.Store
	receipts  ReceiptReader
	schemas   schemaSet
	now       func() time.Time
	logger    *slog.Logger
}

type ServerOption func(*RefundServer)

// WithReceipts serves refund status from the journal and includes recent
// receipts in ledger responses.
func WithReceipts(r ReceiptReader) ServerOption {
	return func(s *RefundServer) { s.receipts = r }
}

// WithClock overrides the time source used for refund ids and timestamps.
func WithClock(now func() time.Time) ServerOption {
	return func(s *RefundServer) { s.now = now }
}

func NewRefundServer(ev Evaluator, settler Settler, accounts ledger.Store, opts ...ServerOption) (*RefundServer, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	s := &RefundServer{
		evaluator: ev,
		settler:   settler,
		ledger:    accounts,
		schemas:   schemas,
		now:       time.Now,
		logger:    slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Routes registers the API on a new mux.
func (s *RefundServer) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/refund/evaluate", s.handleEvaluate)
	mux.HandleFunc("POST /api/refund/process", s.handleProcess)
	mux.HandleFunc("POST /api/refund/negotiate", s.handleNegotiate)
	mux.HandleFunc("POST /api/refund/simulate", s.handleSimulate)
	mux.HandleFunc("GET /api/refund/status/{refundId}", s.handleStatus)
	mux.HandleFunc("GET /api/refund/ledger/{userId}", s.handleLedger)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Handler wraps Routes with middleware, outermost first.
func (s *RefundServer) Handler(middleware ...func(http.Handler) http.Handler) http.Handler {
	var h http.Handler = s.Routes()
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// decode reads, schema-validates and unmarshals a request body. It writes
// the error response itself and reports whether the handler may continue.
func (s *RefundServer) decode(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteErrorR(w, r, http.StatusRequestEntityTooLarge, "Payload Too Large", "Request body exceeds 1MB")
			return false
		}
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Could not read request body")
		return false
	}
	if err := s.schemas.validate(schema, body); err != nil {
		WriteDomainError(w, r, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		WriteDomainError(w, r, validation.Errorf("", "malformed request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *RefundServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !s.decode(w, r, schemaEvaluate, &req) {
		return
	}
	d, err := s.evaluator.Evaluate(r.Context(), req.OrderID, req.SystemLogs, req.DeliveryOrder)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	msg := "Refund not approved based on current policies"
	if d.ShouldRefund {
		msg = "Refund approved"
	}
	writeJSON(w, http.StatusOK, EvaluateResponse{Evaluation: newEvaluation(d), Message: msg})
}

// handleProcess evaluates and, when approved, pays the refund to the
// customer's wallet. Gateway failures are reported as status FAILED rather
// than an HTTP error so the caller always gets the decision back.
func (s *RefundServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if !s.decode(w, r, schemaProcess, &req) {
		return
	}
	d, err := s.evaluator.Evaluate(r.Context(), req.OrderID, req.SystemLogs, req.DeliveryOrder)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	now := s.now()
	resp := ProcessResponse{
		RefundID:        refundID(req.OrderID, now),
		OrderID:         req.OrderID,
		Amount:          amount(d.RefundAmount),
		Status:          StatusRejected,
		Reasoning:       d.Reasoning,
		MatchedPolicies: d.MatchedPolicies,
		Timestamp:       now.UnixMilli(),
	}
	if !d.ShouldRefund {
		resp.Amount = "0"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if !d.RefundAmount.IsPositive() {
		resp.Status = StatusCompleted
		writeJSON(w, http.StatusOK, resp)
		return
	}

	res, err := s.settler.Settle(r.Context(), settlement.Request{
		UserID:          req.CustomerID,
		Amount:          d.RefundAmount,
		WalletAddress:   req.CustomerWalletAddress,
		PreferredMethod: settlement.MethodCash,
		Reference:       req.OrderID,
		RefundID:        resp.RefundID,
	})
	switch {
	case errors.Is(err, settlement.ErrSettlementFailed):
		resp.Status = StatusFailed
		resp.Error = err.Error()
	case err != nil:
		WriteDomainError(w, r, err)
		return
	default:
		resp.Status = StatusCompleted
		resp.TransactionHash = res.TransactionRef
		resp.Settlement = newSettlement(res)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *RefundServer) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	var req NegotiateRequest
	if !s.decode(w, r, schemaNegotiate, &req) {
		return
	}
	base, err := finance.FromFloat(req.Amount)
	if err != nil {
		WriteDomainError(w, r, validation.Errorf("amount", "%v", err))
		return
	}
	id := refundID(req.OrderID, s.now())
	res, err := s.settler.Settle(r.Context(), settlement.Request{
		UserID:          req.CustomerID,
		Amount:          base,
		WalletAddress:   req.WalletAddress,
		PreferredMethod: settlement.Method(req.Choice),
		Reference:       req.OrderID,
		RefundID:        id,
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	total, bonus := base, decimal.Zero
	if res.Method == settlement.MethodCredit {
		total = res.CreditAdded
		bonus = res.CreditAdded.Sub(base)
	}
	writeJSON(w, http.StatusOK, NegotiateResponse{
		RefundID:    id,
		OrderID:     req.OrderID,
		CustomerID:  req.CustomerID,
		Approved:    true,
		BaseAmount:  amount(base),
		BonusAmount: amount(bonus),
		TotalAmount: amount(total),
		Settlement:  newSettlement(res),
	})
}

func (s *RefundServer) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if !s.decode(w, r, schemaSimulate, &req) {
		return
	}
	events, err := delivery.Simulate(req.IssueType, req.LatencyMs, s.now().UnixMilli())
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SimulateResponse{
		SystemLogs: events,
		Message:    "Simulated " + string(req.IssueType) + " issue",
	})
}

// refundID is the journal key of a settlement attempt for orderID.
func refundID(orderID string, at time.Time) string {
	return "ref-" + orderID + "-" + strconv.FormatInt(at.UnixMilli(), 10)
}

// handleStatus reports a settled or failed refund. Rejected refunds and
// approved zero amounts never reach settlement and are not found.
func (s *RefundServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("refundId")
	if s.receipts == nil {
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", "No settlement recorded for refund "+id)
		return
	}
	rec, ok, err := s.receipts.Get(r.Context(), id)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	if !ok {
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", "No settlement recorded for refund "+id)
		return
	}
	writeJSON(w, http.StatusOK, newRefundStatus(rec))
}

func (s *RefundServer) handleLedger(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	ctx := r.Context()

	acct, _, err := s.ledger.Account(ctx, userID)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	resp := LedgerResponse{
		UserID:             userID,
		StoreCreditBalance: amount(acct.Balance),
		WalletAddress:      acct.WalletAddress,
	}
	if resp.WalletAddress == "" {
		resp.WalletAddress = "Not set"
	}
	if s.receipts != nil {
		receipts, err := s.receipts.ListByUser(ctx, userID, recentReceiptLimit)
		if err != nil {
			s.logger.WarnContext(ctx, "receipts unavailable", "user_id", userID, "error", err)
		} else {
			resp.RecentReceipts = receipts
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *RefundServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
