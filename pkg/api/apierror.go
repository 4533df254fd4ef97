// Package api exposes the refund engine over HTTP. Errors are RFC 7807
// Problem Details.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AbhayRathi/AgenticRefunds/pkg/ledger"
	"github.com/AbhayRathi/AgenticRefunds/pkg/settlement"
	"github.com/AbhayRathi/AgenticRefunds/pkg/validation"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
	// Field names the offending input on validation problems.
	Field string `json:"field,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func problemType(status int) string {
	return "/errors/" + strconv.Itoa(status)
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{Type: problemType(status), Title: title, Status: status, Detail: detail})
}

// WriteErrorR writes an RFC 7807 response enriched with request context
// (trace_id from X-Request-ID, instance from request URI).
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:     problemType(status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	})
}

// WriteConflict writes a 409 error response (used for idempotency).
func WriteConflict(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusConflict, "Conflict", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "request_id", w.Header().Get("X-Request-ID"), "error", err)
	WriteErrorR(w, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteDomainError maps engine errors onto problem responses.
//
//	validation.ErrInvalid           400
//	settlement.ErrReconciliation    500
//	ledger.ErrInsufficientCredit    409
//	settlement.ErrSettlementFailed  502
//	anything else                   500, detail hidden
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		writeProblem(w, &ProblemDetail{
			Type:     problemType(http.StatusBadRequest),
			Title:    "Bad Request",
			Status:   http.StatusBadRequest,
			Detail:   verr.Error(),
			Instance: r.URL.Path,
			TraceID:  w.Header().Get("X-Request-ID"),
			Field:    verr.Field,
		})
	case errors.Is(err, validation.ErrInvalid):
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, settlement.ErrReconciliation):
		slog.ErrorContext(r.Context(), "settlement needs reconciliation", "path", r.URL.Path, "error", err)
		WriteErrorR(w, r, http.StatusInternalServerError, "Settlement Incomplete",
			"The refund was paid but the account could not be updated. Support has been notified.")
	case errors.Is(err, ledger.ErrInsufficientCredit):
		WriteErrorR(w, r, http.StatusConflict, "Insufficient Credit", err.Error())
	case errors.Is(err, settlement.ErrSettlementFailed):
		WriteErrorR(w, r, http.StatusBadGateway, "Settlement Failed", err.Error())
	default:
		WriteInternal(w, r, err)
	}
}
