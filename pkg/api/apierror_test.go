package api_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbhayRathi/AgenticRefunds/pkg/api"
	"github.com/AbhayRathi/AgenticRefunds/pkg/ledger"
	"github.com/AbhayRathi/AgenticRefunds/pkg/settlement"
	"github.com/AbhayRathi/AgenticRefunds/pkg/validation"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) api.ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var problem api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
	return problem
}

func TestWriteError_Problem(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteError(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "unknown issue type")

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	problem := decodeProblem(t, w)
	assert.Equal(t, 422, problem.Status)
	assert.Equal(t, "/errors/422", problem.Type)
	assert.Equal(t, "unknown issue type", problem.Detail)
}

func TestWriteInternal_HidesCause(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.7:6379: connect: connection refused")
	for name, write := range map[string]func(http.ResponseWriter, *http.Request){
		"direct":       func(w http.ResponseWriter, r *http.Request) { api.WriteInternal(w, r, cause) },
		"domain error": func(w http.ResponseWriter, r *http.Request) { api.WriteDomainError(w, r, cause) },
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/refund/ledger/user-9", nil)
			w := httptest.NewRecorder()
			write(w, req)

			require.Equal(t, http.StatusInternalServerError, w.Code)
			problem := decodeProblem(t, w)
			assert.NotContains(t, problem.Detail, "10.0.0.7")
			assert.Equal(t, "/api/refund/ledger/user-9", problem.Instance)
		})
	}
}

func TestWriteTooManyRequests_SetsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 7)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "7", w.Header().Get("Retry-After"))
}

func TestWriteErrorR_CarriesInstanceAndTrace(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/refund/ledger/user-9", nil)
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-refund-1")

	api.WriteErrorR(w, req, http.StatusBadRequest, "Bad Request", "bad input")

	problem := decodeProblem(t, w)
	assert.Equal(t, "/api/refund/ledger/user-9", problem.Instance)
	assert.Equal(t, "req-refund-1", problem.TraceID)
}

func TestWriteDomainError_Mapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		field  string
		hidden bool
	}{
		{"validation", validation.Errorf("amount", "must be greater than zero"), http.StatusBadRequest, "amount", false},
		{"wrapped validation", fmt.Errorf("evaluator: %w", validation.Errorf("systemLogs", "empty")), http.StatusBadRequest, "systemLogs", false},
		{"insufficient credit", &ledger.InsufficientCreditError{UserID: "u", Available: decimal.NewFromInt(1), Required: decimal.NewFromInt(2)}, http.StatusConflict, "", false},
		{"settlement failed", &settlement.FailedError{Method: settlement.MethodCash, Amount: decimal.NewFromInt(8), Reason: "network"}, http.StatusBadGateway, "", false},
		{"reconciliation", &settlement.ReconciliationError{UserID: "u", TransactionRef: "0x1", Cause: ledger.ErrInsufficientCredit}, http.StatusInternalServerError, "", true},
		{"unknown", errors.New("redis: connection pool timeout"), http.StatusInternalServerError, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/refund/negotiate", nil)
			w := httptest.NewRecorder()
			api.WriteDomainError(w, req, tt.err)

			require.Equal(t, tt.status, w.Code)
			problem := decodeProblem(t, w)
			assert.Equal(t, tt.field, problem.Field)
			exposed := problem.Detail != "" && strings.Contains(tt.err.Error(), problem.Detail)
			assert.NotEqual(t, tt.hidden, exposed, "detail %q", problem.Detail)
		})
	}
}
