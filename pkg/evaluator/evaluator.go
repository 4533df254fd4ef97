// Package evaluator turns a delivery's event history into a refund decision.
//
// The decision itself is numeric: metrics are extracted from the events and
// matched against candidate policies. Retrieval and explanation are
// best-effort collaborators; when they fail the decision is unchanged and the
// fallback is reported on the Decision.
package evaluator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/AbhayRathi/AgenticRefunds/pkg/delivery"
	"github.com/AbhayRathi/AgenticRefunds/pkg/finance"
	"github.com/AbhayRathi/AgenticRefunds/pkg/llm"
	"github.com/AbhayRathi/AgenticRefunds/pkg/observability"
	"github.com/AbhayRathi/AgenticRefunds/pkg/policy"
	"github.com/AbhayRathi/AgenticRefunds/pkg/store"
	"github.com/AbhayRathi/AgenticRefunds/pkg/validation"
)

// CandidateLimit is the number of policies retrieved per evaluation.
const CandidateLimit = 5

const (
	ConfidenceMatched   = 0.85
	ConfidenceUnmatched = 0.15
)

// Retriever returns candidate policies for a query vector.
type Retriever interface {
	Retrieve(ctx context.Context, vector store.Embedding, limit int) (store.Retrieval, error)
}

// Decision is the outcome of one evaluation.
type Decision struct {
	OrderID           string                `json:"orderId"`
	ShouldRefund      bool                  `json:"shouldRefund"`
	RefundPercentage  float64               `json:"refundPercentage"`
	RefundAmount      decimal.Decimal       `json:"refundAmount"`
	MatchedPolicies   []policy.RefundPolicy `json:"matchedPolicies"`
	Reasoning         string                `json:"reasoning"`
	ReasoningSource   ReasoningSource       `json:"reasoningSource"`
	Confidence        float64               `json:"confidence"`
	RetrievalFallback bool                  `json:"retrievalFallback"`
	Metrics           policy.Metrics        `json:"metrics"`
}

type Evaluator struct {
	embedder   store.Embedder
	retriever  Retriever
	explainer  Explainer
	dimensions int
	obs        *observability.Provider
	logger     *slog.Logger
}

type Option func(*Evaluator)

func WithExplainer(x Explainer) Option {
	return func(e *Evaluator) { e.explainer = x }
}

func WithObservability(p *observability.Provider) Option {
	return func(e *Evaluator) { e.obs = p }
}

// WithDimensions sets the length of the zero vector used when embedding
// fails.
func WithDimensions(n int) Option {
	return func(e *Evaluator) { e.dimensions = n }
}

func New(embedder store.Embedder, retriever Retriever, opts ...Option) *Evaluator {
	e := &Evaluator{
		embedder:   embedder,
		retriever:  retriever,
		dimensions: store.DefaultVectorDimensions,
		obs:        observability.Disabled(),
		logger:     slog.Default().With("component", "evaluator"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decides whether order deserves a refund. It fails only on invalid
// input or when no candidate policies can be read at all.
func (e *Evaluator) Evaluate(ctx context.Context, orderID string, events []delivery.SystemEvent, order delivery.DeliveryOrder) (d *Decision, err error) {
	if err := validation.NonEmpty("orderId", orderID); err != nil {
		return nil, err
	}
	if err := delivery.ValidateEvents(events); err != nil {
		return nil, err
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	total, err := finance.FromFloat(order.TotalAmount)
	if err != nil {
		return nil, validation.Errorf("deliveryOrder.totalAmount", "%v", err)
	}

	ctx, finish := e.obs.TrackOperation(ctx, "refund.evaluate", observability.EvaluationOperation(orderID, len(events))...)
	defer func() {
		if d != nil {
			observability.SpanFromContext(ctx).SetAttributes(
				observability.AttrShouldRefund.Bool(d.ShouldRefund),
				observability.AttrRefundPercentage.Float64(d.RefundPercentage),
				observability.AttrMatchedPolicies.Int(len(d.MatchedPolicies)),
				observability.AttrRetrievalFellBack.Bool(d.RetrievalFallback),
				observability.AttrReasoningSource.String(string(d.ReasoningSource)),
			)
			e.obs.RecordDecision(ctx, d.ShouldRefund, d.RetrievalFallback, string(d.ReasoningSource))
		}
		finish(err)
	}()

	metrics := policy.ExtractMetrics(events)
	vector := e.embed(ctx, BuildQuery(orderID, events))

	retrieval, err := e.retriever.Retrieve(ctx, vector, CandidateLimit)
	if err != nil {
		return nil, err
	}
	if retrieval.Fallback {
		e.logger.WarnContext(ctx, "evaluating against unranked policies", "order_id", orderID, "cause", retrieval.Cause)
	}

	result := policy.Match(metrics, retrieval.Policies)
	matched := stripEmbeddings(result.Matched)

	d = &Decision{
		OrderID:           orderID,
		ShouldRefund:      len(matched) > 0,
		RefundPercentage:  result.RefundPercentage,
		RefundAmount:      finance.RefundAmount(total, result.RefundPercentage),
		MatchedPolicies:   matched,
		Confidence:        ConfidenceUnmatched,
		RetrievalFallback: retrieval.Fallback,
		Metrics:           metrics,
	}
	if d.ShouldRefund {
		d.Confidence = ConfidenceMatched
	}
	d.Reasoning, d.ReasoningSource = e.explain(ctx, order, events, matched)

	e.logger.InfoContext(ctx, "refund evaluated",
		"order_id", orderID,
		"should_refund", d.ShouldRefund,
		"refund_percentage", d.RefundPercentage,
		"matched", len(matched),
		"reasoning_source", d.ReasoningSource,
	)
	return d, nil
}

// embed never fails. An embedder error yields a zero vector, which the
// policy stores reject and the retriever then falls back from.
func (e *Evaluator) embed(ctx context.Context, query string) store.Embedding {
	if e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, query)
		if err == nil && len(vec) > 0 {
			return vec
		}
		e.logger.WarnContext(ctx, "query embedding failed", "error", err)
	}
	return make(store.Embedding, e.dimensions)
}

func (e *Evaluator) explain(ctx context.Context, order delivery.DeliveryOrder, events []delivery.SystemEvent, matched []policy.RefundPolicy) (string, ReasoningSource) {
	if e.explainer == nil {
		return TemplateReasoning(matched), SourceTemplate
	}
	text, err := e.explainer.Explain(ctx, order, events, matched)
	if err != nil {
		var serr *llm.StatusError
		transient := errors.As(err, &serr) && serr.Retryable()
		e.logger.WarnContext(ctx, "explanation provider failed, using template",
			"order_id", order.OrderID, "transient", transient, "error", err)
		return TemplateReasoning(matched), SourceTemplate
	}
	return text, SourceProvider
}

func stripEmbeddings(policies []policy.RefundPolicy) []policy.RefundPolicy {
	out := make([]policy.RefundPolicy, len(policies))
	for i, p := range policies {
		p.Embedding = nil
		out[i] = p
	}
	return out
}
