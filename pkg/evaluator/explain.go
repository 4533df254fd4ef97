package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AbhayRathi/AgenticRefunds/pkg/delivery"
	"github.com/AbhayRathi/AgenticRefunds/pkg/llm"
	"github.com/AbhayRathi/AgenticRefunds/pkg/policy"
)

// ReasoningSource says where a decision's explanation came from.
type ReasoningSource string

const (
	SourceProvider ReasoningSource = "provider"
	SourceTemplate ReasoningSource = "template"
)

// Explainer writes a customer-facing explanation of a decision.
type Explainer interface {
	Explain(ctx context.Context, order delivery.DeliveryOrder, events []delivery.SystemEvent, matched []policy.RefundPolicy) (string, error)
}

// TemplateReasoning is the deterministic explanation used when no provider
// answer is available.
func TemplateReasoning(matched []policy.RefundPolicy) string {
	if len(matched) == 0 {
		return "Your order does not meet the criteria for an automated refund based on our current policies."
	}
	titles := make([]string, len(matched))
	for i, p := range matched {
		titles[i] = p.Title
	}
	var pct float64
	for _, p := range matched {
		if p.RefundPercentage > pct {
			pct = p.RefundPercentage
		}
	}
	return fmt.Sprintf("Based on our refund policies, your order qualifies for a %s%% refund due to: %s. We apologize for the inconvenience.",
		formatPercent(pct), strings.Join(titles, ", "))
}

func formatPercent(p float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", p), "0"), ".")
}

// LLMExplainer asks a chat model for a short explanation.
type LLMExplainer struct {
	client  llm.Client
	options *llm.SamplingOptions
}

func NewLLMExplainer(client llm.Client) *LLMExplainer {
	return &LLMExplainer{client: client, options: &llm.SamplingOptions{Temperature: 0.2, MaxTokens: 300}}
}

const systemPrompt = "You explain automated refund decisions for a food delivery service. Be factual and polite."

func (x *LLMExplainer) Explain(ctx context.Context, order delivery.DeliveryOrder, events []delivery.SystemEvent, matched []policy.RefundPolicy) (string, error) {
	logs, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return "", fmt.Errorf("evaluator: marshal events: %w", err)
	}
	pols, err := json.MarshalIndent(matched, "", "  ")
	if err != nil {
		return "", fmt.Errorf("evaluator: marshal policies: %w", err)
	}
	prompt := fmt.Sprintf(`Given the following delivery order information and matched refund policies, provide a concise explanation for why a refund should or should not be issued.

Order ID: %s
System Logs: %s
Matched Policies: %s

Provide a customer-friendly explanation in 2-3 sentences.`, order.OrderID, logs, pols)

	resp, err := x.client.Chat(ctx, []llm.Message{
		llm.System(systemPrompt),
		llm.User(prompt),
	}, x.options)
	if err != nil {
		return "", fmt.Errorf("evaluator: explain: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errors.New("evaluator: explain: empty response")
	}
	return text, nil
}
