package observability

import (
	"go.opentelemetry.io/otel/attribute"
)

// Refund semantic convention attributes.
var (
	AttrOperation = attribute.Key("refund.operation")

	AttrOrderID           = attribute.Key("refund.order_id")
	AttrRefundPercentage  = attribute.Key("refund.percentage")
	AttrShouldRefund      = attribute.Key("refund.approved")
	AttrMatchedPolicies   = attribute.Key("refund.matched_policies")
	AttrRetrievalFellBack = attribute.Key("refund.retrieval_fallback")
	AttrReasoningSource   = attribute.Key("refund.reasoning_source")

	AttrUserID           = attribute.Key("settlement.user_id")
	AttrSettlementMethod = attribute.Key("settlement.method")
	AttrPreferredMethod  = attribute.Key("settlement.preferred_method")
)

// EvaluationOperation creates attributes for a refund evaluation.
func EvaluationOperation(orderID string, eventCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrOrderID.String(orderID),
		attribute.Int("refund.event_count", eventCount),
	}
}

// SettlementOperation creates attributes for a settlement attempt.
func SettlementOperation(userID, preferred string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrUserID.String(userID),
		AttrPreferredMethod.String(preferred),
	}
}
