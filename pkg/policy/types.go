// Package policy implements the numeric half of a refund decision: reducing a
// delivery's event history to scalar metrics and matching those metrics
// against threshold-based refund policies.
//
// Everything in this package is pure. Matching never errors; conditions it
// cannot interpret simply do not hold.
package policy

// MetricType selects which extracted metric a condition compares.
type MetricType string

const (
	MetricDeliveryLatency    MetricType = "DELIVERY_LATENCY"
	MetricTemperature        MetricType = "TEMPERATURE"
	MetricErrorCount         MetricType = "ERROR_COUNT"
	MetricCustomerComplaints MetricType = "CUSTOMER_COMPLAINTS"
)

// Operator is the comparison applied between a metric and a threshold.
type Operator string

const (
	OpGreaterThan Operator = "GREATER_THAN"
	OpLessThan    Operator = "LESS_THAN"
	OpEqualTo     Operator = "EQUAL_TO"
)

// Condition is one threshold test. A policy is the conjunction of its
// conditions.
type Condition struct {
	Type      MetricType `json:"type" yaml:"type" bson:"type"`
	Threshold float64    `json:"threshold" yaml:"threshold" bson:"threshold"`
	Operator  Operator   `json:"operator" yaml:"operator" bson:"operator"`
}

// RefundPolicy is a named refund rule. Policies are read-only once loaded.
type RefundPolicy struct {
	ID               string      `json:"id" yaml:"id" bson:"id"`
	Title            string      `json:"title" yaml:"title" bson:"title"`
	Description      string      `json:"description" yaml:"description" bson:"description"`
	Conditions       []Condition `json:"conditions" yaml:"conditions" bson:"conditions"`
	RefundPercentage float64     `json:"refundPercentage" yaml:"refundPercentage" bson:"refundPercentage"`
	Embedding        []float32   `json:"embedding,omitempty" yaml:"embedding,omitempty" bson:"embedding,omitempty"`
}

// DefaultPolicies is the starter corpus seeded into an empty policy store.
func DefaultPolicies() []RefundPolicy {
	return []RefundPolicy{
		{
			ID:          "policy-1",
			Title:       "Late Delivery Refund",
			Description: "Full refund for deliveries delayed by more than 30 minutes",
			Conditions: []Condition{
				{Type: MetricDeliveryLatency, Threshold: 1_800_000, Operator: OpGreaterThan},
			},
			RefundPercentage: 100,
		},
		{
			ID:          "policy-2",
			Title:       "Cold Food Partial Refund",
			Description: "Partial refund for cold food delivery",
			Conditions: []Condition{
				{Type: MetricTemperature, Threshold: 50, Operator: OpLessThan},
			},
			RefundPercentage: 50,
		},
		{
			ID:          "policy-3",
			Title:       "System Error Refund",
			Description: "Partial refund for orders with system errors",
			Conditions: []Condition{
				{Type: MetricErrorCount, Threshold: 2, Operator: OpGreaterThan},
			},
			RefundPercentage: 30,
		},
	}
}
