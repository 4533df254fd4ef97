package policy

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genPolicy() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 4_000_000),
		gen.Float64Range(0, 120),
		gen.IntRange(0, 6),
		gen.IntRange(0, 3),
	).Map(func(v []any) RefundPolicy {
		conds := []Condition{
			{Type: MetricDeliveryLatency, Threshold: v[1].(float64), Operator: OpGreaterThan},
			{Type: MetricTemperature, Threshold: v[2].(float64), Operator: OpLessThan},
			{Type: MetricErrorCount, Threshold: float64(v[3].(int)), Operator: OpGreaterThan},
		}
		return RefundPolicy{
			ID:               "generated",
			RefundPercentage: v[0].(float64),
			Conditions:       conds[:v[4].(int)],
		}
	})
}

func genMetrics() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(0, 4_000_000),
		gen.Float64Range(0, 120),
		gen.IntRange(0, 8),
	).Map(func(v []any) Metrics {
		return Metrics{DeliveryLatency: v[0].(float64), Temperature: v[1].(float64), ErrorCount: float64(v[2].(int))}
	})
}

// Property: the refund percentage is the max over matched policies, every
// matched policy satisfies all of its conditions, and a policy without
// conditions never matches.
func TestMatchProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("percentage is max over matched", prop.ForAll(
		func(m Metrics, policies []RefundPolicy) bool {
			res := Match(m, policies)
			want := 0.0
			for _, p := range res.Matched {
				if p.RefundPercentage > want {
					want = p.RefundPercentage
				}
			}
			return res.RefundPercentage == want
		},
		genMetrics(),
		gen.SliceOf(genPolicy()),
	))

	properties.Property("matched policies satisfy every condition", prop.ForAll(
		func(m Metrics, policies []RefundPolicy) bool {
			for _, p := range Match(m, policies).Matched {
				if len(p.Conditions) == 0 {
					return false
				}
				for _, c := range p.Conditions {
					if !c.Holds(m) {
						return false
					}
				}
			}
			return true
		},
		genMetrics(),
		gen.SliceOf(genPolicy()),
	))

	properties.Property("match is order independent in percentage", prop.ForAll(
		func(m Metrics, policies []RefundPolicy) bool {
			reversed := make([]RefundPolicy, len(policies))
			for i, p := range policies {
				reversed[len(policies)-1-i] = p
			}
			return Match(m, policies).RefundPercentage == Match(m, reversed).RefundPercentage
		},
		genMetrics(),
		gen.SliceOf(genPolicy()),
	))

	properties.TestingRun(t)
}
