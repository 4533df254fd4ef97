package policy

// MatchResult is the outcome of evaluating a candidate set.
type MatchResult struct {
	Matched          []RefundPolicy `json:"matchedPolicies"`
	RefundPercentage float64        `json:"refundPercentage"`
}

// Match evaluates every candidate policy against m. A policy matches only if
// it has at least one condition and all of them hold. The refund percentage
// is the maximum over the matched policies, or 0 when none match.
func Match(m Metrics, policies []RefundPolicy) MatchResult {
	res := MatchResult{Matched: []RefundPolicy{}}
	for _, p := range policies {
		if !Satisfied(m, p) {
			continue
		}
		res.Matched = append(res.Matched, p)
		if p.RefundPercentage > res.RefundPercentage {
			res.RefundPercentage = p.RefundPercentage
		}
	}
	return res
}

// Satisfied reports whether p matches m.
func Satisfied(m Metrics, p RefundPolicy) bool {
	if len(p.Conditions) == 0 {
		return false
	}
	for _, c := range p.Conditions {
		if !c.Holds(m) {
			return false
		}
	}
	return true
}

// Holds evaluates a single condition. Unknown metric types and operators
// never hold.
func (c Condition) Holds(m Metrics) bool {
	v, ok := m.Value(c.Type)
	if !ok {
		return false
	}
	switch c.Operator {
	case OpGreaterThan:
		return v > c.Threshold
	case OpLessThan:
		return v < c.Threshold
	case OpEqualTo:
		return v == c.Threshold
	default:
		return false
	}
}
