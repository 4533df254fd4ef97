package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// AdmissionRule is a CEL expression over the variable `policy` that must
// evaluate to true for a policy to enter the corpus.
type AdmissionRule struct {
	Name       string
	Expression string
}

// DefaultAdmissionRules guard corpus hygiene. They do not reject policies
// without conditions; those are legal and never match.
var DefaultAdmissionRules = []AdmissionRule{
	{Name: "id-format", Expression: `policy.id.matches("^[A-Za-z0-9][A-Za-z0-9_.-]*$")`},
	{Name: "title-present", Expression: `size(policy.title) > 0`},
	{Name: "percentage-range", Expression: `policy.refundPercentage >= 0.0 && policy.refundPercentage <= 100.0`},
	{Name: "known-metric", Expression: `policy.conditions.all(c, c.type in ["DELIVERY_LATENCY", "TEMPERATURE", "ERROR_COUNT", "CUSTOMER_COMPLAINTS"])`},
	{Name: "known-operator", Expression: `policy.conditions.all(c, c.operator in ["GREATER_THAN", "LESS_THAN", "EQUAL_TO"])`},
}

// AdmissionError reports the first rule a policy violated.
type AdmissionError struct {
	PolicyID string
	Rule     string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("policy %q rejected by admission rule %s", e.PolicyID, e.Rule)
}

// Admission checks policies against a fixed rule set.
type Admission struct {
	env      *cel.Env
	rules    []AdmissionRule
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewAdmission compiles an environment for rules. A nil slice selects
// DefaultAdmissionRules.
func NewAdmission(rules []AdmissionRule) (*Admission, error) {
	env, err := cel.NewEnv(cel.Variable("policy", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("policy: create CEL environment: %w", err)
	}
	if rules == nil {
		rules = DefaultAdmissionRules
	}
	a := &Admission{env: env, rules: rules, prgCache: make(map[string]cel.Program)}
	// Compile eagerly so a broken rule set fails at startup.
	for _, r := range rules {
		if _, err := a.program(r.Expression); err != nil {
			return nil, fmt.Errorf("policy: rule %s: %w", r.Name, err)
		}
	}
	return a, nil
}

// Check returns an *AdmissionError for the first violated rule.
func (a *Admission) Check(p RefundPolicy) error {
	input := map[string]any{"policy": celInput(p)}
	for _, r := range a.rules {
		prg, err := a.program(r.Expression)
		if err != nil {
			return fmt.Errorf("policy: rule %s: %w", r.Name, err)
		}
		out, _, err := prg.Eval(input)
		if err != nil {
			return fmt.Errorf("policy: rule %s: eval: %w", r.Name, err)
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return fmt.Errorf("policy: rule %s: result not bool", r.Name)
		}
		if !ok {
			return &AdmissionError{PolicyID: p.ID, Rule: r.Name}
		}
	}
	return nil
}

func (a *Admission) program(expr string) (cel.Program, error) {
	a.mu.RLock()
	prg, hit := a.prgCache[expr]
	a.mu.RUnlock()
	if hit {
		return prg, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if prg, hit = a.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := a.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := a.env.Program(ast, cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	a.prgCache[expr] = prg
	return prg, nil
}

func celInput(p RefundPolicy) map[string]any {
	conds := make([]any, 0, len(p.Conditions))
	for _, c := range p.Conditions {
		conds = append(conds, map[string]any{
			"type":      string(c.Type),
			"operator":  string(c.Operator),
			"threshold": c.Threshold,
		})
	}
	return map[string]any{
		"id":               p.ID,
		"title":            p.Title,
		"description":      p.Description,
		"refundPercentage": p.RefundPercentage,
		"conditions":       conds,
	}
}
