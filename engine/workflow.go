package engine

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
)

// workflowDoc is the persisted JSON shape of an earning rule. Field
// matching is case-insensitive, so documents authored with PascalCase
// keys ("WorkflowName", "Rules") parse the same way.
type workflowDoc struct {
	WorkflowName string    `json:"workflowName"`
	Rules        []ruleDoc `json:"rules"`
}

type ruleDoc struct {
	RuleName     string `json:"ruleName"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Expression   string `json:"expression"`
	OnSuccess    string `json:"onSuccess"`
}

// parseWorkflowDoc deserializes and structurally validates a rule
// document. A document is valid iff it is well-formed JSON, the
// workflow name is non-empty, the rule list is non-empty, and every
// rule carries a name, a match expression and an onSuccess expression.
func parseWorkflowDoc(ruleJSON string) (*workflowDoc, error) {
	var doc workflowDoc
	if err := json.Unmarshal([]byte(ruleJSON), &doc); err != nil {
		return nil, fmt.Errorf("malformed rule document: %w", err)
	}
	if doc.WorkflowName == "" {
		return nil, fmt.Errorf("workflow name is required")
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("workflow %q has no rules", doc.WorkflowName)
	}
	for i, r := range doc.Rules {
		if r.RuleName == "" {
			return nil, fmt.Errorf("workflow %q: rule %d has no name", doc.WorkflowName, i)
		}
		if r.Expression == "" {
			return nil, fmt.Errorf("workflow %q: rule %q has no expression", doc.WorkflowName, r.RuleName)
		}
		if r.OnSuccess == "" {
			return nil, fmt.Errorf("workflow %q: rule %q has no onSuccess action", doc.WorkflowName, r.RuleName)
		}
	}
	return &doc, nil
}

// Workflow is a compiled, evaluation-ready earning rule workflow.
// Workflows are immutable once compiled; the registry replaces them
// wholesale on reload.
type Workflow struct {
	Name  string
	rules []compiledRule
}

type compiledRule struct {
	name         string
	errorMessage string
	match        cel.Program
	award        cel.Program
}

// Execute runs the workflow's rules in order against the fact context.
// The first rule whose match expression evaluates to true fires its
// award action and ends the pass; a non-boolean match result counts as
// no match. Any evaluation error, including an award value that is not
// a non-negative integer, aborts the workflow.
func (w *Workflow) Execute(facts map[string]any) (points int, matched bool, err error) {
	for _, rule := range w.rules {
		out, _, err := rule.match.Eval(facts)
		if err != nil {
			return 0, false, fmt.Errorf("rule %q: %w", rule.name, err)
		}

		ok, isBool := out.Value().(bool)
		if !isBool || !ok {
			continue
		}

		awardOut, _, err := rule.award.Eval(facts)
		if err != nil {
			return 0, false, fmt.Errorf("rule %q award: %w", rule.name, err)
		}

		points, err = awardPoints(awardOut.Value())
		if err != nil {
			return 0, false, fmt.Errorf("rule %q award: %w", rule.name, err)
		}
		return points, true, nil
	}

	return 0, false, nil
}

// awardPoints converts an award expression result into a point value.
// Results that are non-numeric, non-integral or negative are rejected.
func awardPoints(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("award value %d is negative", n)
		}
		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			return 0, fmt.Errorf("award value %d overflows", n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, fmt.Errorf("award value %v is not an integer", n)
		}
		if n < 0 {
			return 0, fmt.Errorf("award value %v is negative", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("award value %v (%T) is not numeric", v, v)
	}
}
