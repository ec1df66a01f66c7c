package engine

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// factVariables are the names a rule expression may reference. They
// mirror the fact context the evaluator builds per transaction.
var factVariables = []string{
	"PurchaseAmount",
	"TransactionCount",
	"UserId",
	"MerchantId",
	"TransactionDate",
}

// Compiler turns persisted rule documents into evaluatable Workflows.
type Compiler struct {
	env *cel.Env
}

// NewCompiler creates a compiler with the earning-rule CEL environment.
// Facts are passed as a map, so variables are declared as dynamic types.
func NewCompiler() (*Compiler, error) {
	opts := make([]cel.EnvOption, 0, len(factVariables)+1)
	for _, name := range factVariables {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	// Rule authors compare amounts against bare integer literals.
	opts = append(opts, cel.CrossTypeNumericComparisons(true))

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Validate reports whether ruleJSON is a structurally valid workflow
// document. It is the write-time gate for the administrative endpoints
// and deliberately does not compile expressions; expressions that fail
// to compile are skipped at reload instead of rejecting the write.
func (c *Compiler) Validate(ruleJSON string) error {
	_, err := parseWorkflowDoc(ruleJSON)
	return err
}

// Compile parses ruleJSON and compiles every rule's match and award
// expressions into a Workflow.
func (c *Compiler) Compile(ruleJSON string) (*Workflow, error) {
	doc, err := parseWorkflowDoc(ruleJSON)
	if err != nil {
		return nil, err
	}

	wf := &Workflow{
		Name:  doc.WorkflowName,
		rules: make([]compiledRule, 0, len(doc.Rules)),
	}

	for _, rd := range doc.Rules {
		match, err := c.compileExpression(rd.Expression)
		if err != nil {
			return nil, fmt.Errorf("workflow %q: rule %q: %w", doc.WorkflowName, rd.RuleName, err)
		}
		award, err := c.compileExpression(rd.OnSuccess)
		if err != nil {
			return nil, fmt.Errorf("workflow %q: rule %q onSuccess: %w", doc.WorkflowName, rd.RuleName, err)
		}
		wf.rules = append(wf.rules, compiledRule{
			name:         rd.RuleName,
			errorMessage: rd.ErrorMessage,
			match:        match,
			award:        award,
		})
	}

	return wf, nil
}

// compileExpression compiles a single CEL expression to a program.
// Cost limit prevents resource exhaustion from runaway expressions.
func (c *Compiler) compileExpression(expression string) (cel.Program, error) {
	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := c.env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return prog, nil
}
