// Package policy evaluates tool invocations against a rego policy before the
// agent loop is allowed to execute them.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decision values returned by Evaluate.
const (
	DecisionAllow           = "allow"
	DecisionBlock           = "block"
	DecisionRequireApproval = "require_approval"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Input describes one tool invocation for evaluation.
type Input struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
	UserID   string         `json:"user_id"`
	EntityID string         `json:"entity_id"`
	Route    string         `json:"route"`
}

// Evaluate checks the tool policy.
// Returns: decision (allow, require_approval, block), reason (optional), error.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy defines a default; an empty result set means the module
		// is missing its decision rule entirely.
		return DecisionAllow, "default", nil
	}

	val := results[0].Expressions[0].Value
	if s, ok := val.(string); ok {
		return s, "", nil
	}
	return DecisionAllow, "unexpected return type", nil
}

// DefaultPolicy is the default policy content. Destructive ledger mutations
// are blocked on the read-only advisory route, and voiding or deleting
// records requires approval everywhere.
const DefaultPolicy = `
package tool_policy

import rego.v1

default decision := "allow"

decision := "block" if {
	input.route == "cfo"
	startswith(input.tool_name, "delete_")
}

decision := "block" if {
	input.route == "cfo"
	startswith(input.tool_name, "void_")
}

decision := "require_approval" if {
	input.route == "bookkeeper"
	startswith(input.tool_name, "delete_")
}

decision := "require_approval" if {
	input.route == "bookkeeper"
	startswith(input.tool_name, "void_")
}
`
