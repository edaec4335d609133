// Package policyopa evaluates the tool policy through a rego bundle.
// The bundle decides, per tool name, whether the tool is restricted and
// which capability a session must hold to call it.
package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"chimera/internal/domain"
)

const defaultQuery = "data.chimera.tools.result"

type toolInput struct {
	Tool string `json:"tool"`
}

type toolResult struct {
	Restricted         bool   `json:"restricted"`
	RequiredCapability string `json:"required_capability"`
}

// Engine wraps a prepared rego query. It satisfies domain.ToolPolicy;
// evaluation errors fail closed at the trust gate.
type Engine struct {
	query rego.PreparedEvalQuery
}

func NewEngineFromBundlePath(ctx context.Context, bundlePath string) (*Engine, error) {
	r := rego.New(
		rego.Query(defaultQuery),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare tool policy: %w", err)
	}
	return &Engine{query: prepared}, nil
}

func (e *Engine) Restricted(tool string) (bool, error) {
	result, err := e.eval(tool)
	if err != nil {
		return false, err
	}
	return result.Restricted, nil
}

// RequiredCapability falls back to the tool name when the bundle does
// not map it, matching the static policy's default.
func (e *Engine) RequiredCapability(tool string) domain.Capability {
	result, err := e.eval(tool)
	if err != nil || result.RequiredCapability == "" {
		return domain.Capability(tool)
	}
	return domain.Capability(result.RequiredCapability)
}

func (e *Engine) eval(tool string) (toolResult, error) {
	if e == nil {
		return toolResult{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(context.Background(), rego.EvalInput(toolInput{Tool: tool}))
	if err != nil {
		return toolResult{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return toolResult{}, errors.New("empty policy result")
	}
	return decodeToolResult(results[0].Expressions[0].Value)
}

func decodeToolResult(value any) (toolResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return toolResult{}, err
	}
	var result toolResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return toolResult{}, err
	}
	return result, nil
}
