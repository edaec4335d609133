// Package scenariofile parses externally supplied scenario definitions.
// Definitions are opaque configuration: the loader validates shape and
// ordering constraints, never semantics.
package scenariofile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"chimera/internal/domain"
)

func Load(path string) (domain.Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (domain.Scenario, error) {
	var scenario domain.Scenario
	if err := yaml.Unmarshal(raw, &scenario); err != nil {
		return domain.Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if err := Validate(scenario); err != nil {
		return domain.Scenario{}, err
	}
	return scenario, nil
}

func Validate(scenario domain.Scenario) error {
	if scenario.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(scenario.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", scenario.Name)
	}
	agents := make(map[string]struct{}, len(scenario.Agents))
	for i, spec := range scenario.Agents {
		if spec.AgentID == "" {
			return fmt.Errorf("agent %d: agent_id is required", i)
		}
		if !domain.ValidRole(spec.Role) {
			return fmt.Errorf("agent %s: unknown role %q", spec.AgentID, spec.Role)
		}
		if _, dup := agents[spec.AgentID]; dup {
			return fmt.Errorf("agent %s declared twice", spec.AgentID)
		}
		agents[spec.AgentID] = struct{}{}
	}
	for i, step := range scenario.Steps {
		if !domain.ValidRole(step.Role) {
			return fmt.Errorf("step %d: unknown role %q", i, step.Role)
		}
		switch step.Action {
		case domain.ActionPutCard, domain.ActionRevokeCard, domain.ActionDelegate,
			domain.ActionHandshake, domain.ActionToolCall, domain.ActionClose:
		default:
			return fmt.Errorf("step %d: unknown action %q", i, step.Action)
		}
		// Session-bound actions must name or default a session before
		// using it; a tool call can only follow a handshake with the
		// same label.
		if step.Action == domain.ActionToolCall || step.Action == domain.ActionClose {
			if !handshakePrecedes(scenario.Steps, i) {
				return fmt.Errorf("step %d: %s has no preceding handshake for session %q", i, step.Action, label(step))
			}
		}
	}
	return nil
}

func handshakePrecedes(steps []domain.ScenarioStep, index int) bool {
	want := label(steps[index])
	for i := 0; i < index; i++ {
		if steps[i].Action == domain.ActionHandshake && label(steps[i]) == want {
			return true
		}
	}
	return false
}

func label(step domain.ScenarioStep) string {
	if step.Session != "" {
		return step.Session
	}
	return "default"
}
