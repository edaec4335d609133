package scenariofile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chimera/internal/domain"
)

const validScenario = `
name: delegation-laundering
agents:
  - agent_id: orch
    role: orchestrator
    capabilities: [read, write]
  - agent_id: executor
    role: executor
    capabilities: [read, write]
steps:
  - role: orchestrator
    action: delegate
    params:
      record_id: r1
      delegator: orch
      delegate: executor
      scope: [read]
  - role: orchestrator
    action: handshake
    session: s1
    params:
      initiator: orch
      responder: executor
      chain: [r1]
  - role: executor
    action: tool_call
    session: s1
    adversarial: true
    params:
      tool: write
  - role: executor
    action: close
    session: s1
`

func TestParseValidScenario(t *testing.T) {
	scenario, err := Parse([]byte(validScenario))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if scenario.Name != "delegation-laundering" {
		t.Fatalf("unexpected name %q", scenario.Name)
	}
	if len(scenario.Agents) != 2 || len(scenario.Steps) != 4 {
		t.Fatalf("unexpected shape: %d agents, %d steps", len(scenario.Agents), len(scenario.Steps))
	}
	if !scenario.Steps[2].Adversarial {
		t.Fatal("adversarial flag lost in parsing")
	}
	if got := scenario.Steps[1].Params["responder"]; got != "executor" {
		t.Fatalf("params lost in parsing: %v", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(validScenario), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	scenario, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if scenario.Name == "" {
		t.Fatal("expected scenario to load")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file to fail")
	}
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	bad := strings.Replace(validScenario, "role: executor\n    capabilities", "role: villain\n    capabilities", 1)
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected unknown role to fail validation")
	}
}

func TestValidateRejectsUnknownAction(t *testing.T) {
	bad := strings.Replace(validScenario, "action: tool_call", "action: teleport", 1)
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected unknown action to fail validation")
	}
}

func TestValidateRejectsDuplicateAgents(t *testing.T) {
	bad := strings.Replace(validScenario, "agent_id: executor", "agent_id: orch", 1)
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected duplicate agent to fail validation")
	}
}

func TestValidateToolCallNeedsHandshake(t *testing.T) {
	scenario := domain.Scenario{
		Name: "orphan-tool-call",
		Steps: []domain.ScenarioStep{
			{Role: domain.RoleExecutor, Action: domain.ActionToolCall, Session: "s1", Params: map[string]any{"tool": "read"}},
		},
	}
	if err := Validate(scenario); err == nil {
		t.Fatal("expected tool call without handshake to fail")
	}

	scenario.Steps = append([]domain.ScenarioStep{
		{Role: domain.RoleOrchestrator, Action: domain.ActionHandshake, Session: "other"},
	}, scenario.Steps...)
	if err := Validate(scenario); err == nil {
		t.Fatal("handshake on another session label must not satisfy the tool call")
	}
}

func TestValidateRequiresNameAndSteps(t *testing.T) {
	if err := Validate(domain.Scenario{Steps: []domain.ScenarioStep{{Role: domain.RoleMonitor, Action: domain.ActionPutCard}}}); err == nil {
		t.Fatal("expected missing name to fail")
	}
	if err := Validate(domain.Scenario{Name: "x"}); err == nil {
		t.Fatal("expected empty steps to fail")
	}
}
