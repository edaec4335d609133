package usecase

import (
	"context"
	"testing"
	"time"

	"chimera/internal/domain"
	"chimera/internal/infra/auditmem"
	"chimera/internal/infra/cachemem"
	"chimera/internal/infra/crypto"
	"chimera/internal/infra/keys/soft"
	"chimera/internal/infra/policyopa"
	"chimera/internal/infra/runsmem"
)

func newOrchestratorFixture(t *testing.T, mode domain.PolicyMode) (*Orchestrator, *auditmem.Store, *runsmem.Store) {
	t.Helper()
	cs := crypto.NewService()
	auditRepo := auditmem.New()
	runsRepo := runsmem.New()
	emitter := NewAuditEmitter(auditRepo, nil)
	registry := NewCardRegistry(cs, nil).WithAudit(emitter)
	validator := NewChainValidator(cs, 8)
	engine := NewHandshakeEngine(registry, validator, cs, emitter, mode, 30*time.Second, nil)
	policy := policyopa.NewStaticPolicy(nil, nil)
	gate := NewTrustGate(engine, cachemem.New(), emitter, policy, cs, mode, 5*time.Minute, nil)
	orch := NewOrchestrator(registry, engine, gate, cs, soft.NewKeyring(), emitter, runsRepo, mode, nil)
	return orch, auditRepo, runsRepo
}

func shortenedChainScenario(tool string) domain.Scenario {
	return domain.Scenario{
		Name: "shortened-chain-replay",
		Agents: []domain.AgentSpec{
			{AgentID: "orch", Role: domain.RoleOrchestrator, Capabilities: []domain.Capability{"read", "write"}},
			{AgentID: "researcher", Role: domain.RoleResearcher, Capabilities: []domain.Capability{"read", "write"}},
			{AgentID: "executor", Role: domain.RoleExecutor, Capabilities: []domain.Capability{"read", "write"}},
		},
		Steps: []domain.ScenarioStep{
			{Role: domain.RoleOrchestrator, Action: domain.ActionDelegate, Params: map[string]any{
				"record_id": "r1", "delegator": "orch", "delegate": "researcher",
				"scope": []any{"read", "write"},
			}},
			{Role: domain.RoleResearcher, Action: domain.ActionDelegate, Params: map[string]any{
				"record_id": "r2", "delegator": "researcher", "delegate": "executor",
				"scope": []any{"read"}, "parent": "r1",
			}},
			{Role: domain.RoleOrchestrator, Action: domain.ActionHandshake, Session: "legit", Params: map[string]any{
				"initiator": "orch", "responder": "executor", "chain": []any{"r1", "r2"},
			}},
			{Role: domain.RoleExecutor, Action: domain.ActionToolCall, Session: "legit", Params: map[string]any{
				"tool": "read",
			}},
			{Role: domain.RoleExecutor, Action: domain.ActionHandshake, Session: "attack", Adversarial: true, Params: map[string]any{
				"initiator": "orch", "responder": "executor",
				"chain": []any{"r1", "r2"}, "drop_link": "r1",
			}},
			{Role: domain.RoleExecutor, Action: domain.ActionToolCall, Session: "attack", Adversarial: true, Params: map[string]any{
				"tool": tool,
			}},
		},
	}
}

func TestRunStrictBlocksShortenedChain(t *testing.T) {
	orch, _, runs := newOrchestratorFixture(t, domain.PolicyStrict)

	run, err := orch.Run(context.Background(), shortenedChainScenario("read"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Verdict != domain.VerdictBlocked {
		t.Fatalf("expected blocked, got %s", run.Verdict)
	}

	steps := run.Steps
	if steps[2].Outcome != domain.StepAllowed {
		t.Fatalf("legit handshake should establish, got %s (%s)", steps[2].Outcome, steps[2].Reason)
	}
	if steps[3].Outcome != domain.StepAllowed {
		t.Fatalf("legit tool call should be allowed, got %s (%s)", steps[3].Outcome, steps[3].Reason)
	}
	if steps[4].Outcome != domain.StepDenied || steps[4].Reason != domain.ReasonProtocolViolation {
		t.Fatalf("shortened chain should be rejected with PROTOCOL_VIOLATION, got %s (%s)", steps[4].Outcome, steps[4].Reason)
	}
	if steps[5].Outcome != domain.StepDenied {
		t.Fatalf("attack tool call should be denied, got %s", steps[5].Outcome)
	}

	saved, err := runs.GetByID(context.Background(), run.RunID)
	if err != nil {
		t.Fatalf("load saved run: %v", err)
	}
	if saved.Verdict != run.Verdict || len(saved.Steps) != len(run.Steps) {
		t.Fatal("saved run must match the returned run")
	}
}

func TestRunVulnerableModeShortenedChainSucceeds(t *testing.T) {
	orch, _, _ := newOrchestratorFixture(t, domain.PolicyVulnerableDemo)

	run, err := orch.Run(context.Background(), shortenedChainScenario("read"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Verdict != domain.VerdictSuccess {
		t.Fatalf("expected success, got %s", run.Verdict)
	}
	if !run.Steps[4].ScopeLeaked {
		t.Fatal("adversarial handshake that establishes must mark scope leaked")
	}
}

func TestRunVulnerableModePartialWhenToolDenied(t *testing.T) {
	orch, _, _ := newOrchestratorFixture(t, domain.PolicyVulnerableDemo)

	// The forged session carries only "read"; asking for "write" still
	// fails at the gate, leaving a scope leak but no effect.
	run, err := orch.Run(context.Background(), shortenedChainScenario("write"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Verdict != domain.VerdictPartial {
		t.Fatalf("expected partial, got %s", run.Verdict)
	}
}

func TestRunRevokedCardBlocksHandshake(t *testing.T) {
	orch, _, _ := newOrchestratorFixture(t, domain.PolicyStrict)

	scenario := domain.Scenario{
		Name: "revoked-card",
		Agents: []domain.AgentSpec{
			{AgentID: "orch", Role: domain.RoleOrchestrator, Capabilities: []domain.Capability{"read"}},
			{AgentID: "executor", Role: domain.RoleExecutor, Capabilities: []domain.Capability{"read"}},
		},
		Steps: []domain.ScenarioStep{
			{Role: domain.RoleMonitor, Action: domain.ActionRevokeCard, Params: map[string]any{"agent": "orch"}},
			{Role: domain.RoleOrchestrator, Action: domain.ActionHandshake, Session: "s", Adversarial: true, Params: map[string]any{
				"initiator": "orch", "responder": "executor",
			}},
		},
	}
	run, err := orch.Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Verdict != domain.VerdictBlocked {
		t.Fatalf("expected blocked, got %s", run.Verdict)
	}
	if run.Steps[1].Outcome != domain.StepDenied || run.Steps[1].Reason != domain.ReasonRevokedLink {
		t.Fatalf("expected denied REVOKED_LINK, got %s (%s)", run.Steps[1].Outcome, run.Steps[1].Reason)
	}
}

func TestRunConcurrentSessionsKeepStepOrder(t *testing.T) {
	orch, _, _ := newOrchestratorFixture(t, domain.PolicyStrict)

	scenario := domain.Scenario{
		Name: "parallel-sessions",
		Agents: []domain.AgentSpec{
			{AgentID: "orch", Role: domain.RoleOrchestrator, Capabilities: []domain.Capability{"read", "write"}},
			{AgentID: "executor", Role: domain.RoleExecutor, Capabilities: []domain.Capability{"read", "write"}},
			{AgentID: "researcher", Role: domain.RoleResearcher, Capabilities: []domain.Capability{"read", "write"}},
		},
		Steps: []domain.ScenarioStep{
			{Role: domain.RoleOrchestrator, Action: domain.ActionHandshake, Session: "a", Params: map[string]any{
				"initiator": "orch", "responder": "executor",
			}},
			{Role: domain.RoleOrchestrator, Action: domain.ActionHandshake, Session: "b", Params: map[string]any{
				"initiator": "orch", "responder": "researcher",
			}},
			{Role: domain.RoleExecutor, Action: domain.ActionToolCall, Session: "a", Params: map[string]any{"tool": "read"}},
			{Role: domain.RoleResearcher, Action: domain.ActionToolCall, Session: "b", Params: map[string]any{"tool": "write"}},
			{Role: domain.RoleExecutor, Action: domain.ActionClose, Session: "a"},
			{Role: domain.RoleResearcher, Action: domain.ActionClose, Session: "b"},
		},
	}
	run, err := orch.Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, step := range run.Steps {
		if step.Outcome != domain.StepAllowed {
			t.Fatalf("step %d: expected allowed, got %s (%s)", i, step.Outcome, step.Reason)
		}
	}
	if run.Steps[2].SessionID != run.Steps[0].SessionID || run.Steps[3].SessionID != run.Steps[1].SessionID {
		t.Fatal("tool calls must land on their own session")
	}
	if run.Verdict != domain.VerdictBlocked {
		t.Fatalf("no adversarial steps means blocked verdict, got %s", run.Verdict)
	}
}

func TestRunRecordsAuditTrail(t *testing.T) {
	orch, auditRepo, _ := newOrchestratorFixture(t, domain.PolicyStrict)

	run, err := orch.Run(context.Background(), shortenedChainScenario("read"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	events, err := auditRepo.ListByRun(context.Background(), run.RunID)
	if err != nil {
		t.Fatalf("list by run: %v", err)
	}
	steps, verdicts := 0, 0
	for _, event := range events {
		switch event.EventType {
		case domain.AuditEventScenarioStep:
			steps++
		case domain.AuditEventScenarioVerdict:
			verdicts++
		}
	}
	if steps != len(run.Steps) {
		t.Fatalf("expected %d scenario_step events, got %d", len(run.Steps), steps)
	}
	if verdicts != 1 {
		t.Fatalf("expected 1 scenario_verdict event, got %d", verdicts)
	}
}

func TestRunRejectsUnknownRole(t *testing.T) {
	orch, _, _ := newOrchestratorFixture(t, domain.PolicyStrict)

	scenario := domain.Scenario{
		Name:   "bad-role",
		Agents: []domain.AgentSpec{{AgentID: "x", Role: "villain"}},
	}
	if _, err := orch.Run(context.Background(), scenario); err == nil {
		t.Fatal("expected unknown role to fail setup")
	}
}

func TestRunIsDeterministicAcrossIdenticalState(t *testing.T) {
	for _, mode := range []domain.PolicyMode{domain.PolicyStrict, domain.PolicyVulnerableDemo} {
		scenario := shortenedChainScenario("read")

		first, _, _ := newOrchestratorFixture(t, mode)
		runA, err := first.Run(context.Background(), scenario)
		if err != nil {
			t.Fatalf("%s: first run: %v", mode, err)
		}
		second, _, _ := newOrchestratorFixture(t, mode)
		runB, err := second.Run(context.Background(), scenario)
		if err != nil {
			t.Fatalf("%s: second run: %v", mode, err)
		}

		if runA.Verdict != runB.Verdict {
			t.Fatalf("%s: verdicts differ: %s vs %s", mode, runA.Verdict, runB.Verdict)
		}
		if len(runA.Steps) != len(runB.Steps) {
			t.Fatalf("%s: step counts differ: %d vs %d", mode, len(runA.Steps), len(runB.Steps))
		}
		for i := range runA.Steps {
			a, b := runA.Steps[i], runB.Steps[i]
			if a.Outcome != b.Outcome || a.Reason != b.Reason || a.ScopeLeaked != b.ScopeLeaked {
				t.Fatalf("%s: step %d differs: %s/%s/%v vs %s/%s/%v",
					mode, i, a.Outcome, a.Reason, a.ScopeLeaked, b.Outcome, b.Reason, b.ScopeLeaked)
			}
		}
	}
}
