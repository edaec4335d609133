package domain

import "time"

// Role tags the acting party of a scenario step. Roles are a closed
// variant set sharing one step-execution path, not a type hierarchy.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleResearcher   Role = "researcher"
	RoleExecutor     Role = "executor"
	RoleMonitor      Role = "monitor"
)

func ValidRole(r Role) bool {
	switch r {
	case RoleOrchestrator, RoleResearcher, RoleExecutor, RoleMonitor:
		return true
	}
	return false
}

type StepAction string

const (
	ActionPutCard    StepAction = "put_card"
	ActionRevokeCard StepAction = "revoke_card"
	ActionDelegate   StepAction = "delegate"
	ActionHandshake  StepAction = "handshake"
	ActionToolCall   StepAction = "tool_call"
	ActionClose      StepAction = "close"
)

// ScenarioStep is one entry of an externally supplied scenario
// definition. Params are opaque configuration interpreted per action.
type ScenarioStep struct {
	Role        Role           `json:"role" yaml:"role"`
	Action      StepAction     `json:"action" yaml:"action"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Adversarial bool           `json:"adversarial,omitempty" yaml:"adversarial,omitempty"`
	// Session groups steps that must execute strictly in order;
	// steps with distinct session labels may run concurrently.
	Session string `json:"session,omitempty" yaml:"session,omitempty"`
}

// AgentSpec declares a scenario participant. The orchestrator mints a
// keypair and registers a signed card for each spec before the first
// step runs.
type AgentSpec struct {
	AgentID      string       `json:"agent_id" yaml:"agent_id"`
	Role         Role         `json:"role" yaml:"role"`
	Capabilities []Capability `json:"capabilities" yaml:"capabilities"`
	Guest        bool         `json:"guest,omitempty" yaml:"guest,omitempty"`
	TTLSeconds   int          `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}

// Scenario is the externally supplied test definition: participants
// plus an ordered step list. The engine treats it as opaque
// configuration, not as code.
type Scenario struct {
	Name   string         `json:"name" yaml:"name"`
	Agents []AgentSpec    `json:"agents" yaml:"agents"`
	Steps  []ScenarioStep `json:"steps" yaml:"steps"`
}

type StepOutcome string

const (
	StepAllowed StepOutcome = "allowed"
	StepDenied  StepOutcome = "denied"
	StepFailed  StepOutcome = "failed"
)

type StepResult struct {
	Index       int          `json:"index"`
	Role        Role         `json:"role"`
	Action      StepAction   `json:"action"`
	Adversarial bool         `json:"adversarial,omitempty"`
	Outcome     StepOutcome  `json:"outcome"`
	Reason      RejectReason `json:"reason,omitempty"`
	SessionID   string       `json:"session_id,omitempty"`
	State       SessionState `json:"state,omitempty"`
	// ScopeLeaked marks an adversarial step that established a session
	// (leaked scope) without achieving its tool-level effect.
	ScopeLeaked bool `json:"scope_leaked,omitempty"`
}

type Verdict string

const (
	VerdictSuccess Verdict = "success"
	VerdictBlocked Verdict = "blocked"
	VerdictPartial Verdict = "partial"
)

type ScenarioRun struct {
	RunID      string       `json:"run_id"`
	Name       string       `json:"name,omitempty"`
	PolicyMode PolicyMode   `json:"policy_mode"`
	Steps      []StepResult `json:"steps"`
	Verdict    Verdict      `json:"verdict"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}
