package domain

import "time"

type DecisionOutcome string

const (
	DecisionAllow DecisionOutcome = "allow"
	DecisionDeny  DecisionOutcome = "deny"
)

// AuthorizationDecision is the immutable record of one trust-gate
// verdict. Decisions are keyed (session, tool, params hash); a repeat
// of the same key within the session lifetime replays the cached
// decision rather than re-evaluating.
type AuthorizationDecision struct {
	SessionID  string          `json:"session_id"`
	ToolName   string          `json:"tool_name"`
	ParamsHash string          `json:"params_hash"`
	Outcome    DecisionOutcome `json:"outcome"`
	Reason     RejectReason    `json:"reason,omitempty"`
	Cached     bool            `json:"cached,omitempty"`
	DecidedAt  time.Time       `json:"decided_at"`
}

func (d AuthorizationDecision) Allowed() bool {
	return d.Outcome == DecisionAllow
}

// DecisionKey is the idempotency key for the read-through cache.
func (d AuthorizationDecision) DecisionKey() string {
	return d.SessionID + "|" + d.ToolName + "|" + d.ParamsHash
}
