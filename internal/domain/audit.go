package domain

import "time"

const (
	// AuditScopeSystem is the reserved session identifier for events
	// not bound to any handshake session (registry writes, run-level
	// records).
	AuditScopeSystem = "__system__"
	AuditChainScheme = "audit_chain_v1"
)

type AuditEventType string

const (
	AuditEventCardRegistered  AuditEventType = "card_registered"
	AuditEventCardRevoked     AuditEventType = "card_revoked"
	AuditEventSessionState    AuditEventType = "session_state"
	AuditEventSessionRejected AuditEventType = "session_rejected"
	AuditEventToolDecision    AuditEventType = "tool_decision"
	AuditEventScenarioStep    AuditEventType = "scenario_step"
	AuditEventScenarioVerdict AuditEventType = "scenario_verdict"
)

// AuditEvent is one append-only entry. Events are totally ordered
// within a session by Seq and hash-chained through PrevEventHash, so
// any tampering or reordering is detectable after the fact.
type AuditEvent struct {
	ID            string
	SessionID     string
	RunID         string
	Seq           int64
	EventType     AuditEventType
	Payload       []byte // canonical JSON
	PayloadHash   string
	PrevEventHash string
	EventHash     string
	CreatedAt     time.Time
}
