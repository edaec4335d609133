package usecase

import (
	"context"
	"time"

	"chimera/internal/domain"
)

type Clock func() time.Time

type AuditEventRepository interface {
	Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.AuditEvent, error)
	ListByRun(ctx context.Context, runID string) ([]domain.AuditEvent, error)
	// LastBySession returns the newest event for a session, or nil if
	// the session has no events yet.
	LastBySession(ctx context.Context, sessionID string) (*domain.AuditEvent, error)
}

// DecisionCache is the read-through cache backing the trust gate's
// idempotent decisions.
type DecisionCache interface {
	Get(ctx context.Context, key string) (*domain.AuthorizationDecision, bool, error)
	Put(ctx context.Context, key string, decision domain.AuthorizationDecision, ttl time.Duration) error
}

type ScenarioRunRepository interface {
	Save(ctx context.Context, run domain.ScenarioRun) error
	GetByID(ctx context.Context, runID string) (*domain.ScenarioRun, error)
}

// CardPersister mirrors registry writes into durable storage. The
// in-memory snapshot stays authoritative; persistence is write-through.
type CardPersister interface {
	SaveCard(ctx context.Context, card domain.AgentCard) error
	SaveRevocation(ctx context.Context, agentID string, revokedAt time.Time) error
	SaveDelegation(ctx context.Context, rec domain.DelegationRecord) error
}

// Signer is the private-key holder used by scenario agents to produce
// card, record, and challenge signatures.
type Signer interface {
	Generate(id string) ([]byte, error)
	PrivateKeyFor(id string) ([]byte, error)
}
