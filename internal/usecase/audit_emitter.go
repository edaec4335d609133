package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"chimera/internal/domain"
	"chimera/internal/infra/crypto"
)

// AuditEmitter appends events to the audit log. Appends within one
// session are totally ordered: the emitter assigns a monotonic
// per-session sequence number and chains each event hash to its
// predecessor. Sessions interleave freely; only the per-session
// counter is serialized.
type AuditEmitter struct {
	Repo  AuditEventRepository
	Clock Clock

	mu    sync.Mutex
	heads map[string]chainHead
}

type chainHead struct {
	seq  int64
	hash string
}

func NewAuditEmitter(repo AuditEventRepository, clock Clock) *AuditEmitter {
	if clock == nil {
		clock = time.Now
	}
	return &AuditEmitter{
		Repo:  repo,
		Clock: clock,
		heads: make(map[string]chainHead),
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if e == nil || e.Repo == nil {
		return domain.AuditEvent{}, errors.New("audit repository required")
	}
	if event.EventType == "" {
		return domain.AuditEvent{}, errors.New("audit event missing event type")
	}
	if event.SessionID == "" {
		event.SessionID = domain.AuditScopeSystem
	}
	if event.Payload == nil {
		event.Payload = []byte("{}")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.CreatedAt = e.Clock().UTC()
	event.PayloadHash = sha256Hex(event.Payload)

	e.mu.Lock()
	defer e.mu.Unlock()

	head, err := e.headLocked(ctx, event.SessionID)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.Seq = head.seq + 1
	event.PrevEventHash = head.hash
	event.EventHash, err = ComputeEventHash(event)
	if err != nil {
		return domain.AuditEvent{}, err
	}

	stored, err := e.Repo.Append(ctx, event)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	e.heads[event.SessionID] = chainHead{seq: stored.Seq, hash: stored.EventHash}
	return stored, nil
}

func (e *AuditEmitter) headLocked(ctx context.Context, sessionID string) (chainHead, error) {
	if head, ok := e.heads[sessionID]; ok {
		return head, nil
	}
	last, err := e.Repo.LastBySession(ctx, sessionID)
	if err != nil {
		return chainHead{}, err
	}
	if last == nil {
		return chainHead{seq: 0, hash: zeroEventHash()}, nil
	}
	return chainHead{seq: last.Seq, hash: last.EventHash}, nil
}

func (e *AuditEmitter) EmitCardRegistered(ctx context.Context, card domain.AgentCard) {
	payload, err := crypto.CanonicalizeAny(map[string]any{
		"agent_id":  card.AgentID,
		"issuer_id": card.IssuerID,
		"version":   card.Version,
	})
	if err != nil {
		return
	}
	e.Emit(ctx, domain.AuditEvent{
		EventType: domain.AuditEventCardRegistered,
		Payload:   payload,
	})
}

func (e *AuditEmitter) EmitCardRevoked(ctx context.Context, agentID string) {
	payload, err := crypto.CanonicalizeAny(map[string]any{"agent_id": agentID})
	if err != nil {
		return
	}
	e.Emit(ctx, domain.AuditEvent{
		EventType: domain.AuditEventCardRevoked,
		Payload:   payload,
	})
}

func (e *AuditEmitter) EmitSessionState(ctx context.Context, sessionID string, state domain.SessionState, reason domain.RejectReason) {
	eventType := domain.AuditEventSessionState
	if state == domain.SessionRejected {
		eventType = domain.AuditEventSessionRejected
	}
	body := map[string]any{"state": string(state)}
	if reason != domain.ReasonNone {
		body["reason"] = string(reason)
	}
	payload, err := crypto.CanonicalizeAny(body)
	if err != nil {
		return
	}
	e.Emit(ctx, domain.AuditEvent{
		SessionID: sessionID,
		EventType: eventType,
		Payload:   payload,
	})
}

func (e *AuditEmitter) EmitToolDecision(ctx context.Context, decision domain.AuthorizationDecision) error {
	payload, err := crypto.CanonicalizeAny(map[string]any{
		"tool_name":   decision.ToolName,
		"params_hash": decision.ParamsHash,
		"outcome":     string(decision.Outcome),
		"reason":      string(decision.Reason),
	})
	if err != nil {
		return err
	}
	_, err = e.Emit(ctx, domain.AuditEvent{
		SessionID: decision.SessionID,
		EventType: domain.AuditEventToolDecision,
		Payload:   payload,
	})
	return err
}

func (e *AuditEmitter) EmitScenarioStep(ctx context.Context, runID string, result domain.StepResult) {
	payload, err := crypto.CanonicalizeAny(result)
	if err != nil {
		return
	}
	e.Emit(ctx, domain.AuditEvent{
		RunID:     runID,
		EventType: domain.AuditEventScenarioStep,
		Payload:   payload,
	})
}

func (e *AuditEmitter) EmitScenarioVerdict(ctx context.Context, runID string, verdict domain.Verdict) {
	payload, err := crypto.CanonicalizeAny(map[string]any{"verdict": string(verdict)})
	if err != nil {
		return
	}
	e.Emit(ctx, domain.AuditEvent{
		RunID:     runID,
		EventType: domain.AuditEventScenarioVerdict,
		Payload:   payload,
	})
}

// ComputeEventHash derives the chained hash of one event from its
// identifying fields, payload hash, and predecessor hash.
func ComputeEventHash(event domain.AuditEvent) (string, error) {
	if event.EventType == "" || event.SessionID == "" {
		return "", errors.New("audit event missing session_id or event_type")
	}
	material := fmt.Sprintf("%s|%s|%d|%s|%s|%s",
		domain.AuditChainScheme,
		event.SessionID,
		event.Seq,
		event.EventType,
		event.PayloadHash,
		event.PrevEventHash,
	)
	return sha256Hex([]byte(material)), nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func zeroEventHash() string {
	return hex.EncodeToString(make([]byte, sha256.Size))
}
