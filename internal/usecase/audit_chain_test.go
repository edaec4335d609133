package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"chimera/internal/domain"
	"chimera/internal/infra/auditmem"
)

func newEmitter(t *testing.T) (*AuditEmitter, *auditmem.Store) {
	t.Helper()
	repo := auditmem.New()
	clock := func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }
	return NewAuditEmitter(repo, clock), repo
}

func emitN(t *testing.T, emitter *AuditEmitter, sessionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := emitter.Emit(context.Background(), domain.AuditEvent{
			SessionID: sessionID,
			EventType: domain.AuditEventSessionState,
			Payload:   []byte(`{"state":"CHALLENGE_SENT"}`),
		})
		if err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}
}

func TestEmitterAssignsMonotonicSeqAndChain(t *testing.T) {
	emitter, repo := newEmitter(t)
	ctx := context.Background()
	emitN(t, emitter, "s1", 3)

	events, err := repo.ListBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	prev := strings.Repeat("0", 64)
	for i, event := range events {
		if event.Seq != int64(i+1) {
			t.Fatalf("event %d: expected seq %d, got %d", i, i+1, event.Seq)
		}
		if event.PrevEventHash != prev {
			t.Fatalf("event %d: prev hash does not chain", i)
		}
		prev = event.EventHash
	}
	if err := VerifySessionAuditChain(ctx, repo, "s1"); err != nil {
		t.Fatalf("verify intact chain: %v", err)
	}
}

func TestEmitterSessionsChainIndependently(t *testing.T) {
	emitter, repo := newEmitter(t)
	ctx := context.Background()
	emitN(t, emitter, "s1", 2)
	emitN(t, emitter, "s2", 2)
	emitN(t, emitter, "s1", 1)

	s1, _ := repo.ListBySession(ctx, "s1")
	s2, _ := repo.ListBySession(ctx, "s2")
	if len(s1) != 3 || len(s2) != 2 {
		t.Fatalf("expected 3 and 2 events, got %d and %d", len(s1), len(s2))
	}
	if err := VerifySessionAuditChain(ctx, repo, "s1"); err != nil {
		t.Fatalf("verify s1: %v", err)
	}
	if err := VerifySessionAuditChain(ctx, repo, "s2"); err != nil {
		t.Fatalf("verify s2: %v", err)
	}
}

func TestEmitterSystemScopeForUnboundEvents(t *testing.T) {
	emitter, repo := newEmitter(t)
	ctx := context.Background()
	stored, err := emitter.Emit(ctx, domain.AuditEvent{
		EventType: domain.AuditEventCardRegistered,
		Payload:   []byte(`{"agent_id":"alice"}`),
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if stored.SessionID != domain.AuditScopeSystem {
		t.Fatalf("expected system scope, got %q", stored.SessionID)
	}
	if err := VerifySessionAuditChain(ctx, repo, domain.AuditScopeSystem); err != nil {
		t.Fatalf("verify system chain: %v", err)
	}
}

type tamperingRepo struct {
	*auditmem.Store
	mutate func([]domain.AuditEvent) []domain.AuditEvent
}

func (r *tamperingRepo) ListBySession(ctx context.Context, sessionID string) ([]domain.AuditEvent, error) {
	events, err := r.Store.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return r.mutate(events), nil
}

func TestVerifyDetectsPayloadTampering(t *testing.T) {
	emitter, repo := newEmitter(t)
	emitN(t, emitter, "s1", 3)

	tampered := &tamperingRepo{Store: repo, mutate: func(events []domain.AuditEvent) []domain.AuditEvent {
		events[1].Payload = []byte(`{"state":"ESTABLISHED"}`)
		return events
	}}
	if err := VerifySessionAuditChain(context.Background(), tampered, "s1"); err == nil {
		t.Fatal("expected payload tampering to be detected")
	}
}

func TestVerifyDetectsDroppedEvent(t *testing.T) {
	emitter, repo := newEmitter(t)
	emitN(t, emitter, "s1", 3)

	tampered := &tamperingRepo{Store: repo, mutate: func(events []domain.AuditEvent) []domain.AuditEvent {
		return append(events[:1], events[2:]...)
	}}
	if err := VerifySessionAuditChain(context.Background(), tampered, "s1"); err == nil {
		t.Fatal("expected dropped event to be detected")
	}
}

func TestVerifyDetectsReorderedEvents(t *testing.T) {
	emitter, repo := newEmitter(t)
	emitN(t, emitter, "s1", 3)

	tampered := &tamperingRepo{Store: repo, mutate: func(events []domain.AuditEvent) []domain.AuditEvent {
		events[0], events[1] = events[1], events[0]
		return events
	}}
	if err := VerifySessionAuditChain(context.Background(), tampered, "s1"); err == nil {
		t.Fatal("expected reordering to be detected")
	}
}

func TestVerifyEmptySessionIsIntact(t *testing.T) {
	_, repo := newEmitter(t)
	if err := VerifySessionAuditChain(context.Background(), repo, "never-seen"); err != nil {
		t.Fatalf("empty session should verify clean: %v", err)
	}
}

func TestEmitRequiresEventType(t *testing.T) {
	emitter, _ := newEmitter(t)
	if _, err := emitter.Emit(context.Background(), domain.AuditEvent{SessionID: "s1"}); err == nil {
		t.Fatal("expected missing event type to fail")
	}
}
