package usecase

import (
	"context"
	"errors"
	"testing"

	"chimera/internal/domain"
)

func TestPutCardRejectsUntrustedIssuer(t *testing.T) {
	f := newFixture(t)
	card := f.buildCard("agent-1", []domain.Capability{"read"}, false)
	card.IssuerID = "nobody"

	err := f.registry.PutCard(context.Background(), card)
	if !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("expected signature invalid for untrusted issuer, got %v", err)
	}
}

func TestPutCardRejectsTamperedPayload(t *testing.T) {
	f := newFixture(t)
	card := f.buildCard("agent-1", []domain.Capability{"read"}, false)
	card.Capabilities = append(card.Capabilities, "admin")

	err := f.registry.PutCard(context.Background(), card)
	if !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("expected signature invalid for tampered card, got %v", err)
	}
}

func TestPutCardVersionMustSupersede(t *testing.T) {
	f := newFixture(t)
	f.registerAgent("agent-1", "read")

	stale := f.buildCard("agent-1", []domain.Capability{"read", "write"}, false)
	stale.Version = 1
	sig, err := f.cs.SignCard(stale, f.issuerPriv)
	if err != nil {
		t.Fatalf("sign card: %v", err)
	}
	stale.Signature = sig

	if err := f.registry.PutCard(context.Background(), stale); err == nil {
		t.Fatal("expected same-version card to be rejected")
	}

	fresh := stale
	fresh.Version = 2
	sig, err = f.cs.SignCard(fresh, f.issuerPriv)
	if err != nil {
		t.Fatalf("sign card: %v", err)
	}
	fresh.Signature = sig
	if err := f.registry.PutCard(context.Background(), fresh); err != nil {
		t.Fatalf("superseding card rejected: %v", err)
	}

	got, err := f.registry.GetCard("agent-1")
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("expected version 2, got %d", got.Version)
	}
}

func TestRevokeAndReRegisterClearsRevocation(t *testing.T) {
	f := newFixture(t)
	card := f.registerAgent("agent-1", "read")

	if err := f.registry.Revoke(context.Background(), "agent-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !f.registry.Snapshot().CardRevoked("agent-1") {
		t.Fatal("expected card to be revoked")
	}

	fresh := card
	fresh.Version = 2
	sig, err := f.cs.SignCard(fresh, f.issuerPriv)
	if err != nil {
		t.Fatalf("sign card: %v", err)
	}
	fresh.Signature = sig
	if err := f.registry.PutCard(context.Background(), fresh); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if f.registry.Snapshot().CardRevoked("agent-1") {
		t.Fatal("re-registered card should not be revoked")
	}
}

func TestRevokeUnknownAgent(t *testing.T) {
	f := newFixture(t)
	if err := f.registry.Revoke(context.Background(), "ghost"); !errors.Is(err, domain.ErrUnknownAgent) {
		t.Fatalf("expected unknown agent, got %v", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	f := newFixture(t)
	f.registerAgent("agent-1", "read")

	before := f.registry.Snapshot()
	if err := f.registry.Revoke(context.Background(), "agent-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	after := f.registry.Snapshot()

	if before.CardRevoked("agent-1") {
		t.Fatal("earlier snapshot must not observe the revocation")
	}
	if !after.CardRevoked("agent-1") {
		t.Fatal("later snapshot must observe the revocation")
	}
	if after.Version <= before.Version {
		t.Fatalf("expected version to advance, got %d -> %d", before.Version, after.Version)
	}
}

func TestPutDelegationVerifiesDelegatorSignature(t *testing.T) {
	f := newFixture(t)
	f.registerAgent("alice", "read", "write")
	f.registerAgent("bob", "read")
	f.registerAgent("mallory", "read")

	rec := f.buildRecord("rec-1", "alice", "bob", 0, "", "read")
	forged := f.buildRecord("rec-2", "alice", "bob", 0, "", "read")
	forged.Signature = f.buildRecord("rec-2m", "mallory", "bob", 0, "", "read").Signature

	if err := f.registry.PutDelegation(context.Background(), rec); err != nil {
		t.Fatalf("valid delegation rejected: %v", err)
	}
	if err := f.registry.PutDelegation(context.Background(), forged); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("expected signature invalid for forged record, got %v", err)
	}
}

func TestRevokeDelegation(t *testing.T) {
	f := newFixture(t)
	f.registerAgent("alice", "read")
	f.registerAgent("bob", "read")
	f.delegate("rec-1", "alice", "bob", 0, "", "read")

	if err := f.registry.RevokeDelegation(context.Background(), "rec-1"); err != nil {
		t.Fatalf("revoke delegation: %v", err)
	}
	if !f.registry.Snapshot().RecordRevoked("rec-1") {
		t.Fatal("expected record to be revoked")
	}
	if err := f.registry.RevokeDelegation(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIssuerKeyFallsBackToRegisteredCard(t *testing.T) {
	f := newFixture(t)
	alice := f.registerAgent("alice", "read")

	key, ok := f.registry.Snapshot().IssuerKey("alice")
	if !ok {
		t.Fatal("expected issuer key from registered card")
	}
	if string(key) != string(alice.PublicKey) {
		t.Fatal("issuer key mismatch")
	}
	if _, ok := f.registry.Snapshot().IssuerKey("ghost"); ok {
		t.Fatal("unknown issuer must not resolve")
	}
}
