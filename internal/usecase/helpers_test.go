package usecase

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"chimera/internal/domain"
	"chimera/internal/infra/crypto"
)

const testIssuerID = "issuer-1"

// fixture wires a registry with a trusted issuer, a controllable clock,
// and a private key per registered agent.
type fixture struct {
	t          *testing.T
	cs         *crypto.Service
	registry   *CardRegistry
	issuerPriv ed25519.PrivateKey
	agentKeys  map[string]ed25519.PrivateKey
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	issuerPub, issuerPriv, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("generate issuer keypair: %v", err)
	}
	f := &fixture{
		t:          t,
		cs:         crypto.NewService(),
		issuerPriv: issuerPriv,
		agentKeys:  make(map[string]ed25519.PrivateKey),
		now:        time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	f.registry = NewCardRegistry(f.cs, f.clock)
	f.registry.TrustIssuer(testIssuerID, issuerPub)
	return f
}

func (f *fixture) clock() time.Time {
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) buildCard(agentID string, caps []domain.Capability, guest bool) domain.AgentCard {
	f.t.Helper()
	pub, priv, err := crypto.GenerateKeypair()
	if err != nil {
		f.t.Fatalf("generate keypair for %s: %v", agentID, err)
	}
	f.agentKeys[agentID] = priv
	card := domain.AgentCard{
		AgentID:      agentID,
		DisplayName:  agentID,
		PublicKey:    pub,
		Capabilities: caps,
		IssuerID:     testIssuerID,
		IssuedAt:     f.now,
		ExpiresAt:    f.now.Add(time.Hour),
		Version:      1,
		Guest:        guest,
	}
	sig, err := f.cs.SignCard(card, f.issuerPriv)
	if err != nil {
		f.t.Fatalf("sign card for %s: %v", agentID, err)
	}
	card.Signature = sig
	return card
}

func (f *fixture) registerAgent(agentID string, caps ...domain.Capability) domain.AgentCard {
	f.t.Helper()
	card := f.buildCard(agentID, caps, false)
	if err := f.registry.PutCard(context.Background(), card); err != nil {
		f.t.Fatalf("register %s: %v", agentID, err)
	}
	return card
}

func (f *fixture) registerGuest(agentID string, caps ...domain.Capability) domain.AgentCard {
	f.t.Helper()
	card := f.buildCard(agentID, caps, true)
	if err := f.registry.PutCard(context.Background(), card); err != nil {
		f.t.Fatalf("register guest %s: %v", agentID, err)
	}
	return card
}

// delegate issues and registers a grant signed by the delegator's key.
func (f *fixture) delegate(recordID, delegatorID, delegateID string, depth int, parentID string, scope ...domain.Capability) domain.DelegationRecord {
	f.t.Helper()
	rec := f.buildRecord(recordID, delegatorID, delegateID, depth, parentID, scope...)
	if err := f.registry.PutDelegation(context.Background(), rec); err != nil {
		f.t.Fatalf("register delegation %s: %v", recordID, err)
	}
	return rec
}

func (f *fixture) buildRecord(recordID, delegatorID, delegateID string, depth int, parentID string, scope ...domain.Capability) domain.DelegationRecord {
	f.t.Helper()
	rec := domain.DelegationRecord{
		RecordID:    recordID,
		DelegatorID: delegatorID,
		DelegateID:  delegateID,
		Scope:       scope,
		Depth:       depth,
		ParentID:    parentID,
		IssuedAt:    f.now,
	}
	key, ok := f.agentKeys[delegatorID]
	if !ok {
		f.t.Fatalf("no key for delegator %s", delegatorID)
	}
	sig, err := f.cs.SignRecord(rec, key)
	if err != nil {
		f.t.Fatalf("sign record %s: %v", recordID, err)
	}
	rec.Signature = sig
	return rec
}

func (f *fixture) signChallenge(agentID, sessionID string, nonce []byte) domain.Signature {
	f.t.Helper()
	key, ok := f.agentKeys[agentID]
	if !ok {
		f.t.Fatalf("no key for %s", agentID)
	}
	sig, err := f.cs.SignChallenge(sessionID, nonce, key)
	if err != nil {
		f.t.Fatalf("sign challenge: %v", err)
	}
	return sig
}
