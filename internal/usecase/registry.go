package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chimera/internal/domain"
	"chimera/internal/infra/crypto"
)

// Snapshot is one immutable version of registry state. Readers and the
// chain validator work against a snapshot value, never against the
// live registry, so concurrent validation is reproducible. A write
// produces a new snapshot and leaves prior ones untouched.
type Snapshot struct {
	Version        int64
	cards          map[string]domain.AgentCard
	revokedCards   map[string]time.Time
	records        map[string]domain.DelegationRecord
	revokedRecords map[string]time.Time
	issuers        map[string][]byte
}

func (s *Snapshot) Card(agentID string) (domain.AgentCard, bool) {
	card, ok := s.cards[agentID]
	return card, ok
}

func (s *Snapshot) CardRevoked(agentID string) bool {
	_, ok := s.revokedCards[agentID]
	return ok
}

func (s *Snapshot) Record(recordID string) (domain.DelegationRecord, bool) {
	rec, ok := s.records[recordID]
	return rec, ok
}

// RecordRevoked reports whether a delegation record has been revoked,
// either directly or via its record flag as registered.
func (s *Snapshot) RecordRevoked(recordID string) bool {
	if _, ok := s.revokedRecords[recordID]; ok {
		return true
	}
	rec, ok := s.records[recordID]
	return ok && rec.Revoked
}

// IssuerKey resolves the public key a card's signature must verify
// against: a trusted issuer key first, falling back to the issuer's own
// registered card.
func (s *Snapshot) IssuerKey(issuerID string) ([]byte, bool) {
	if key, ok := s.issuers[issuerID]; ok {
		return key, true
	}
	if card, ok := s.cards[issuerID]; ok && !s.CardRevoked(issuerID) {
		return card.PublicKey, true
	}
	return nil, false
}

// CardRegistry stores signed identity cards and is the source of agent
// public keys. All reads observe a consistent snapshot; writes swap in
// a new version under the registry lock.
type CardRegistry struct {
	mu        sync.RWMutex
	current   *Snapshot
	crypto    *crypto.Service
	clock     Clock
	persister CardPersister
	audit     *AuditEmitter
}

func NewCardRegistry(cs *crypto.Service, clock Clock) *CardRegistry {
	if clock == nil {
		clock = time.Now
	}
	return &CardRegistry{
		current: &Snapshot{
			Version:        1,
			cards:          map[string]domain.AgentCard{},
			revokedCards:   map[string]time.Time{},
			records:        map[string]domain.DelegationRecord{},
			revokedRecords: map[string]time.Time{},
			issuers:        map[string][]byte{},
		},
		crypto: cs,
		clock:  clock,
	}
}

func (r *CardRegistry) WithPersister(p CardPersister) *CardRegistry {
	r.persister = p
	return r
}

func (r *CardRegistry) WithAudit(a *AuditEmitter) *CardRegistry {
	r.audit = a
	return r
}

// Snapshot returns the latest registry version.
func (r *CardRegistry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// TrustIssuer registers an issuer public key cards may be signed with.
func (r *CardRegistry) TrustIssuer(issuerID string, publicKey []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.cloneLocked()
	next.issuers[issuerID] = append([]byte(nil), publicKey...)
	r.current = next
}

// PutCard validates and stores a card, superseding any earlier version
// for the same agent id.
func (r *CardRegistry) PutCard(ctx context.Context, card domain.AgentCard) error {
	if card.AgentID == "" {
		return fmt.Errorf("%w: agent id is required", domain.ErrSignatureInvalid)
	}
	if !card.ExpiresAt.After(card.IssuedAt) {
		return domain.ErrCardExpired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	issuerKey, ok := r.current.IssuerKey(card.IssuerID)
	if !ok {
		return fmt.Errorf("%w: untrusted issuer %s", domain.ErrSignatureInvalid, card.IssuerID)
	}
	if err := r.crypto.VerifyCard(card, issuerKey); err != nil {
		return err
	}
	if prev, ok := r.current.cards[card.AgentID]; ok && card.Version <= prev.Version {
		return fmt.Errorf("%w: card version %d does not supersede %d", domain.ErrSignatureInvalid, card.Version, prev.Version)
	}

	next := r.cloneLocked()
	next.cards[card.AgentID] = card
	// A re-registered card clears an earlier revocation; revocation
	// only affects cards issued before it.
	delete(next.revokedCards, card.AgentID)
	r.current = next

	if r.persister != nil {
		if err := r.persister.SaveCard(ctx, card); err != nil {
			return err
		}
	}
	if r.audit != nil {
		r.audit.EmitCardRegistered(ctx, card)
	}
	return nil
}

// GetCard returns the latest non-superseded card for an agent.
func (r *CardRegistry) GetCard(agentID string) (domain.AgentCard, error) {
	snap := r.Snapshot()
	card, ok := snap.Card(agentID)
	if !ok {
		return domain.AgentCard{}, domain.ErrUnknownAgent
	}
	return card, nil
}

// Revoke marks an agent's card untrusted from now on. Chains rooted on
// the card fail validation against any snapshot taken after this call;
// validations already completed are not retroactively invalidated.
func (r *CardRegistry) Revoke(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.current.cards[agentID]; !ok {
		return domain.ErrUnknownAgent
	}
	now := r.clock().UTC()
	next := r.cloneLocked()
	next.revokedCards[agentID] = now
	r.current = next

	if r.persister != nil {
		if err := r.persister.SaveRevocation(ctx, agentID, now); err != nil {
			return err
		}
	}
	if r.audit != nil {
		r.audit.EmitCardRevoked(ctx, agentID)
	}
	return nil
}

// PutDelegation registers a delegation record so its signature subject
// and revocation status are resolvable during chain validation.
func (r *CardRegistry) PutDelegation(ctx context.Context, rec domain.DelegationRecord) error {
	if rec.RecordID == "" {
		return fmt.Errorf("%w: record id is required", domain.ErrSignatureInvalid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delegator, ok := r.current.cards[rec.DelegatorID]
	if !ok {
		return domain.ErrUnknownAgent
	}
	if err := r.crypto.VerifyRecord(rec, delegator.PublicKey); err != nil {
		return err
	}
	next := r.cloneLocked()
	next.records[rec.RecordID] = rec
	r.current = next

	if r.persister != nil {
		if err := r.persister.SaveDelegation(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// RevokeDelegation revokes a single grant; any chain containing it is
// rejected from the next snapshot on.
func (r *CardRegistry) RevokeDelegation(ctx context.Context, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.current.records[recordID]; !ok {
		return domain.ErrNotFound
	}
	next := r.cloneLocked()
	next.revokedRecords[recordID] = r.clock().UTC()
	r.current = next
	return nil
}

func (r *CardRegistry) cloneLocked() *Snapshot {
	cur := r.current
	next := &Snapshot{
		Version:        cur.Version + 1,
		cards:          make(map[string]domain.AgentCard, len(cur.cards)),
		revokedCards:   make(map[string]time.Time, len(cur.revokedCards)),
		records:        make(map[string]domain.DelegationRecord, len(cur.records)),
		revokedRecords: make(map[string]time.Time, len(cur.revokedRecords)),
		issuers:        make(map[string][]byte, len(cur.issuers)),
	}
	for k, v := range cur.cards {
		next.cards[k] = v
	}
	for k, v := range cur.revokedCards {
		next.revokedCards[k] = v
	}
	for k, v := range cur.records {
		next.records[k] = v
	}
	for k, v := range cur.revokedRecords {
		next.revokedRecords[k] = v
	}
	for k, v := range cur.issuers {
		next.issuers[k] = v
	}
	return next
}
