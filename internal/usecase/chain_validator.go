package usecase

import (
	"time"

	"chimera/internal/domain"
	"chimera/internal/infra/crypto"
)

// ChainValidator checks a presented delegation chain against one
// registry snapshot. Validation is pure: it never mutates registry
// state and two calls with the same snapshot and inputs always agree.
type ChainValidator struct {
	Crypto   *crypto.Service
	MaxDepth int
}

func NewChainValidator(cs *crypto.Service, maxDepth int) *ChainValidator {
	return &ChainValidator{Crypto: cs, MaxDepth: maxDepth}
}

// Validate walks the chain root to leaf. The root card anchors the
// chain: record[0] must be a depth-0 grant by the root agent, scoped
// within the root card's own capabilities. An empty chain is valid
// only as the root agent acting alone, with the card's capability set
// as the effective scope.
func (v *ChainValidator) Validate(snap *Snapshot, root domain.AgentCard, chain domain.DelegationChain, now time.Time) domain.ChainVerdict {
	if verdict, ok := v.checkRoot(snap, root, now); !ok {
		return verdict
	}
	if len(chain) == 0 {
		return domain.ValidChain(root.CapabilityScope())
	}
	if v.MaxDepth > 0 && len(chain) > v.MaxDepth {
		return domain.RejectChain(domain.ReasonChainDepthExceeded)
	}

	parentScope := root.CapabilityScope()
	prevDelegate := root.AgentID
	seen := map[string]struct{}{root.AgentID: {}}

	for i := range chain {
		rec := chain[i]

		delegatorKey, ok := v.delegatorKey(snap, rec.DelegatorID)
		if !ok {
			return domain.RejectChain(domain.ReasonUnknownAgent)
		}
		if err := v.Crypto.VerifyRecord(rec, delegatorKey); err != nil {
			return domain.RejectChain(domain.ReasonSignatureInvalid)
		}
		// Depths must be strictly monotonic from 0. A gap means the
		// presented chain is not the chain that was issued.
		if rec.Depth != i {
			return domain.RejectChain(domain.ReasonProtocolViolation)
		}
		scope := rec.GrantedScope()
		if !scope.SubsetOf(parentScope) {
			return domain.RejectChain(domain.ReasonScopeViolation)
		}
		if rec.Revoked || snap.RecordRevoked(rec.RecordID) || snap.CardRevoked(rec.DelegatorID) {
			return domain.RejectChain(domain.ReasonRevokedLink)
		}
		if _, dup := seen[rec.DelegateID]; dup {
			return domain.RejectChain(domain.ReasonCycleDetected)
		}
		seen[rec.DelegateID] = struct{}{}
		// Continuity: each grant must be issued by the previous
		// delegate. A resubmitted chain that skips a restrictive
		// intermediate link breaks here.
		if rec.DelegatorID != prevDelegate {
			return domain.RejectChain(domain.ReasonProtocolViolation)
		}

		parentScope = scope
		prevDelegate = rec.DelegateID
	}

	return domain.ValidChain(parentScope)
}

func (v *ChainValidator) checkRoot(snap *Snapshot, root domain.AgentCard, now time.Time) (domain.ChainVerdict, bool) {
	registered, ok := snap.Card(root.AgentID)
	if !ok {
		return domain.RejectChain(domain.ReasonUnknownAgent), false
	}
	if snap.CardRevoked(root.AgentID) {
		return domain.RejectChain(domain.ReasonRevokedLink), false
	}
	if registered.Expired(now) {
		return domain.RejectChain(domain.ReasonCardExpired), false
	}
	issuerKey, ok := snap.IssuerKey(registered.IssuerID)
	if !ok {
		return domain.RejectChain(domain.ReasonSignatureInvalid), false
	}
	if err := v.Crypto.VerifyCard(registered, issuerKey); err != nil {
		return domain.RejectChain(domain.ReasonSignatureInvalid), false
	}
	return domain.ChainVerdict{}, true
}

func (v *ChainValidator) delegatorKey(snap *Snapshot, delegatorID string) ([]byte, bool) {
	card, ok := snap.Card(delegatorID)
	if !ok {
		return nil, false
	}
	return card.PublicKey, true
}

// RecheckRevocation re-examines only the revocation status of a chain
// against a fresh snapshot. The handshake engine calls this just before
// CHAIN_VALIDATED so a revoke committed after validation started cannot
// produce a stale allow.
func (v *ChainValidator) RecheckRevocation(snap *Snapshot, root domain.AgentCard, chain domain.DelegationChain) domain.ChainVerdict {
	if snap.CardRevoked(root.AgentID) {
		return domain.RejectChain(domain.ReasonRevokedLink)
	}
	for i := range chain {
		rec := chain[i]
		if rec.Revoked || snap.RecordRevoked(rec.RecordID) || snap.CardRevoked(rec.DelegatorID) {
			return domain.RejectChain(domain.ReasonRevokedLink)
		}
	}
	return domain.ChainVerdict{Valid: true}
}
