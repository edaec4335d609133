package usecase

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"chimera/internal/domain"
	"chimera/internal/infra/crypto"
)

const challengeNonceSize = 32

// HandshakeEngine runs the mutual challenge/response protocol. Each
// session is logically single-threaded: the state machine advances only
// in response to the next expected message, and a message arriving in
// any other state fails with a protocol violation instead of blocking.
type HandshakeEngine struct {
	registry  *CardRegistry
	validator *ChainValidator
	crypto    *crypto.Service
	audit     *AuditEmitter
	mode      domain.PolicyMode
	timeout   time.Duration
	clock     Clock
	nonce     func(n int) ([]byte, error)

	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func NewHandshakeEngine(registry *CardRegistry, validator *ChainValidator, cs *crypto.Service, audit *AuditEmitter, mode domain.PolicyMode, timeout time.Duration, clock Clock) *HandshakeEngine {
	if clock == nil {
		clock = time.Now
	}
	return &HandshakeEngine{
		registry:  registry,
		validator: validator,
		crypto:    cs,
		audit:     audit,
		mode:      mode,
		timeout:   timeout,
		clock:     clock,
		nonce:     randomNonce,
		sessions:  make(map[string]*domain.Session),
	}
}

// WithNonceSource replaces the challenge nonce source. Tests use this
// to make handshakes reproducible.
func (e *HandshakeEngine) WithNonceSource(nonce func(n int) ([]byte, error)) *HandshakeEngine {
	e.nonce = nonce
	return e
}

// Initiate opens a session: both cards are verified against the
// registry, a fresh challenge nonce is issued, and the session parks in
// CHALLENGE_SENT awaiting the responder's signed nonce. Card failures
// reject the session immediately with the corresponding reason.
func (e *HandshakeEngine) Initiate(ctx context.Context, initiatorCard domain.AgentCard, responderID string, chain domain.DelegationChain) (domain.Session, error) {
	now := e.clock().UTC()
	snap := e.registry.Snapshot()

	sess := &domain.Session{
		ID:              uuid.NewString(),
		InitiatorID:     initiatorCard.AgentID,
		ResponderID:     responderID,
		InitiatorCard:   initiatorCard,
		Chain:           chain,
		State:           domain.SessionInit,
		SnapshotVersion: snap.Version,
		CreatedAt:       now,
		Deadline:        now.Add(e.timeout),
	}

	e.mu.Lock()
	e.sessions[sess.ID] = sess
	e.mu.Unlock()

	if err := e.verifyPresentedCard(snap, initiatorCard, now); err != nil {
		return e.reject(ctx, sess, err)
	}
	responderCard, ok := snap.Card(responderID)
	if !ok {
		return e.reject(ctx, sess, domain.ErrUnknownAgent)
	}
	if err := e.verifyPresentedCard(snap, responderCard, now); err != nil {
		return e.reject(ctx, sess, err)
	}

	nonce, err := e.nonce(challengeNonceSize)
	if err != nil {
		// Nonce failure is an internal fault, not a protocol outcome.
		return domain.Session{}, fmt.Errorf("challenge nonce: %w", err)
	}

	e.mu.Lock()
	sess.ResponderCard = responderCard
	sess.State = domain.SessionCardExchanged
	sess.ChallengeNonce = nonce
	sess.State = domain.SessionChallengeSent
	copied := *sess
	e.mu.Unlock()

	if e.audit != nil {
		e.audit.EmitSessionState(ctx, sess.ID, domain.SessionCardExchanged, domain.ReasonNone)
		e.audit.EmitSessionState(ctx, sess.ID, domain.SessionChallengeSent, domain.ReasonNone)
	}
	return copied, nil
}

// Respond consumes the responder's signed challenge. On success the
// chain is validated (unless the vulnerable demo mode disables it),
// revocation is re-checked against the latest snapshot, and the session
// establishes with the negotiated scope.
func (e *HandshakeEngine) Respond(ctx context.Context, sessionID string, signed domain.Signature) (domain.Session, error) {
	now := e.clock().UTC()

	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return domain.Session{}, domain.ErrUnknownSession
	}
	if e.expiredLocked(sess, now) {
		copied := e.rejectLocked(sess, domain.ReasonSessionTimeout)
		e.mu.Unlock()
		e.auditRejected(ctx, copied)
		return copied, nil
	}
	if sess.State != domain.SessionChallengeSent {
		copied := e.rejectLocked(sess, domain.ReasonProtocolViolation)
		e.mu.Unlock()
		e.auditRejected(ctx, copied)
		return copied, nil
	}
	nonce := append([]byte(nil), sess.ChallengeNonce...)
	responderKey := append([]byte(nil), sess.ResponderCard.PublicKey...)
	e.mu.Unlock()

	if err := e.crypto.VerifyChallenge(sessionID, nonce, signed, responderKey); err != nil {
		return e.rejectByID(ctx, sessionID, domain.ReasonSignatureInvalid)
	}
	e.transition(ctx, sessionID, domain.SessionChallengeVerified)

	effective, reason := e.validateChain(sessionID)
	if reason != domain.ReasonNone {
		return e.rejectByID(ctx, sessionID, reason)
	}
	e.transition(ctx, sessionID, domain.SessionChainValidated)

	e.mu.Lock()
	sess, ok = e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return domain.Session{}, domain.ErrUnknownSession
	}
	sess.NegotiatedScope = effective.Intersect(sess.ResponderCard.CapabilityScope())
	sess.State = domain.SessionEstablished
	sess.EstablishedAt = e.clock().UTC()
	copied := *sess
	e.mu.Unlock()

	if e.audit != nil {
		e.audit.EmitSessionState(ctx, sessionID, domain.SessionEstablished, domain.ReasonNone)
	}
	return copied, nil
}

// Close releases an established session. Closing a session in any
// non-terminal state is an explicit completion, not an error.
func (e *HandshakeEngine) Close(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return domain.ErrUnknownSession
	}
	if sess.State.Terminal() {
		e.mu.Unlock()
		return nil
	}
	sess.State = domain.SessionClosed
	e.mu.Unlock()

	if e.audit != nil {
		e.audit.EmitSessionState(ctx, sessionID, domain.SessionClosed, domain.ReasonNone)
	}
	return nil
}

// Session returns a copy of the session, lazily expiring it first.
func (e *HandshakeEngine) Session(ctx context.Context, sessionID string) (domain.Session, error) {
	now := e.clock().UTC()
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return domain.Session{}, domain.ErrUnknownSession
	}
	if e.expiredLocked(sess, now) {
		copied := e.rejectLocked(sess, domain.ReasonSessionTimeout)
		e.mu.Unlock()
		e.auditRejected(ctx, copied)
		return copied, nil
	}
	copied := *sess
	e.mu.Unlock()
	return copied, nil
}

// Sweep expires every session past its deadline. The janitor calls
// this periodically; timeout is the only external cancellation path.
func (e *HandshakeEngine) Sweep(ctx context.Context) int {
	now := e.clock().UTC()
	var expired []domain.Session

	e.mu.Lock()
	for _, sess := range e.sessions {
		if e.expiredLocked(sess, now) {
			expired = append(expired, e.rejectLocked(sess, domain.ReasonSessionTimeout))
		}
	}
	e.mu.Unlock()

	for _, sess := range expired {
		e.auditRejected(ctx, sess)
	}
	return len(expired)
}

// StartJanitor sweeps until the context is done.
func (e *HandshakeEngine) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Sweep(ctx)
			}
		}
	}()
}

func (e *HandshakeEngine) validateChain(sessionID string) (domain.Scope, domain.RejectReason) {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return nil, domain.ReasonProtocolViolation
	}
	root := sess.InitiatorCard
	chain := sess.Chain
	e.mu.Unlock()

	if e.mode == domain.PolicyVulnerableDemo {
		// Lab misconfiguration: the presented chain is trusted as-is.
		if leaf := chain.Leaf(); leaf != nil {
			return leaf.GrantedScope(), domain.ReasonNone
		}
		return root.CapabilityScope(), domain.ReasonNone
	}

	snap := e.registry.Snapshot()
	verdict := e.validator.Validate(snap, root, chain, e.clock().UTC())
	if !verdict.Valid {
		return nil, verdict.Reason
	}
	// Revocation may have landed after the snapshot above was taken;
	// re-check against the latest version before CHAIN_VALIDATED.
	latest := e.registry.Snapshot()
	if latest.Version != snap.Version {
		if recheck := e.validator.RecheckRevocation(latest, root, chain); !recheck.Valid {
			return nil, recheck.Reason
		}
	}
	return verdict.EffectiveScope, domain.ReasonNone
}

func (e *HandshakeEngine) verifyPresentedCard(snap *Snapshot, card domain.AgentCard, now time.Time) error {
	registered, ok := snap.Card(card.AgentID)
	if !ok {
		return domain.ErrUnknownAgent
	}
	if snap.CardRevoked(card.AgentID) {
		return domain.ErrRevokedLink
	}
	if card.Expired(now) {
		return domain.ErrCardExpired
	}
	issuerKey, ok := snap.IssuerKey(card.IssuerID)
	if !ok {
		return domain.ErrSignatureInvalid
	}
	if err := e.crypto.VerifyCard(card, issuerKey); err != nil {
		return err
	}
	// The presented card must carry the registered key; a card signed
	// by a trusted issuer but bound to a different key is a spoof.
	if string(registered.PublicKey) != string(card.PublicKey) {
		return domain.ErrSignatureInvalid
	}
	return nil
}

func (e *HandshakeEngine) transition(ctx context.Context, sessionID string, state domain.SessionState) {
	e.mu.Lock()
	if sess, ok := e.sessions[sessionID]; ok && !sess.State.Terminal() {
		sess.State = state
	}
	e.mu.Unlock()
	if e.audit != nil {
		e.audit.EmitSessionState(ctx, sessionID, state, domain.ReasonNone)
	}
}

func (e *HandshakeEngine) reject(ctx context.Context, sess *domain.Session, err error) (domain.Session, error) {
	reason := domain.ReasonForError(err)
	e.mu.Lock()
	copied := e.rejectLocked(sess, reason)
	e.mu.Unlock()
	e.auditRejected(ctx, copied)
	return copied, err
}

func (e *HandshakeEngine) rejectByID(ctx context.Context, sessionID string, reason domain.RejectReason) (domain.Session, error) {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return domain.Session{}, domain.ErrUnknownSession
	}
	copied := e.rejectLocked(sess, reason)
	e.mu.Unlock()
	e.auditRejected(ctx, copied)
	return copied, domain.ErrorForReason(reason)
}

func (e *HandshakeEngine) rejectLocked(sess *domain.Session, reason domain.RejectReason) domain.Session {
	if !sess.State.Terminal() {
		sess.State = domain.SessionRejected
		sess.RejectReason = reason
		// Rejected sessions release their resources immediately.
		sess.ChallengeNonce = nil
		sess.ResponseNonce = nil
	}
	return *sess
}

func (e *HandshakeEngine) expiredLocked(sess *domain.Session, now time.Time) bool {
	return !sess.State.Terminal() && sess.State != domain.SessionEstablished && now.After(sess.Deadline)
}

func (e *HandshakeEngine) auditRejected(ctx context.Context, sess domain.Session) {
	if e.audit != nil && sess.State == domain.SessionRejected {
		e.audit.EmitSessionState(ctx, sess.ID, domain.SessionRejected, sess.RejectReason)
	}
}

func randomNonce(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
