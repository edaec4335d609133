package usecase

import (
	"context"
	"fmt"
	"time"

	"chimera/internal/domain"
	"chimera/internal/infra/crypto"
)

// TrustGate is the per-tool-call authorization decision point. Every
// external tool server calls Authorize before executing anything.
// Denial is a normal outcome; Authorize returns an error only for
// internal faults (cache or audit failure), never for a deny.
type TrustGate struct {
	engine *HandshakeEngine
	cache  DecisionCache
	audit  *AuditEmitter
	policy domain.ToolPolicy
	crypto *crypto.Service
	mode   domain.PolicyMode
	ttl    time.Duration
	clock  Clock
}

func NewTrustGate(engine *HandshakeEngine, cache DecisionCache, audit *AuditEmitter, policy domain.ToolPolicy, cs *crypto.Service, mode domain.PolicyMode, ttl time.Duration, clock Clock) *TrustGate {
	if clock == nil {
		clock = time.Now
	}
	return &TrustGate{
		engine: engine,
		cache:  cache,
		audit:  audit,
		policy: policy,
		crypto: cs,
		mode:   mode,
		ttl:    ttl,
		clock:  clock,
	}
}

// Authorize decides one tool call for a session. Decisions are keyed
// (session, tool, params hash); a repeated call with the same key
// within the session lifetime replays the cached decision, and the
// audit log carries each distinct decision exactly once.
func (g *TrustGate) Authorize(ctx context.Context, sessionID, toolName string, params map[string]any) (domain.AuthorizationDecision, error) {
	paramsHash, err := g.crypto.HashParams(params)
	if err != nil {
		return domain.AuthorizationDecision{}, fmt.Errorf("hash params: %w", err)
	}

	decision := domain.AuthorizationDecision{
		SessionID:  sessionID,
		ToolName:   toolName,
		ParamsHash: paramsHash,
	}
	if g.cache != nil {
		cached, ok, err := g.cache.Get(ctx, decision.DecisionKey())
		if err != nil {
			return domain.AuthorizationDecision{}, fmt.Errorf("decision cache: %w", err)
		}
		// A cached Allow replays only while the session is still
		// ESTABLISHED; after a close or timeout the key is re-decided,
		// which records and caches the deny. Cached denies replay in
		// any state.
		if ok && (cached.Outcome != domain.DecisionAllow || g.sessionEstablished(ctx, sessionID)) {
			replay := *cached
			replay.Cached = true
			return replay, nil
		}
	}

	decision.Outcome, decision.Reason = g.evaluate(ctx, sessionID, toolName)
	decision.DecidedAt = g.clock().UTC()

	if g.audit != nil {
		if err := g.audit.EmitToolDecision(ctx, decision); err != nil {
			return domain.AuthorizationDecision{}, fmt.Errorf("audit decision: %w", err)
		}
	}
	if g.cache != nil {
		if err := g.cache.Put(ctx, decision.DecisionKey(), decision, g.ttl); err != nil {
			return domain.AuthorizationDecision{}, fmt.Errorf("decision cache: %w", err)
		}
	}
	return decision, nil
}

func (g *TrustGate) sessionEstablished(ctx context.Context, sessionID string) bool {
	sess, err := g.engine.Session(ctx, sessionID)
	return err == nil && sess.State == domain.SessionEstablished
}

func (g *TrustGate) evaluate(ctx context.Context, sessionID, toolName string) (domain.DecisionOutcome, domain.RejectReason) {
	sess, err := g.engine.Session(ctx, sessionID)
	if err != nil {
		return domain.DecisionDeny, domain.ReasonSessionNotActive
	}
	if sess.State != domain.SessionEstablished {
		if sess.RejectReason == domain.ReasonSessionTimeout {
			return domain.DecisionDeny, domain.ReasonSessionTimeout
		}
		return domain.DecisionDeny, domain.ReasonSessionNotActive
	}

	if g.mode != domain.PolicyVulnerableDemo && sess.GuestBound() {
		restricted, err := g.policy.Restricted(toolName)
		if err != nil {
			// Policy evaluation failure fails closed.
			return domain.DecisionDeny, domain.ReasonRestrictedTool
		}
		if restricted {
			return domain.DecisionDeny, domain.ReasonRestrictedTool
		}
	}

	required := g.policy.RequiredCapability(toolName)
	if !sess.NegotiatedScope.Has(required) {
		return domain.DecisionDeny, domain.ReasonScopeViolation
	}
	return domain.DecisionAllow, domain.ReasonNone
}
