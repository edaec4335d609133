package usecase

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"chimera/internal/domain"
	"chimera/internal/infra/crypto"
)

const defaultCardTTL = time.Hour

// Orchestrator drives scripted scenarios against the engine. Steps
// sharing a session label run strictly in order; independent sessions
// run concurrently. Registry-mutating steps act as barriers so that a
// run against fixed registry state is deterministic.
type Orchestrator struct {
	registry *CardRegistry
	engine   *HandshakeEngine
	gate     *TrustGate
	crypto   *crypto.Service
	keys     Signer
	audit    *AuditEmitter
	runs     ScenarioRunRepository
	mode     domain.PolicyMode
	clock    Clock
	issuerID string
}

func NewOrchestrator(registry *CardRegistry, engine *HandshakeEngine, gate *TrustGate, cs *crypto.Service, keys Signer, audit *AuditEmitter, runs ScenarioRunRepository, mode domain.PolicyMode, clock Clock) *Orchestrator {
	if clock == nil {
		clock = time.Now
	}
	return &Orchestrator{
		registry: registry,
		engine:   engine,
		gate:     gate,
		crypto:   cs,
		keys:     keys,
		audit:    audit,
		runs:     runs,
		mode:     mode,
		clock:    clock,
		issuerID: "scenario-issuer",
	}
}

// runState carries the mutable bookkeeping of one scenario execution.
type runState struct {
	mu       sync.Mutex
	sessions map[string]string                  // session label -> session id
	records  map[string]domain.DelegationRecord // record id -> issued record
	results  []domain.StepResult
}

// Run executes a scenario and records the audited run.
func (o *Orchestrator) Run(ctx context.Context, scenario domain.Scenario) (domain.ScenarioRun, error) {
	run := domain.ScenarioRun{
		RunID:      uuid.NewString(),
		Name:       scenario.Name,
		PolicyMode: o.mode,
		StartedAt:  o.clock().UTC(),
	}

	if err := o.setup(ctx, scenario); err != nil {
		return domain.ScenarioRun{}, fmt.Errorf("scenario setup: %w", err)
	}

	state := &runState{
		sessions: make(map[string]string),
		records:  make(map[string]domain.DelegationRecord),
		results:  make([]domain.StepResult, len(scenario.Steps)),
	}

	// Walk the step list accumulating a batch of session-bound steps;
	// a registry-affecting step flushes the batch (each session group
	// in its own goroutine, in-group order preserved) and then runs
	// alone.
	var batch []indexedStep
	for i, step := range scenario.Steps {
		if isBarrier(step.Action) {
			o.flush(ctx, state, batch)
			batch = batch[:0]
			state.results[i] = o.executeStep(ctx, state, indexedStep{index: i, step: step})
			continue
		}
		batch = append(batch, indexedStep{index: i, step: step})
	}
	o.flush(ctx, state, batch)

	for i := range state.results {
		if o.audit != nil {
			o.audit.EmitScenarioStep(ctx, run.RunID, state.results[i])
		}
	}

	run.Steps = state.results
	run.Verdict = computeVerdict(state.results)
	run.FinishedAt = o.clock().UTC()

	if o.audit != nil {
		o.audit.EmitScenarioVerdict(ctx, run.RunID, run.Verdict)
	}
	if o.runs != nil {
		if err := o.runs.Save(ctx, run); err != nil {
			return domain.ScenarioRun{}, fmt.Errorf("save run: %w", err)
		}
	}
	return run, nil
}

type indexedStep struct {
	index int
	step  domain.ScenarioStep
}

func isBarrier(action domain.StepAction) bool {
	switch action {
	case domain.ActionPutCard, domain.ActionRevokeCard, domain.ActionDelegate:
		return true
	}
	return false
}

func (o *Orchestrator) flush(ctx context.Context, state *runState, batch []indexedStep) {
	if len(batch) == 0 {
		return
	}
	groups := make(map[string][]indexedStep)
	var order []string
	for _, is := range batch {
		label := is.step.Session
		if _, ok := groups[label]; !ok {
			order = append(order, label)
		}
		groups[label] = append(groups[label], is)
	}

	var wg sync.WaitGroup
	for _, label := range order {
		group := groups[label]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, is := range group {
				result := o.executeStep(ctx, state, is)
				state.mu.Lock()
				state.results[is.index] = result
				state.mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

// setup mints keys and registers a signed card per declared agent.
func (o *Orchestrator) setup(ctx context.Context, scenario domain.Scenario) error {
	issuerPub, err := o.keys.Generate(o.issuerID)
	if err != nil {
		return err
	}
	o.registry.TrustIssuer(o.issuerID, issuerPub)

	for _, spec := range scenario.Agents {
		if !domain.ValidRole(spec.Role) {
			return fmt.Errorf("unknown role %q for agent %s", spec.Role, spec.AgentID)
		}
		if _, err := o.registerAgent(ctx, spec, nil); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) registerAgent(ctx context.Context, spec domain.AgentSpec, tamper func(*domain.AgentCard)) (domain.AgentCard, error) {
	pub, err := o.keys.Generate(spec.AgentID)
	if err != nil {
		return domain.AgentCard{}, err
	}
	ttl := defaultCardTTL
	if spec.TTLSeconds > 0 {
		ttl = time.Duration(spec.TTLSeconds) * time.Second
	}
	now := o.clock().UTC()
	card := domain.AgentCard{
		AgentID:      spec.AgentID,
		DisplayName:  spec.AgentID,
		PublicKey:    pub,
		Capabilities: spec.Capabilities,
		IssuerID:     o.issuerID,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
		Version:      1,
		Guest:        spec.Guest,
	}
	if existing, err := o.registry.GetCard(spec.AgentID); err == nil {
		card.Version = existing.Version + 1
	}
	sig, err := o.signAs(o.issuerID, func(key ed25519.PrivateKey) (domain.Signature, error) {
		return o.crypto.SignCard(card, key)
	})
	if err != nil {
		return domain.AgentCard{}, err
	}
	card.Signature = sig
	if tamper != nil {
		tamper(&card)
	}
	if err := o.registry.PutCard(ctx, card); err != nil {
		return domain.AgentCard{}, err
	}
	return card, nil
}

func (o *Orchestrator) signAs(id string, sign func(ed25519.PrivateKey) (domain.Signature, error)) (domain.Signature, error) {
	raw, err := o.keys.PrivateKeyFor(id)
	if err != nil {
		return domain.Signature{}, err
	}
	return sign(ed25519.PrivateKey(raw))
}

func (o *Orchestrator) executeStep(ctx context.Context, state *runState, is indexedStep) domain.StepResult {
	step := is.step
	result := domain.StepResult{
		Index:       is.index,
		Role:        step.Role,
		Action:      step.Action,
		Adversarial: step.Adversarial,
	}

	switch step.Action {
	case domain.ActionPutCard:
		o.execPutCard(ctx, step, &result)
	case domain.ActionRevokeCard:
		o.execRevokeCard(ctx, step, &result)
	case domain.ActionDelegate:
		o.execDelegate(ctx, state, step, &result)
	case domain.ActionHandshake:
		o.execHandshake(ctx, state, step, &result)
	case domain.ActionToolCall:
		o.execToolCall(ctx, state, step, &result)
	case domain.ActionClose:
		o.execClose(ctx, state, step, &result)
	default:
		result.Outcome = domain.StepFailed
		result.Reason = domain.ReasonProtocolViolation
	}
	return result
}

func (o *Orchestrator) execPutCard(ctx context.Context, step domain.ScenarioStep, result *domain.StepResult) {
	spec := domain.AgentSpec{
		AgentID:      paramString(step.Params, "agent"),
		Role:         step.Role,
		Capabilities: paramCapabilities(step.Params, "capabilities"),
		Guest:        paramBool(step.Params, "guest"),
		TTLSeconds:   paramInt(step.Params, "ttl_seconds"),
	}
	tamper := cardTamper(paramString(step.Params, "tamper"))
	if _, err := o.registerAgent(ctx, spec, tamper); err != nil {
		result.Outcome = domain.StepDenied
		result.Reason = domain.ReasonForError(err)
		return
	}
	result.Outcome = domain.StepAllowed
}

func (o *Orchestrator) execRevokeCard(ctx context.Context, step domain.ScenarioStep, result *domain.StepResult) {
	if err := o.registry.Revoke(ctx, paramString(step.Params, "agent")); err != nil {
		result.Outcome = domain.StepDenied
		result.Reason = domain.ReasonForError(err)
		return
	}
	result.Outcome = domain.StepAllowed
}

func (o *Orchestrator) execDelegate(ctx context.Context, state *runState, step domain.ScenarioStep, result *domain.StepResult) {
	recordID := paramString(step.Params, "record_id")
	if recordID == "" {
		recordID = uuid.NewString()
	}
	rec := domain.DelegationRecord{
		RecordID:    recordID,
		DelegatorID: paramString(step.Params, "delegator"),
		DelegateID:  paramString(step.Params, "delegate"),
		Scope:       paramCapabilities(step.Params, "scope"),
		ParentID:    paramString(step.Params, "parent"),
		IssuedAt:    o.clock().UTC(),
	}
	state.mu.Lock()
	if parent, ok := state.records[rec.ParentID]; ok {
		rec.Depth = parent.Depth + 1
	}
	state.mu.Unlock()
	if v, ok := step.Params["depth"]; ok {
		rec.Depth = toInt(v)
	}

	signerID := rec.DelegatorID
	if forged := paramString(step.Params, "sign_as"); forged != "" {
		// Adversarial: sign the grant with another agent's key.
		signerID = forged
	}
	sig, err := o.signAs(signerID, func(key ed25519.PrivateKey) (domain.Signature, error) {
		return o.crypto.SignRecord(rec, key)
	})
	if err != nil {
		result.Outcome = domain.StepFailed
		result.Reason = domain.ReasonForError(err)
		return
	}
	rec.Signature = sig

	state.mu.Lock()
	state.records[rec.RecordID] = rec
	state.mu.Unlock()

	// Registration failure is not fatal to the scenario: a forged
	// record stays usable in a later handshake step, it just never
	// enters the registry.
	if err := o.registry.PutDelegation(ctx, rec); err != nil {
		result.Outcome = domain.StepDenied
		result.Reason = domain.ReasonForError(err)
		return
	}
	result.Outcome = domain.StepAllowed
}

func (o *Orchestrator) execHandshake(ctx context.Context, state *runState, step domain.ScenarioStep, result *domain.StepResult) {
	initiatorID := paramString(step.Params, "initiator")
	responderID := paramString(step.Params, "responder")

	card, err := o.registry.GetCard(initiatorID)
	if err != nil {
		result.Outcome = domain.StepFailed
		result.Reason = domain.ReasonForError(err)
		return
	}

	chain, err := o.buildChain(state, step)
	if err != nil {
		result.Outcome = domain.StepFailed
		result.Reason = domain.ReasonProtocolViolation
		return
	}

	sess, err := o.engine.Initiate(ctx, card, responderID, chain)
	if err != nil {
		result.Outcome = domain.StepDenied
		result.Reason = sess.RejectReason
		result.SessionID = sess.ID
		result.State = sess.State
		return
	}

	responderSigner := responderID
	if forged := paramString(step.Params, "respond_as"); forged != "" {
		// Adversarial: answer the challenge with the wrong key.
		responderSigner = forged
	}
	sig, err := o.signAs(responderSigner, func(key ed25519.PrivateKey) (domain.Signature, error) {
		return o.crypto.SignChallenge(sess.ID, sess.ChallengeNonce, key)
	})
	if err != nil {
		result.Outcome = domain.StepFailed
		result.Reason = domain.ReasonForError(err)
		result.SessionID = sess.ID
		return
	}

	final, err := o.engine.Respond(ctx, sess.ID, sig)
	result.SessionID = sess.ID
	result.State = final.State
	if err != nil || final.State != domain.SessionEstablished {
		result.Outcome = domain.StepDenied
		result.Reason = final.RejectReason
		return
	}

	state.mu.Lock()
	state.sessions[sessionLabel(step)] = sess.ID
	state.mu.Unlock()

	result.Outcome = domain.StepAllowed
	if step.Adversarial {
		// An adversarial handshake that establishes has leaked scope
		// even if no tool call lands afterwards.
		result.ScopeLeaked = true
	}
}

// buildChain resolves the step's chain record ids against issued
// records, honoring the drop_link parameter used to replay a shortened
// chain.
func (o *Orchestrator) buildChain(state *runState, step domain.ScenarioStep) (domain.DelegationChain, error) {
	ids := paramStrings(step.Params, "chain")
	drop := paramString(step.Params, "drop_link")

	var chain domain.DelegationChain
	state.mu.Lock()
	defer state.mu.Unlock()
	for _, id := range ids {
		if id == drop {
			continue
		}
		rec, ok := state.records[id]
		if !ok {
			return nil, fmt.Errorf("unknown delegation record %q", id)
		}
		chain = append(chain, rec)
	}
	return chain, nil
}

func (o *Orchestrator) execToolCall(ctx context.Context, state *runState, step domain.ScenarioStep, result *domain.StepResult) {
	state.mu.Lock()
	sessionID, ok := state.sessions[sessionLabel(step)]
	state.mu.Unlock()
	if !ok {
		result.Outcome = domain.StepDenied
		result.Reason = domain.ReasonSessionNotActive
		return
	}

	tool := paramString(step.Params, "tool")
	args, _ := step.Params["args"].(map[string]any)
	decision, err := o.gate.Authorize(ctx, sessionID, tool, args)
	if err != nil {
		result.Outcome = domain.StepFailed
		result.Reason = domain.ReasonProtocolViolation
		return
	}
	result.SessionID = sessionID
	result.Reason = decision.Reason
	if decision.Allowed() {
		result.Outcome = domain.StepAllowed
		return
	}
	result.Outcome = domain.StepDenied
}

func (o *Orchestrator) execClose(ctx context.Context, state *runState, step domain.ScenarioStep, result *domain.StepResult) {
	state.mu.Lock()
	sessionID, ok := state.sessions[sessionLabel(step)]
	state.mu.Unlock()
	if !ok {
		result.Outcome = domain.StepDenied
		result.Reason = domain.ReasonSessionNotActive
		return
	}
	if err := o.engine.Close(ctx, sessionID); err != nil {
		result.Outcome = domain.StepFailed
		result.Reason = domain.ReasonForError(err)
		return
	}
	result.SessionID = sessionID
	result.Outcome = domain.StepAllowed
}

// computeVerdict scores a finished run: success if any adversarial
// step achieved an effect, partial if one only leaked scope, blocked
// otherwise.
func computeVerdict(results []domain.StepResult) domain.Verdict {
	leaked := false
	for _, r := range results {
		if !r.Adversarial {
			continue
		}
		if r.Action == domain.ActionToolCall && r.Outcome == domain.StepAllowed {
			return domain.VerdictSuccess
		}
		if r.ScopeLeaked {
			leaked = true
		}
	}
	if leaked {
		return domain.VerdictPartial
	}
	return domain.VerdictBlocked
}

func sessionLabel(step domain.ScenarioStep) string {
	if step.Session != "" {
		return step.Session
	}
	return "default"
}

func cardTamper(kind string) func(*domain.AgentCard) {
	switch kind {
	case "payload":
		// Flip the display name after signing so verification fails.
		return func(card *domain.AgentCard) {
			card.DisplayName = card.DisplayName + "*"
		}
	case "expired":
		return func(card *domain.AgentCard) {
			card.ExpiresAt = card.IssuedAt
		}
	default:
		return nil
	}
}

func paramString(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func paramBool(params map[string]any, key string) bool {
	b, _ := params[key].(bool)
	return b
}

func paramInt(params map[string]any, key string) int {
	v, ok := params[key]
	if !ok {
		return 0
	}
	return toInt(v)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func paramStrings(params map[string]any, key string) []string {
	switch list := params[key].(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func paramCapabilities(params map[string]any, key string) []domain.Capability {
	strs := paramStrings(params, key)
	out := make([]domain.Capability, 0, len(strs))
	for _, s := range strs {
		out = append(out, domain.Capability(s))
	}
	return out
}
