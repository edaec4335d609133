package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"chimera/internal/domain"
)

const SignatureAlg = "ed25519"

// Service signs and verifies the three signed payload kinds of the
// engine: agent cards, delegation records, and challenge responses.
// Every payload is canonicalized before hashing or signing so that
// verification is byte-for-byte reproducible.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) CanonicalizeCard(card domain.AgentCard) ([]byte, error) {
	return CanonicalizeAny(buildCardPayload(card))
}

func (s *Service) CanonicalizeRecord(rec domain.DelegationRecord) ([]byte, error) {
	return CanonicalizeAny(buildRecordPayload(rec))
}

// CanonicalizeChallenge builds the payload a responder signs: the
// session id bound to the challenge nonce, so a response cannot be
// replayed into another session.
func (s *Service) CanonicalizeChallenge(sessionID string, nonce []byte) ([]byte, error) {
	return CanonicalizeAny(challengePayload{
		SessionID: sessionID,
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
	})
}

// HashParams returns the hex sha256 of the canonical form of a tool
// call's parameters, the cache/idempotency key component.
func (s *Service) HashParams(params map[string]any) (string, error) {
	canonical, err := CanonicalizeAny(normalizeParams(params))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Service) SignCard(card domain.AgentCard, key ed25519.PrivateKey) (domain.Signature, error) {
	canonical, err := s.CanonicalizeCard(card)
	if err != nil {
		return domain.Signature{}, err
	}
	return sign(canonical, key)
}

func (s *Service) SignRecord(rec domain.DelegationRecord, key ed25519.PrivateKey) (domain.Signature, error) {
	canonical, err := s.CanonicalizeRecord(rec)
	if err != nil {
		return domain.Signature{}, err
	}
	return sign(canonical, key)
}

func (s *Service) SignChallenge(sessionID string, nonce []byte, key ed25519.PrivateKey) (domain.Signature, error) {
	canonical, err := s.CanonicalizeChallenge(sessionID, nonce)
	if err != nil {
		return domain.Signature{}, err
	}
	return sign(canonical, key)
}

func (s *Service) VerifyCard(card domain.AgentCard, issuerKey []byte) error {
	canonical, err := s.CanonicalizeCard(card)
	if err != nil {
		return err
	}
	return verify(canonical, card.Signature, issuerKey)
}

func (s *Service) VerifyRecord(rec domain.DelegationRecord, delegatorKey []byte) error {
	canonical, err := s.CanonicalizeRecord(rec)
	if err != nil {
		return err
	}
	return verify(canonical, rec.Signature, delegatorKey)
}

func (s *Service) VerifyChallenge(sessionID string, nonce []byte, sig domain.Signature, responderKey []byte) error {
	canonical, err := s.CanonicalizeChallenge(sessionID, nonce)
	if err != nil {
		return err
	}
	return verify(canonical, sig, responderKey)
}

func sign(canonical []byte, key ed25519.PrivateKey) (domain.Signature, error) {
	if len(key) != ed25519.PrivateKeySize {
		return domain.Signature{}, fmt.Errorf("invalid ed25519 private key length: %d", len(key))
	}
	raw := ed25519.Sign(key, canonical)
	return domain.Signature{
		Alg:   SignatureAlg,
		Value: base64.StdEncoding.EncodeToString(raw),
	}, nil
}

func verify(canonical []byte, sig domain.Signature, pubKey []byte) error {
	if sig.Alg != "" && sig.Alg != SignatureAlg {
		return fmt.Errorf("%w: unsupported signature algorithm %s", domain.ErrSignatureInvalid, sig.Alg)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: invalid ed25519 public key length %d", domain.ErrSignatureInvalid, len(pubKey))
	}
	if sig.Value == "" {
		return fmt.Errorf("%w: signature value is required", domain.ErrSignatureInvalid)
	}
	sigBytes, err := base64.StdEncoding.DecodeString(sig.Value)
	if err != nil {
		return fmt.Errorf("%w: invalid signature encoding", domain.ErrSignatureInvalid)
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return fmt.Errorf("%w: invalid ed25519 signature length %d", domain.ErrSignatureInvalid, len(sigBytes))
	}
	if !ed25519.Verify(pubKey, canonical, sigBytes) {
		return domain.ErrSignatureInvalid
	}
	return nil
}

// Canonical payload structs pin the field set and ordering key names of
// each signed document. The Signature field is always excluded.

type cardPayload struct {
	AgentID      string   `json:"agent_id"`
	DisplayName  string   `json:"display_name,omitempty"`
	PublicKey    string   `json:"public_key"`
	Capabilities []string `json:"capabilities"`
	IssuerID     string   `json:"issuer_id"`
	IssuedAt     string   `json:"issued_at"`
	ExpiresAt    string   `json:"expires_at"`
	Version      int      `json:"version"`
	Guest        bool     `json:"guest,omitempty"`
}

type recordPayload struct {
	RecordID    string   `json:"record_id"`
	DelegatorID string   `json:"delegator_id"`
	DelegateID  string   `json:"delegate_id"`
	Scope       []string `json:"scope"`
	Depth       int      `json:"depth"`
	ParentID    string   `json:"parent_id,omitempty"`
	IssuedAt    string   `json:"issued_at"`
}

type challengePayload struct {
	SessionID string `json:"session_id"`
	Nonce     string `json:"nonce"`
}

func buildCardPayload(card domain.AgentCard) cardPayload {
	return cardPayload{
		AgentID:      card.AgentID,
		DisplayName:  card.DisplayName,
		PublicKey:    base64.StdEncoding.EncodeToString(card.PublicKey),
		Capabilities: sortedCapabilityStrings(card.Capabilities),
		IssuerID:     card.IssuerID,
		IssuedAt:     canonicalTime(card.IssuedAt),
		ExpiresAt:    canonicalTime(card.ExpiresAt),
		Version:      card.Version,
		Guest:        card.Guest,
	}
}

func buildRecordPayload(rec domain.DelegationRecord) recordPayload {
	return recordPayload{
		RecordID:    rec.RecordID,
		DelegatorID: rec.DelegatorID,
		DelegateID:  rec.DelegateID,
		Scope:       sortedCapabilityStrings(rec.Scope),
		Depth:       rec.Depth,
		ParentID:    rec.ParentID,
		IssuedAt:    canonicalTime(rec.IssuedAt),
	}
}

func sortedCapabilityStrings(caps []domain.Capability) []string {
	scope := domain.NewScope(caps...)
	out := make([]string, 0, len(scope))
	for _, c := range scope.Sorted() {
		out = append(out, string(c))
	}
	return out
}

// canonicalTime pins the timestamp encoding to RFC 3339 UTC with
// second precision; anything finer is not portable across stores.
func canonicalTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func normalizeParams(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return params
}

// GenerateKeypair returns a fresh ed25519 keypair for scenario agents
// and tests.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, errors.New("keypair generation failed")
	}
	return pub, priv, nil
}
