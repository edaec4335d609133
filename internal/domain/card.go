package domain

import "time"

type CardStatus string

const (
	CardStatusActive  CardStatus = "active"
	CardStatusRevoked CardStatus = "revoked"
)

// Capability names one tool-level permission an agent may hold, e.g.
// "read", "write", "comms.send".
type Capability string

// Scope is a set of capabilities. The zero value is the empty scope.
type Scope map[Capability]struct{}

func NewScope(caps ...Capability) Scope {
	s := make(Scope, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

func (s Scope) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// SubsetOf reports whether every capability in s is also in other.
// The empty scope is a subset of everything.
func (s Scope) SubsetOf(other Scope) bool {
	for c := range s {
		if !other.Has(c) {
			return false
		}
	}
	return true
}

// Intersect returns the capabilities present in both scopes.
func (s Scope) Intersect(other Scope) Scope {
	out := make(Scope)
	for c := range s {
		if other.Has(c) {
			out[c] = struct{}{}
		}
	}
	return out
}

func (s Scope) Clone() Scope {
	out := make(Scope, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Sorted returns the capabilities in lexical order, the canonical form
// used for signing and hashing.
func (s Scope) Sorted() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// AgentCard is a signed identity document binding an agent id to a
// public key and a declared capability set. The signature covers the
// canonical payload (everything except Signature itself) and must
// verify against the issuer's registered public key.
type AgentCard struct {
	AgentID      string       `json:"agent_id"`
	DisplayName  string       `json:"display_name,omitempty"`
	PublicKey    []byte       `json:"public_key"`
	Capabilities []Capability `json:"capabilities"`
	IssuerID     string       `json:"issuer_id"`
	IssuedAt     time.Time    `json:"issued_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
	Version      int          `json:"version"`
	Guest        bool         `json:"guest,omitempty"`
	Signature    Signature    `json:"signature"`
}

func (c AgentCard) CapabilityScope() Scope {
	return NewScope(c.Capabilities...)
}

// Expired reports whether the card is outside its validity window or
// the window itself is inconsistent (expiry not strictly after issue).
func (c AgentCard) Expired(now time.Time) bool {
	if !c.ExpiresAt.After(c.IssuedAt) {
		return true
	}
	return now.Before(c.IssuedAt) || !now.Before(c.ExpiresAt)
}

type Signature struct {
	Alg   string `json:"alg"`
	KeyID string `json:"key_id,omitempty"`
	Value string `json:"value"` // base64
}
