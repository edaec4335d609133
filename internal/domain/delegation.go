package domain

import "time"

// DelegationRecord is one signed grant hop. Records are addressed by
// RecordID and reference their parent by id, never by pointer, so a
// chain is always an explicit slice walked root to leaf.
type DelegationRecord struct {
	RecordID    string       `json:"record_id"`
	DelegatorID string       `json:"delegator_id"`
	DelegateID  string       `json:"delegate_id"`
	Scope       []Capability `json:"scope"`
	Depth       int          `json:"depth"`
	ParentID    string       `json:"parent_id,omitempty"` // absent for root grants
	IssuedAt    time.Time    `json:"issued_at"`
	Revoked     bool         `json:"revoked,omitempty"`
	Signature   Signature    `json:"signature"`
}

func (r DelegationRecord) GrantedScope() Scope {
	return NewScope(r.Scope...)
}

// DelegationChain is the ordered root-to-leaf sequence presented during
// a handshake. It is derived input, never persisted as a unit.
type DelegationChain []DelegationRecord

func (ch DelegationChain) Leaf() *DelegationRecord {
	if len(ch) == 0 {
		return nil
	}
	return &ch[len(ch)-1]
}

// ChainVerdict is the outcome of validating a chain: either Valid with
// the effective (leaf) scope, or a single reject reason.
type ChainVerdict struct {
	Valid          bool
	EffectiveScope Scope
	Reason         RejectReason
}

func ValidChain(scope Scope) ChainVerdict {
	return ChainVerdict{Valid: true, EffectiveScope: scope}
}

func RejectChain(reason RejectReason) ChainVerdict {
	return ChainVerdict{Reason: reason}
}
