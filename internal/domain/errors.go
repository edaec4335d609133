package domain

import "errors"

var (
	ErrSignatureInvalid   = errors.New("signature invalid")
	ErrCardExpired        = errors.New("card expired")
	ErrUnknownAgent       = errors.New("unknown agent")
	ErrChainDepthExceeded = errors.New("chain depth exceeded")
	ErrScopeViolation     = errors.New("scope violation")
	ErrCycleDetected      = errors.New("cycle detected")
	ErrRevokedLink        = errors.New("revoked link")
	ErrProtocolViolation  = errors.New("protocol violation")
	ErrSessionTimeout     = errors.New("session timeout")
	ErrUnknownSession     = errors.New("unknown session")
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
)

// RejectReason is the stable wire code recorded for a failed validation,
// handshake rejection, or denied tool call.
type RejectReason string

const (
	ReasonSignatureInvalid   RejectReason = "SIGNATURE_INVALID"
	ReasonCardExpired        RejectReason = "CARD_EXPIRED"
	ReasonUnknownAgent       RejectReason = "UNKNOWN_AGENT"
	ReasonChainDepthExceeded RejectReason = "CHAIN_DEPTH_EXCEEDED"
	ReasonScopeViolation     RejectReason = "SCOPE_VIOLATION"
	ReasonCycleDetected      RejectReason = "CYCLE_DETECTED"
	ReasonRevokedLink        RejectReason = "REVOKED_LINK"
	ReasonProtocolViolation  RejectReason = "PROTOCOL_VIOLATION"
	ReasonSessionTimeout     RejectReason = "SESSION_TIMEOUT"
	ReasonRestrictedTool     RejectReason = "RESTRICTED_TOOL"
	ReasonSessionNotActive   RejectReason = "SESSION_NOT_ACTIVE"
	ReasonNone               RejectReason = ""
)

// ReasonForError maps a sentinel error to its wire code. Unrecognized
// errors map to PROTOCOL_VIOLATION: an unexpected failure inside the
// handshake or gate is treated as a protocol-level rejection, never an
// allow.
func ReasonForError(err error) RejectReason {
	switch {
	case errors.Is(err, ErrSignatureInvalid):
		return ReasonSignatureInvalid
	case errors.Is(err, ErrCardExpired):
		return ReasonCardExpired
	case errors.Is(err, ErrUnknownAgent):
		return ReasonUnknownAgent
	case errors.Is(err, ErrChainDepthExceeded):
		return ReasonChainDepthExceeded
	case errors.Is(err, ErrScopeViolation):
		return ReasonScopeViolation
	case errors.Is(err, ErrCycleDetected):
		return ReasonCycleDetected
	case errors.Is(err, ErrRevokedLink):
		return ReasonRevokedLink
	case errors.Is(err, ErrSessionTimeout):
		return ReasonSessionTimeout
	case errors.Is(err, ErrProtocolViolation):
		return ReasonProtocolViolation
	default:
		return ReasonProtocolViolation
	}
}

// ErrorForReason is the inverse mapping, used when a reason code crosses
// a process boundary and needs to surface as a sentinel again.
func ErrorForReason(reason RejectReason) error {
	switch reason {
	case ReasonSignatureInvalid:
		return ErrSignatureInvalid
	case ReasonCardExpired:
		return ErrCardExpired
	case ReasonUnknownAgent:
		return ErrUnknownAgent
	case ReasonChainDepthExceeded:
		return ErrChainDepthExceeded
	case ReasonScopeViolation:
		return ErrScopeViolation
	case ReasonCycleDetected:
		return ErrCycleDetected
	case ReasonRevokedLink:
		return ErrRevokedLink
	case ReasonSessionTimeout:
		return ErrSessionTimeout
	case ReasonProtocolViolation:
		return ErrProtocolViolation
	case ReasonNone:
		return nil
	default:
		return ErrProtocolViolation
	}
}
