package domain

import "time"

type SessionState string

const (
	SessionInit              SessionState = "INIT"
	SessionCardExchanged     SessionState = "CARD_EXCHANGED"
	SessionChallengeSent     SessionState = "CHALLENGE_SENT"
	SessionChallengeVerified SessionState = "CHALLENGE_VERIFIED"
	SessionChainValidated    SessionState = "CHAIN_VALIDATED"
	SessionEstablished       SessionState = "ESTABLISHED"
	SessionClosed            SessionState = "CLOSED"
	SessionRejected          SessionState = "REJECTED"
)

// Terminal reports whether the state machine can advance no further.
func (s SessionState) Terminal() bool {
	return s == SessionClosed || s == SessionRejected
}

// Session is the handshake engine's per-conversation record. It is
// owned exclusively by the engine; callers only ever see copies.
type Session struct {
	ID              string
	InitiatorID     string
	ResponderID     string
	InitiatorCard   AgentCard
	ResponderCard   AgentCard
	Chain           DelegationChain
	NegotiatedScope Scope
	State           SessionState
	RejectReason    RejectReason
	ChallengeNonce  []byte
	ResponseNonce   []byte
	SnapshotVersion int64
	CreatedAt       time.Time
	EstablishedAt   time.Time
	Deadline        time.Time
}

// GuestBound reports whether either side of the session presented a
// guest card; restricted tools are always denied to such sessions.
func (s Session) GuestBound() bool {
	return s.InitiatorCard.Guest || s.ResponderCard.Guest
}
