package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chimera/internal/domain"
	"chimera/internal/usecase"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type initiateRequest struct {
	InitiatorCard domain.AgentCard       `json:"initiator_card"`
	ResponderID   string                 `json:"responder_id"`
	Chain         domain.DelegationChain `json:"chain,omitempty"`
}

type sessionResponse struct {
	SessionID       string   `json:"session_id"`
	State           string   `json:"state"`
	Reason          string   `json:"reason,omitempty"`
	Challenge       []byte   `json:"challenge,omitempty"`
	NegotiatedScope []string `json:"negotiated_scope,omitempty"`
}

type respondRequest struct {
	SignedChallenge domain.Signature `json:"signed_challenge"`
}

type authorizeRequest struct {
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name"`
	Params    map[string]any `json:"params,omitempty"`
}

func (s *Server) handlePutCard(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var card domain.AgentCard
	if err := c.ShouldBindJSON(&card); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if err := s.registry.PutCard(c.Request.Context(), card); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": card.AgentID, "version": card.Version})
}

func (s *Server) handleGetCard(c *gin.Context) {
	card, err := s.registry.GetCard(c.Param("agent_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (s *Server) handleRevokeCard(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if err := s.registry.Revoke(c.Request.Context(), c.Param("agent_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

func (s *Server) handlePutDelegation(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var rec domain.DelegationRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if err := s.registry.PutDelegation(c.Request.Context(), rec); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record_id": rec.RecordID})
}

func (s *Server) handleRevokeDelegation(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if err := s.registry.RevokeDelegation(c.Request.Context(), c.Param("record_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

func (s *Server) handleInitiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	sess, err := s.engine.Initiate(c.Request.Context(), req.InitiatorCard, req.ResponderID, req.Chain)
	if err != nil && sess.ID == "" {
		writeError(c, err)
		return
	}
	// A rejected handshake is a normal outcome; the session response
	// carries the reason.
	c.JSON(http.StatusOK, buildSessionResponse(sess, true))
}

func (s *Server) handleRespond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	sess, err := s.engine.Respond(c.Request.Context(), c.Param("session_id"), req.SignedChallenge)
	if err != nil && sess.ID == "" {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildSessionResponse(sess, false))
}

func (s *Server) handleCloseSession(c *gin.Context) {
	if err := s.engine.Close(c.Request.Context(), c.Param("session_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.engine.Session(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildSessionResponse(sess, false))
}

func (s *Server) handleAuthorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	decision, err := s.gate.Authorize(c.Request.Context(), req.SessionID, req.ToolName, req.Params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (s *Server) handleRunScenario(c *gin.Context) {
	var scenario domain.Scenario
	if err := c.ShouldBindJSON(&scenario); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	run, err := s.orchestrator.Run(c.Request.Context(), scenario)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.runs.GetByID(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleAuditBySession(c *gin.Context) {
	events, err := s.audit.ListBySession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": buildAuditResponse(events)})
}

func (s *Server) handleAuditByRun(c *gin.Context) {
	events, err := s.audit.ListByRun(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": buildAuditResponse(events)})
}

func buildSessionResponse(sess domain.Session, withChallenge bool) sessionResponse {
	out := sessionResponse{
		SessionID: sess.ID,
		State:     string(sess.State),
		Reason:    string(sess.RejectReason),
	}
	if withChallenge && sess.State == domain.SessionChallengeSent {
		out.Challenge = sess.ChallengeNonce
	}
	if sess.State == domain.SessionEstablished {
		for _, cap := range sess.NegotiatedScope.Sorted() {
			out.NegotiatedScope = append(out.NegotiatedScope, string(cap))
		}
	}
	return out
}

type auditEventResponse struct {
	SessionID     string `json:"session_id"`
	RunID         string `json:"run_id,omitempty"`
	Seq           int64  `json:"seq"`
	EventType     string `json:"event_type"`
	Payload       string `json:"payload"`
	PayloadHash   string `json:"payload_hash"`
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
	CreatedAt     string `json:"created_at"`
}

func buildAuditResponse(events []domain.AuditEvent) []auditEventResponse {
	out := make([]auditEventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, auditEventResponse{
			SessionID:     event.SessionID,
			RunID:         event.RunID,
			Seq:           event.Seq,
			EventType:     string(event.EventType),
			Payload:       string(event.Payload),
			PayloadHash:   event.PayloadHash,
			PrevEventHash: event.PrevEventHash,
			EventHash:     event.EventHash,
			CreatedAt:     event.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		})
	}
	return out
}

func (s *Server) handleVerifyAuditChain(c *gin.Context) {
	if err := usecase.VerifySessionAuditChain(c.Request.Context(), s.audit, c.Param("session_id")); err != nil {
		c.JSON(http.StatusOK, gin.H{"intact": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"intact": true})
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrSignatureInvalid):
		status, code = http.StatusBadRequest, "SIGNATURE_INVALID"
	case errors.Is(err, domain.ErrCardExpired):
		status, code = http.StatusBadRequest, "CARD_EXPIRED"
	case errors.Is(err, domain.ErrUnknownAgent):
		status, code = http.StatusNotFound, "UNKNOWN_AGENT"
	case errors.Is(err, domain.ErrChainDepthExceeded):
		status, code = http.StatusBadRequest, "CHAIN_DEPTH_EXCEEDED"
	case errors.Is(err, domain.ErrScopeViolation):
		status, code = http.StatusBadRequest, "SCOPE_VIOLATION"
	case errors.Is(err, domain.ErrCycleDetected):
		status, code = http.StatusBadRequest, "CYCLE_DETECTED"
	case errors.Is(err, domain.ErrRevokedLink):
		status, code = http.StatusBadRequest, "REVOKED_LINK"
	case errors.Is(err, domain.ErrProtocolViolation):
		status, code = http.StatusBadRequest, "PROTOCOL_VIOLATION"
	case errors.Is(err, domain.ErrSessionTimeout):
		status, code = http.StatusBadRequest, "SESSION_TIMEOUT"
	case errors.Is(err, domain.ErrUnknownSession):
		status, code = http.StatusNotFound, "UNKNOWN_SESSION"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
