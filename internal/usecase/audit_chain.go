package usecase

import (
	"context"
	"errors"
	"fmt"

	"chimera/internal/domain"
)

// VerifySessionAuditChain replays a session's audit events and checks
// the sequence numbers, payload hashes, and hash chain. Any tampering,
// gap, or reorder fails with a positional error.
func VerifySessionAuditChain(ctx context.Context, repo AuditEventRepository, sessionID string) error {
	if repo == nil {
		return errors.New("audit repository required")
	}
	if sessionID == "" {
		sessionID = domain.AuditScopeSystem
	}
	events, err := repo.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	expectedSeq := int64(1)
	prevHash := zeroEventHash()
	for _, event := range events {
		if event.SessionID != sessionID {
			return fmt.Errorf("audit chain session mismatch at seq %d", event.Seq)
		}
		if event.Seq != expectedSeq {
			return fmt.Errorf("audit chain seq mismatch: expected %d got %d", expectedSeq, event.Seq)
		}
		if event.PrevEventHash != prevHash {
			return fmt.Errorf("audit chain prev hash mismatch at seq %d", event.Seq)
		}
		if sha256Hex(event.Payload) != event.PayloadHash {
			return fmt.Errorf("audit chain payload hash mismatch at seq %d", event.Seq)
		}
		if event.CreatedAt.IsZero() {
			return fmt.Errorf("audit chain missing created_at at seq %d", event.Seq)
		}
		expectedHash, err := ComputeEventHash(event)
		if err != nil {
			return fmt.Errorf("audit chain hash compute failed at seq %d: %w", event.Seq, err)
		}
		if expectedHash != event.EventHash {
			return fmt.Errorf("audit chain hash mismatch at seq %d", event.Seq)
		}
		prevHash = event.EventHash
		expectedSeq++
	}
	return nil
}
