// Package auditmem is the in-memory audit event store used by tests
// and by daemons running without a database.
package auditmem

import (
	"context"
	"sync"

	"chimera/internal/domain"
)

type Store struct {
	mu        sync.RWMutex
	bySession map[string][]domain.AuditEvent
	byRun     map[string][]domain.AuditEvent
}

func New() *Store {
	return &Store{
		bySession: make(map[string][]domain.AuditEvent),
		byRun:     make(map[string][]domain.AuditEvent),
	}
}

func (s *Store) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySession[event.SessionID] = append(s.bySession[event.SessionID], event)
	if event.RunID != "" {
		s.byRun[event.RunID] = append(s.byRun[event.RunID], event)
	}
	return event, nil
}

func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]domain.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AuditEvent(nil), s.bySession[sessionID]...), nil
}

func (s *Store) ListByRun(ctx context.Context, runID string) ([]domain.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AuditEvent(nil), s.byRun[runID]...), nil
}

func (s *Store) LastBySession(ctx context.Context, sessionID string) (*domain.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.bySession[sessionID]
	if len(events) == 0 {
		return nil, nil
	}
	last := events[len(events)-1]
	return &last, nil
}
