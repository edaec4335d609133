// Package runsmem keeps finished scenario runs in memory for the
// no-database mode.
package runsmem

import (
	"context"
	"sync"

	"chimera/internal/domain"
)

type Store struct {
	mu   sync.RWMutex
	runs map[string]domain.ScenarioRun
}

func New() *Store {
	return &Store{runs: make(map[string]domain.ScenarioRun)}
}

func (s *Store) Save(ctx context.Context, run domain.ScenarioRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = run
	return nil
}

func (s *Store) GetByID(ctx context.Context, runID string) (*domain.ScenarioRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &run, nil
}
