package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/aretw0/jobctl/pkg/domain"
)

// Store implements ports.RunStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.RunRecord
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.RunRecord),
	}
}

// Save persists the run in memory.
func (s *Store) Save(ctx context.Context, run *domain.RunRecord) error {
	copied := clone(run)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[run.ID] = copied
	return nil
}

// Load retrieves the run from memory.
func (s *Store) Load(ctx context.Context, runID string) (*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.data[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	// Copy on read so callers can't mutate the stored record.
	return clone(run), nil
}

// Delete removes the run.
func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, runID)
	return nil
}

// List returns run IDs, most recently started first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	runs := make([]*domain.RunRecord, 0, len(s.data))
	for _, r := range s.data {
		runs = append(runs, r)
	}
	s.mu.RUnlock()

	slices.SortFunc(runs, func(a, b *domain.RunRecord) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids, nil
}

func clone(run *domain.RunRecord) *domain.RunRecord {
	c := *run
	if run.EndedAt != nil {
		ended := *run.EndedAt
		c.EndedAt = &ended
	}
	return &c
}
