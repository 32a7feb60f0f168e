package repo

import (
	"context"
	"sync"

	"decisionlog/internal/domain"
)

// MemoryStore keeps history in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []domain.Record
	ids     map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: map[string]struct{}{}}
}

func (s *MemoryStore) Append(_ context.Context, r domain.Record) error {
	if err := check(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[r.ID]; ok {
		return ErrDuplicate
	}
	s.ids[r.ID] = struct{}{}
	s.records = append(s.records, cloneRecord(r))
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Record, len(s.records))
	for i, r := range s.records {
		out[i] = cloneRecord(r)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
