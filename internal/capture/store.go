package capture

import (
	"slices"
	"sync"

	"decisionlog/internal/domain"
)

// DraftStore holds the in-flight candidate, the confirmed history and the
// loading and error status shared by every capture modality. It does not
// serialize callers; Flow refuses a second submit while loading is set.
type DraftStore struct {
	mu      sync.Mutex
	current *domain.Candidate
	history []domain.Record
	loading bool
	err     string
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	Current *domain.Candidate
	History []domain.Record
	Loading bool
	Error   string
}

func NewDraftStore() *DraftStore {
	return &DraftStore{}
}

// SetCurrent replaces the in-flight candidate and clears loading.
func (s *DraftStore) SetCurrent(c domain.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Owners = slices.Clone(c.Owners)
	s.current = &c
	s.loading = false
}

func (s *DraftStore) ClearCurrent() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// Current returns the in-flight candidate, if any.
func (s *DraftStore) Current() (domain.Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.Candidate{}, false
	}
	c := *s.current
	c.Owners = slices.Clone(c.Owners)
	return c, true
}

// AddRecord appends to history and clears the current candidate in one step.
func (s *DraftStore) AddRecord(r domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Owners = slices.Clone(r.Owners)
	s.history = append(s.history, r)
	s.current = nil
}

// ReplaceHistory swaps the history for records given in insertion order.
func (s *DraftStore) ReplaceHistory(records []domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = slices.Clone(records)
}

// History returns the records in insertion order.
func (s *DraftStore) History() []domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// NewestFirst returns the history for display.
func (s *DraftStore) NewestFirst() []domain.Record {
	out := s.History()
	slices.Reverse(out)
	return out
}

func (s *DraftStore) SetLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

func (s *DraftStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// SetError records a user-facing message. A failed operation is never left
// loading, so loading is cleared too.
func (s *DraftStore) SetError(msg string) {
	s.mu.Lock()
	s.err = msg
	s.loading = false
	s.mu.Unlock()
}

func (s *DraftStore) ClearError() {
	s.mu.Lock()
	s.err = ""
	s.mu.Unlock()
}

func (s *DraftStore) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *DraftStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		History: slices.Clone(s.history),
		Loading: s.loading,
		Error:   s.err,
	}
	if s.current != nil {
		c := *s.current
		c.Owners = slices.Clone(c.Owners)
		snap.Current = &c
	}
	return snap
}
