package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/natefinch/atomic"

	"decisionlog/internal/db"
	"decisionlog/internal/domain"
)

// FileStore keeps history as a JSON array in a single file. Every append
// rewrites the file atomically so readers never see a torn document.
type FileStore struct {
	path string

	mu      sync.RWMutex
	records []domain.Record
}

// NewFileStore loads path if it exists.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path is required")
	}
	if err := db.EnsureDir(path); err != nil {
		return nil, err
	}
	s := &FileStore{path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &s.records); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *FileStore) Append(_ context.Context, r domain.Record) error {
	if err := check(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.ID == r.ID {
			return ErrDuplicate
		}
	}
	next := append(s.records[:len(s.records):len(s.records)], cloneRecord(r))
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.records = next
	return nil
}

func (s *FileStore) List(_ context.Context) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Record, len(s.records))
	for i, r := range s.records {
		out[i] = cloneRecord(r)
	}
	return out, nil
}

func (s *FileStore) Close() error { return nil }
