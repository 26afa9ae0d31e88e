package store

import (
	"context"
	"fmt"
	"sync"

	"docproof/internal/document/hashing"
	"docproof/internal/document/models"
	"docproof/pkg/platform/sentinel"
)

// InMemory keeps records in a mutex-guarded map. It can be switched off to mimic a
// storage medium that is absent or disabled.
type InMemory struct {
	mu        sync.RWMutex
	records   map[string]*models.Record
	available bool
}

// NewInMemory creates an empty, available store.
func NewInMemory() *InMemory {
	return &InMemory{
		records:   make(map[string]*models.Record),
		available: true,
	}
}

// SetAvailable toggles the simulated medium.
func (s *InMemory) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
}

func (s *InMemory) IsAvailable(_ context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// Get returns a copy of the record stored under key.
func (s *InMemory) Get(_ context.Context, key string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.available {
		return nil, errUnavailable("get")
	}
	rec, ok := s.records[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

// Put stores a copy of record under its normalized hash.
// If record is nil, the operation is a no-op and returns nil.
func (s *InMemory) Put(_ context.Context, record *models.Record) error {
	if record == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return errUnavailable("put")
	}
	s.records[hashing.Normalize(record.Hash)] = record.Clone()
	return nil
}

// Import stores a copy of record under key exactly as given.
func (s *InMemory) Import(_ context.Context, key string, record *models.Record) error {
	if record == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return errUnavailable("import")
	}
	s.records[key] = record.Clone()
	return nil
}

// ListAll returns copies of every entry in unspecified order.
func (s *InMemory) ListAll(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.available {
		return nil, errUnavailable("list")
	}
	out := make([]Entry, 0, len(s.records))
	for key, rec := range s.records {
		out = append(out, Entry{Key: key, Record: rec.Clone()})
	}
	return out, nil
}

func errUnavailable(op string) error {
	return fmt.Errorf("memory store %s: %w", op, sentinel.ErrUnavailable)
}
