// Package memory keeps the snapshot in process memory for development and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// SnapshotStore holds deep copies of the last saved collection.
type SnapshotStore struct {
	mu      sync.RWMutex
	records []crawler.Record
	saves   int
	loadErr error
	saveErr error
}

// NewSnapshotStore creates a store seeded with records.
func NewSnapshotStore(seed ...crawler.Record) *SnapshotStore {
	return &SnapshotStore{records: cloneAll(seed)}
}

// FailLoad makes every Load return err.
func (s *SnapshotStore) FailLoad(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

// FailSave makes every Save return err.
func (s *SnapshotStore) FailSave(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// Load returns a copy of the stored collection.
func (s *SnapshotStore) Load(_ context.Context) ([]crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loadErr != nil {
		return nil, &crawler.PersistenceError{Op: "load", Backend: "memory", Err: s.loadErr}
	}
	return cloneAll(s.records), nil
}

// Save replaces the stored collection.
func (s *SnapshotStore) Save(_ context.Context, records []crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return &crawler.PersistenceError{Op: "save", Backend: "memory", Err: s.saveErr}
	}
	s.records = cloneAll(records)
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (s *SnapshotStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func cloneAll(in []crawler.Record) []crawler.Record {
	if in == nil {
		return nil
	}
	out := make([]crawler.Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
