// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/warden/internal/triage"
)

// Store holds triage records in memory. Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	records  map[string]*triage.Record    // alert ID -> record
	seen     map[string]string            // dedup key -> alert ID
	feedback map[string][]triage.Feedback // alert ID -> corrections
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		records:  make(map[string]*triage.Record),
		seen:     make(map[string]string),
		feedback: make(map[string][]triage.Feedback),
	}
}

// Get retrieves a triage record by alert ID. Returns a copy.
func (s *Store) Get(_ context.Context, alertID string) (*triage.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[alertID]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// GetByDedupKey retrieves a record by its source dedup key. Returns a copy.
func (s *Store) GetByDedupKey(_ context.Context, key string) (*triage.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.seen[key]
	if !ok {
		return nil, false, nil
	}
	r := s.records[id]
	cp := *r
	return &cp, true, nil
}

// Put stores a copy of the triage record.
func (s *Store) Put(_ context.Context, r *triage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.records[r.AlertID] = &cp
	s.seen[r.DedupKey] = r.AlertID
	return nil
}

// AppendFeedback stores a copy of an analyst correction.
func (s *Store) AppendFeedback(_ context.Context, f *triage.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[f.AlertID] = append(s.feedback[f.AlertID], *f)
	return nil
}

// ListFeedback returns the corrections for an alert in append order.
func (s *Store) ListFeedback(_ context.Context, alertID string) ([]triage.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]triage.Feedback(nil), s.feedback[alertID]...), nil
}
