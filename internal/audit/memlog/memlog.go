// Package memlog provides an in-memory implementation of audit.Store.
package memlog

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/warden/internal/audit"
)

// Store holds audit records in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	records map[string][]audit.Record // workflow ID -> records
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{records: make(map[string][]audit.Record)}
}

// Append stores a copy of the record.
func (s *Store) Append(_ context.Context, r *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.WorkflowID] = append(s.records[r.WorkflowID], *r)
	return nil
}

// List returns the workflow's records in sequence order.
func (s *Store) List(_ context.Context, workflowID string) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]audit.Record(nil), s.records[workflowID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// LastSeq returns the highest sequence number stored for the workflow.
func (s *Store) LastSeq(_ context.Context, workflowID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max uint64
	for _, r := range s.records[workflowID] {
		if r.Seq > max {
			max = r.Seq
		}
	}
	return max, nil
}
