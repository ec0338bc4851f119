// Package audit provides the append-only, causally-ordered record of every
// triage decision and response action. Records are never updated or
// deleted; per-workflow sequence numbers are strictly increasing and each
// record links its causal predecessor, so the decision → dispatch →
// execution order of a single workflow can always be reconstructed.
// Ordering across different workflows is not guaranteed.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Result classifies the outcome recorded by an audit record.
const (
	ResultSuccess = "Success"
	ResultFailure = "Failure"
	ResultPending = "Pending"
)

// Record is one immutable audit entry.
type Record struct {
	Seq        uint64    `json:"seq"`
	WorkflowID string    `json:"workflow_id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Target     string    `json:"target,omitempty"`
	Result     string    `json:"result"`
	Timestamp  time.Time `json:"timestamp"`
	// CausalSeq references the preceding record in the same workflow;
	// zero means this is the workflow's first record.
	CausalSeq uint64 `json:"causal_seq,omitempty"`
}

// Store persists audit records. Implementations must be insert-only.
// LastSeq reports the highest persisted sequence for a workflow (zero when
// none), so the allocator survives process restarts.
type Store interface {
	Append(ctx context.Context, r *Record) error
	List(ctx context.Context, workflowID string) ([]Record, error)
	LastSeq(ctx context.Context, workflowID string) (uint64, error)
}

// Log allocates per-workflow sequence numbers and appends records. Safe
// for concurrent writers.
type Log struct {
	store  Store
	logger log.Logger

	mu   sync.Mutex
	next map[string]uint64 // workflow ID -> last allocated seq
}

// NewLog creates an audit log over the given store.
func NewLog(store Store, logger log.Logger) *Log {
	if logger == nil {
		logger = log.Nop()
	}
	return &Log{
		store:  store,
		logger: logger,
		next:   make(map[string]uint64),
	}
}

// Append allocates the next sequence for the workflow, links the causal
// predecessor, and persists the record.
func (l *Log) Append(ctx context.Context, workflowID, actor, action, target, result string) (*Record, error) {
	seq, prev, err := l.nextSeq(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("audit seq: %w", err)
	}

	r := &Record{
		Seq:        seq,
		WorkflowID: workflowID,
		Actor:      actor,
		Action:     action,
		Target:     target,
		Result:     result,
		Timestamp:  time.Now().UTC(),
		CausalSeq:  prev,
	}

	if err := l.store.Append(ctx, r); err != nil {
		return nil, fmt.Errorf("audit append: %w", err)
	}

	l.logger.Info(ctx, "audit record",
		"workflow_id", workflowID,
		"seq", seq,
		"actor", actor,
		"audit_action", action,
		"target", target,
		"result", result,
	)
	return r, nil
}

// nextSeq allocates the workflow's next sequence number. The first
// allocation for a workflow reads the store's high-water mark, so a
// restarted process continues the chain instead of colliding on seq 1.
// The store read happens at most once per workflow per process; holding
// mu across it keeps allocation strictly serial.
func (l *Log) nextSeq(ctx context.Context, workflowID string) (seq, prev uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, ok := l.next[workflowID]
	if !ok {
		prev, err = l.store.LastSeq(ctx, workflowID)
		if err != nil {
			return 0, 0, err
		}
	}
	seq = prev + 1
	l.next[workflowID] = seq
	return seq, prev, nil
}

// Trail returns all records for a workflow in sequence order.
func (l *Log) Trail(ctx context.Context, workflowID string) ([]Record, error) {
	return l.store.List(ctx, workflowID)
}
