// Package action defines the response action executor boundary. Actions
// are dispatched by the response stage and must be idempotent per
// (workflow, action, target): the coordinator redelivers under
// at-least-once semantics and retries on failure.
package action

import (
	"context"
	"sync"
)

// Result statuses.
const (
	StatusSucceeded = "Succeeded"
	StatusFailed    = "Failed"
)

// Result is the outcome of one action execution.
type Result struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Executor performs a response action against a target.
type Executor interface {
	Execute(ctx context.Context, workflowID, actionType, target string) (*Result, error)
}

// Noop succeeds without doing anything. Used in dev and tests.
type Noop struct{}

// Execute implements Executor.
func (Noop) Execute(_ context.Context, _, actionType, target string) (*Result, error) {
	return &Result{Status: StatusSucceeded, Detail: "noop: " + actionType + " " + target}, nil
}

// Idempotent caches outcomes per (workflow, action, target) so a
// redelivered dispatch returns the recorded result instead of executing
// twice. Only successful outcomes are cached; failures stay retryable.
type Idempotent struct {
	inner Executor

	mu   sync.Mutex
	done map[string]*Result
}

// NewIdempotent wraps an executor.
func NewIdempotent(inner Executor) *Idempotent {
	return &Idempotent{inner: inner, done: make(map[string]*Result)}
}

// Execute runs the action at most once per key.
func (e *Idempotent) Execute(ctx context.Context, workflowID, actionType, target string) (*Result, error) {
	key := workflowID + "/" + actionType + "/" + target

	e.mu.Lock()
	if r, ok := e.done[key]; ok {
		e.mu.Unlock()
		cp := *r
		return &cp, nil
	}
	e.mu.Unlock()

	r, err := e.inner.Execute(ctx, workflowID, actionType, target)
	if err != nil {
		return nil, err
	}

	if r.Status == StatusSucceeded {
		e.mu.Lock()
		e.done[key] = r
		e.mu.Unlock()
	}
	cp := *r
	return &cp, nil
}
