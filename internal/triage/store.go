package triage

import "context"

// Store is the persistence interface for triage records and feedback.
type Store interface {
	Get(ctx context.Context, alertID string) (*Record, bool, error)
	GetByDedupKey(ctx context.Context, key string) (*Record, bool, error)
	Put(ctx context.Context, r *Record) error
	AppendFeedback(ctx context.Context, f *Feedback) error
	ListFeedback(ctx context.Context, alertID string) ([]Feedback, error)
}
