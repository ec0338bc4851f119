// Package approval implements the human approval gateway for high-risk
// response actions. Requests are Pending until a human resolves them or
// the timeout expires; expiry resolves as Rejected (fail closed). There
// is no bypass path: every dispatch of a gated action goes through
// Require.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/audit"
	"github.com/linnemanlabs/warden/internal/orchestrator"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/score"
)

var (
	// ErrUnknownRequest is returned for request IDs the gateway has
	// never issued.
	ErrUnknownRequest = errors.New("unknown approval request")

	// ErrAlreadyResolved is returned when resolving a request that is
	// already in a terminal status. Terminal statuses are final.
	ErrAlreadyResolved = errors.New("approval already resolved")

	// ErrInvalidOutcome is returned for resolution outcomes other than
	// Approved or Rejected.
	ErrInvalidOutcome = errors.New("invalid approval outcome")
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
	StatusExpired  Status = "Expired"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool { return s != StatusPending }

// Request is one pending or resolved approval.
type Request struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflow_id"`
	AlertID    string     `json:"alert_id"`
	Action     string     `json:"action"`
	Target     string     `json:"target"`
	Tier       score.Tier `json:"tier"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ResolvedAt time.Time  `json:"resolved_at,omitempty"`
	Resolver   string     `json:"resolver,omitempty"`
	Comment    string     `json:"comment,omitempty"`
}

func (r *Request) clone() *Request {
	cp := *r
	return &cp
}

// Gateway owns approval request state and the expiry sweep.
type Gateway struct {
	pol     *policy.Policy
	bus     orchestrator.Bus
	auditor *audit.Log
	logger  log.Logger
	metrics *Metrics

	mu       sync.Mutex
	requests map[string]*Request
}

// NewGateway creates an approval gateway.
func NewGateway(pol *policy.Policy, bus orchestrator.Bus, auditor *audit.Log, logger log.Logger, m *Metrics) *Gateway {
	if logger == nil {
		logger = log.Nop()
	}
	return &Gateway{
		pol:      pol,
		bus:      bus,
		auditor:  auditor,
		logger:   logger,
		metrics:  m,
		requests: make(map[string]*Request),
	}
}

// Required reports whether the action needs human approval: configured
// high-risk actions and anything at Critical priority.
func (g *Gateway) Required(actionType string, tier score.Tier) bool {
	return g.pol.IsHighRisk(actionType) || tier == score.TierCritical
}

// Require creates a Pending request for the action. The caller parks the
// workflow until the request resolves.
func (g *Gateway) Require(ctx context.Context, workflowID, alertID, actionType, target string, tier score.Tier) (*Request, error) {
	now := time.Now().UTC()
	r := &Request{
		ID:         ulid.Make().String(),
		WorkflowID: workflowID,
		AlertID:    alertID,
		Action:     actionType,
		Target:     target,
		Tier:       tier,
		Status:     StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(g.pol.Approval.Timeout),
	}

	g.mu.Lock()
	g.requests[r.ID] = r
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.Pending.Inc()
	}
	g.audit(ctx, workflowID, "ApprovalRequested", actionType+" "+target, audit.ResultPending)
	g.logger.Info(ctx, "approval required",
		"request_id", r.ID,
		"workflow_id", workflowID,
		"approval_action", actionType,
		"target", target,
		"tier", tier,
		"expires_at", r.ExpiresAt,
	)
	return r.clone(), nil
}

// Resolve transitions a Pending request to Approved or Rejected exactly
// once and publishes ApprovalResolved.
func (g *Gateway) Resolve(ctx context.Context, id string, outcome Status, resolver, comment string) (*Request, error) {
	if outcome != StatusApproved && outcome != StatusRejected {
		return nil, fmt.Errorf("outcome %q: %w", outcome, ErrInvalidOutcome)
	}

	g.mu.Lock()
	r, ok := g.requests[id]
	if !ok {
		g.mu.Unlock()
		return nil, ErrUnknownRequest
	}
	if r.Status.Terminal() {
		g.mu.Unlock()
		return nil, fmt.Errorf("request %s is %s: %w", id, r.Status, ErrAlreadyResolved)
	}
	r.Status = outcome
	r.ResolvedAt = time.Now().UTC()
	r.Resolver = resolver
	r.Comment = comment
	cp := r.clone()
	g.mu.Unlock()

	g.finish(ctx, cp)
	return cp, nil
}

// Get returns a copy of a request.
func (g *Gateway) Get(id string) (*Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.requests[id]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

// Pending lists unresolved requests, oldest first.
func (g *Gateway) Pending() []*Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*Request
	for _, r := range g.requests {
		if r.Status == StatusPending {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Run expires overdue requests until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context, sweepEvery time.Duration) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.sweep(ctx, now)
		}
	}
}

// sweep resolves Pending requests past their deadline as Expired.
// Expiry is a rejection: the gated action never executes.
func (g *Gateway) sweep(ctx context.Context, now time.Time) {
	g.mu.Lock()
	var expired []*Request
	for _, r := range g.requests {
		if r.Status == StatusPending && now.After(r.ExpiresAt) {
			r.Status = StatusExpired
			r.ResolvedAt = now.UTC()
			expired = append(expired, r.clone())
		}
	}
	g.mu.Unlock()

	for _, r := range expired {
		g.logger.Warn(ctx, "approval expired, failing closed",
			"request_id", r.ID,
			"workflow_id", r.WorkflowID,
			"approval_action", r.Action,
		)
		g.finish(ctx, r)
	}
}

// finish publishes the terminal outcome and records metrics and audit.
func (g *Gateway) finish(ctx context.Context, r *Request) {
	if g.metrics != nil {
		g.metrics.Pending.Dec()
		g.metrics.ResolutionsTotal.WithLabelValues(string(r.Status)).Inc()
		g.metrics.ResolutionTime.Observe(r.ResolvedAt.Sub(r.CreatedAt).Seconds())
	}

	result := audit.ResultSuccess
	if r.Status != StatusApproved {
		result = audit.ResultFailure
	}
	g.audit(ctx, r.WorkflowID, "Approval"+string(r.Status), r.Action+" "+r.Target, result)

	ev, err := orchestrator.NewEvent(orchestrator.KindApprovalResolved, r.WorkflowID, orchestrator.ApprovalResolvedPayload{
		RequestID: r.ID,
		Outcome:   string(r.Status),
		Resolver:  r.Resolver,
		Comment:   r.Comment,
	})
	if err == nil {
		err = g.bus.Publish(ctx, ev)
	}
	if err != nil {
		g.logger.Error(ctx, err, "publish approval.resolved", "request_id", r.ID)
		return
	}

	g.logger.Info(ctx, "approval resolved",
		"request_id", r.ID,
		"workflow_id", r.WorkflowID,
		"outcome", r.Status,
		"resolver", r.Resolver,
	)
}

func (g *Gateway) audit(ctx context.Context, workflowID, action, target, result string) {
	if g.auditor == nil {
		return
	}
	if _, err := g.auditor.Append(ctx, workflowID, "approval-gateway", action, target, result); err != nil {
		g.logger.Error(ctx, err, "audit append failed", "workflow_id", workflowID)
	}
}
