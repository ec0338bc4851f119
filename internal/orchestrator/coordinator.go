// Package orchestrator coordinates the multi-stage response pipeline
// that runs after triage: stage handlers registered by name, at-least-once
// event delivery with idempotent redelivery handling, bounded retries,
// approval parking, and a stall watchdog. The coordinator is the only
// owner of workflow state; external readers get copies.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/audit"
)

var (
	// ErrAwaitingApproval is returned by a stage handler whose action is
	// gated on human approval. The coordinator parks the workflow and
	// resumes it when the approval resolves.
	ErrAwaitingApproval = errors.New("awaiting approval")

	// ErrTooLateToCancel is returned when cancellation is requested after
	// the workflow dispatched an irreversible action or reached a
	// terminal status.
	ErrTooLateToCancel = errors.New("too late to cancel")

	// ErrUnknownWorkflow is returned for operations on workflow IDs the
	// coordinator has never seen or has already dropped.
	ErrUnknownWorkflow = errors.New("unknown workflow")
)

// Permanent marks a stage error as non-retryable. The coordinator applies
// retry policy uniformly; only the stage decides retryability.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Status is the lifecycle state of a workflow.
type Status string

const (
	StatusRunning          Status = "Running"
	StatusAwaitingApproval Status = "AwaitingApproval"
	StatusCompleted        Status = "Completed"
	StatusFailed           Status = "Failed"
	StatusStalled          Status = "Stalled"
	StatusCancelled        Status = "Cancelled"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStalled, StatusCancelled:
		return true
	}
	return false
}

// Workflow is the coordinator's per-alert execution context.
type Workflow struct {
	ID           string            `json:"id"`
	AlertID      string            `json:"alert_id"`
	Stage        string            `json:"stage,omitempty"`
	Status       Status            `json:"status"`
	Findings     map[string]string `json:"findings,omitempty"`
	Escalated    bool              `json:"escalated"`
	Dispatched   bool              `json:"dispatched"`
	StartedAt    time.Time         `json:"started_at"`
	LastProgress time.Time         `json:"last_progress"`

	parkedStage int
	task        *Task
}

func (w *Workflow) snapshot() *Workflow {
	cp := *w
	cp.Findings = make(map[string]string, len(w.Findings))
	for k, v := range w.Findings {
		cp.Findings[k] = v
	}
	cp.task = nil
	return &cp
}

// Task is the mutable view handed to stage handlers. Handlers record
// results in Findings; the coordinator merges them into the workflow
// after the stage returns.
type Task struct {
	WorkflowID string
	Triage     TriageCompletePayload
	Findings   map[string]string

	// Approved is set when the workflow resumes after an approval
	// granted; the gating stage must not re-request approval.
	Approved bool
}

// Dispatched marks the point of no return for cancellation. Stage
// handlers call it immediately before executing an irreversible action.
func (t *Task) Dispatched() {
	t.Findings["dispatched"] = "true"
}

// StageHandler executes one named stage of a workflow.
type StageHandler func(ctx context.Context, t *Task) error

type stage struct {
	name    string
	handler StageHandler
}

// Options tune coordinator behavior. Zero values fall back to defaults.
type Options struct {
	StageTimeout  time.Duration // per-attempt handler budget
	StageRetries  int           // attempts per stage, not counting the first
	StallAfter    time.Duration // no-progress threshold for the watchdog
	DedupCapacity int
	DedupTTL      time.Duration

	// RetryInterval is the initial backoff between attempts. Shortened
	// in tests.
	RetryInterval time.Duration
}

func (o *Options) fillDefaults() {
	if o.StageTimeout <= 0 {
		o.StageTimeout = 30 * time.Second
	}
	if o.StageRetries <= 0 {
		o.StageRetries = 3
	}
	if o.StallAfter <= 0 {
		o.StallAfter = 15 * time.Minute
	}
	if o.DedupCapacity <= 0 {
		o.DedupCapacity = 65536
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = time.Hour
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 500 * time.Millisecond
	}
}

// Coordinator drives workflows through the registered stage pipeline.
type Coordinator struct {
	bus     Bus
	auditor *audit.Log
	logger  log.Logger
	metrics *Metrics
	opts    Options

	stages []stage
	dedup  *expirable.LRU[string, struct{}]

	mu        sync.Mutex
	workflows map[string]*Workflow

	wg sync.WaitGroup
}

// New creates a coordinator. Stages must be registered before Start.
func New(bus Bus, auditor *audit.Log, logger log.Logger, m *Metrics, opts Options) *Coordinator {
	if logger == nil {
		logger = log.Nop()
	}
	opts.fillDefaults()
	return &Coordinator{
		bus:       bus,
		auditor:   auditor,
		logger:    logger,
		metrics:   m,
		opts:      opts,
		dedup:     expirable.NewLRU[string, struct{}](opts.DedupCapacity, nil, opts.DedupTTL),
		workflows: make(map[string]*Workflow),
	}
}

// RegisterStage appends a named stage to the pipeline. Execution order is
// registration order.
func (c *Coordinator) RegisterStage(name string, h StageHandler) {
	c.stages = append(c.stages, stage{name: name, handler: h})
}

// Start subscribes the coordinator to its input events.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.bus.Subscribe(KindTriageComplete, c.handleTriageComplete); err != nil {
		return fmt.Errorf("subscribe triage.complete: %w", err)
	}
	if err := c.bus.Subscribe(KindApprovalResolved, c.handleApprovalResolved); err != nil {
		return fmt.Errorf("subscribe approval.resolved: %w", err)
	}
	c.logger.Info(ctx, "coordinator started", "stages", len(c.stages))
	return nil
}

// Run executes the stall watchdog until ctx is cancelled, then waits for
// in-flight workflows.
func (c *Coordinator) Run(ctx context.Context, sweepEvery time.Duration) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return
		case now := <-ticker.C:
			c.sweepStalled(ctx, now)
		}
	}
}

// Get returns a copy of the workflow context for API reads.
func (c *Coordinator) Get(id string) (*Workflow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.workflows[id]
	if !ok {
		return nil, false
	}
	return w.snapshot(), true
}

// Cancel stops a running workflow before its next stage. After an
// irreversible dispatch, or once terminal, it returns ErrTooLateToCancel.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	w, ok := c.workflows[id]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownWorkflow
	}
	if w.Status != StatusRunning || w.Dispatched {
		c.mu.Unlock()
		return fmt.Errorf("workflow %s in status %s: %w", id, w.Status, ErrTooLateToCancel)
	}
	w.Status = StatusCancelled
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.WorkflowsTotal.WithLabelValues(string(StatusCancelled)).Inc()
		c.metrics.ActiveWorkflows.Dec()
	}
	c.audit(ctx, id, "WorkflowCancelled", "", audit.ResultSuccess)
	c.logger.Info(ctx, "workflow cancelled", "workflow_id", id)
	return nil
}

// handleTriageComplete starts a workflow for a completed triage. Safe
// under redelivery: duplicate (workflow, event) pairs are no-ops.
func (c *Coordinator) handleTriageComplete(ctx context.Context, ev *Event) {
	if c.seen(ev) {
		return
	}

	var p TriageCompletePayload
	if err := ev.DecodePayload(&p); err != nil {
		c.logger.Error(ctx, err, "dropping triage.complete", "event_id", ev.ID)
		return
	}

	c.mu.Lock()
	if _, exists := c.workflows[ev.WorkflowID]; exists {
		c.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	w := &Workflow{
		ID:           ev.WorkflowID,
		AlertID:      p.AlertID,
		Status:       StatusRunning,
		Findings:     make(map[string]string),
		StartedAt:    now,
		LastProgress: now,
		task: &Task{
			WorkflowID: ev.WorkflowID,
			Triage:     p,
			Findings:   make(map[string]string),
		},
	}
	c.workflows[ev.WorkflowID] = w
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ActiveWorkflows.Inc()
	}
	c.audit(ctx, w.ID, "WorkflowStarted", p.AlertID, audit.ResultSuccess)
	c.logger.Info(ctx, "workflow started",
		"workflow_id", w.ID,
		"alert_id", p.AlertID,
		"decision", p.Decision,
		"priority", p.Priority,
	)

	c.wg.Add(1)
	go c.runPipeline(context.WithoutCancel(ctx), w.ID, 0)
}

// handleApprovalResolved resumes or closes a parked workflow.
func (c *Coordinator) handleApprovalResolved(ctx context.Context, ev *Event) {
	if c.seen(ev) {
		return
	}

	var p ApprovalResolvedPayload
	if err := ev.DecodePayload(&p); err != nil {
		c.logger.Error(ctx, err, "dropping approval.resolved", "event_id", ev.ID)
		return
	}

	c.mu.Lock()
	w, ok := c.workflows[ev.WorkflowID]
	if !ok || w.Status != StatusAwaitingApproval {
		c.mu.Unlock()
		return
	}

	if p.Outcome != "Approved" {
		// Denied and expired approvals skip the gated stage but still run
		// the stages after it, so the workflow closes out normally.
		w.Status = StatusRunning
		w.Findings["approval"] = p.Outcome
		w.LastProgress = time.Now().UTC()
		resumeAt := w.parkedStage + 1
		c.mu.Unlock()
		c.audit(ctx, ev.WorkflowID, "ActionNotExecuted", p.RequestID, audit.ResultFailure)
		c.logger.Info(ctx, "gated action skipped",
			"workflow_id", ev.WorkflowID,
			"approval_outcome", p.Outcome,
		)
		c.wg.Add(1)
		go c.runPipeline(context.WithoutCancel(ctx), ev.WorkflowID, resumeAt)
		return
	}

	w.Status = StatusRunning
	w.LastProgress = time.Now().UTC()
	w.task.Approved = true
	resumeAt := w.parkedStage
	c.mu.Unlock()

	c.audit(ctx, ev.WorkflowID, "ApprovalGranted", p.RequestID, audit.ResultSuccess)
	c.wg.Add(1)
	go c.runPipeline(context.WithoutCancel(ctx), ev.WorkflowID, resumeAt)
}

// runPipeline executes stages from startIdx. A panic in a stage handler
// fails this workflow only.
func (c *Coordinator) runPipeline(ctx context.Context, id string, startIdx int) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("workflow panic: %v", r)
			c.logger.Error(ctx, err, "workflow pipeline panicked", "workflow_id", id)
			c.fail(ctx, id, "", ReasonInvariant, err)
		}
	}()

	for i := startIdx; i < len(c.stages); i++ {
		st := c.stages[i]

		c.mu.Lock()
		w, ok := c.workflows[id]
		if !ok || w.Status != StatusRunning {
			c.mu.Unlock()
			return
		}
		w.Stage = st.name
		task := w.task
		c.mu.Unlock()

		start := time.Now()
		attempts, permanent, err := c.runStage(ctx, st, task)
		outcome := "success"

		switch {
		case errors.Is(err, ErrAwaitingApproval):
			c.park(ctx, id, i)
			outcome = "parked"
			c.observeStage(st.name, outcome, time.Since(start))
			return
		case err != nil:
			outcome = "failure"
			c.observeStage(st.name, outcome, time.Since(start))
			reason := ReasonRetriesExhausted
			if permanent {
				reason = ReasonStagePermanent
			}
			c.publishStageFailed(ctx, id, st.name, err, attempts)
			c.fail(ctx, id, st.name, reason, err)
			return
		}

		c.observeStage(st.name, outcome, time.Since(start))
		c.progress(id, task)
		c.publishStageCompleted(ctx, id, st.name, attempts)
		c.audit(ctx, id, "StageCompleted", st.name, audit.ResultSuccess)
	}

	c.complete(ctx, id)
}

// runStage applies the uniform retry policy to one stage attempt loop.
// It reports the attempt count and whether the last error was marked
// permanent by the handler; backoff.Retry unwraps PermanentError before
// returning, so permanence must be observed inside the attempt.
func (c *Coordinator) runStage(ctx context.Context, st stage, task *Task) (attempts int, permanent bool, _ error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.RetryInterval

	op := func() (struct{}, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.StageTimeout)
		defer cancel()
		err := st.handler(attemptCtx, task)
		if errors.Is(err, ErrAwaitingApproval) {
			return struct{}{}, backoff.Permanent(err)
		}
		var pe *backoff.PermanentError
		permanent = errors.As(err, &pe)
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.opts.StageRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			if c.metrics != nil {
				c.metrics.StageRetries.WithLabelValues(st.name).Inc()
			}
			c.logger.Warn(ctx, "stage attempt failed, retrying",
				"workflow_id", task.WorkflowID,
				"stage", st.name,
				"error", err.Error(),
				"next_attempt_in", next.String(),
			)
		}),
	)
	return attempts, permanent, err
}

// progress merges stage findings and bumps the watchdog timestamp.
func (c *Coordinator) progress(id string, task *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.workflows[id]
	if !ok {
		return
	}
	for k, v := range task.Findings {
		w.Findings[k] = v
	}
	if task.Findings["dispatched"] == "true" {
		w.Dispatched = true
	}
	w.LastProgress = time.Now().UTC()
}

func (c *Coordinator) park(ctx context.Context, id string, stageIdx int) {
	c.mu.Lock()
	if w, ok := c.workflows[id]; ok && w.Status == StatusRunning {
		w.Status = StatusAwaitingApproval
		w.parkedStage = stageIdx
		w.LastProgress = time.Now().UTC()
	}
	c.mu.Unlock()
	c.audit(ctx, id, "WorkflowParked", c.stages[stageIdx].name, audit.ResultPending)
	c.logger.Info(ctx, "workflow awaiting approval", "workflow_id", id, "stage", c.stages[stageIdx].name)
}

func (c *Coordinator) complete(ctx context.Context, id string) {
	c.mu.Lock()
	w, ok := c.workflows[id]
	if !ok || w.Status != StatusRunning {
		c.mu.Unlock()
		return
	}
	w.Status = StatusCompleted
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.WorkflowsTotal.WithLabelValues(string(StatusCompleted)).Inc()
		c.metrics.ActiveWorkflows.Dec()
	}
	c.audit(ctx, id, "WorkflowCompleted", "", audit.ResultSuccess)
	c.logger.Info(ctx, "workflow completed", "workflow_id", id)
}

// fail moves the workflow to Failed and escalates exactly once.
func (c *Coordinator) fail(ctx context.Context, id, stageName, reason string, cause error) {
	c.mu.Lock()
	w, ok := c.workflows[id]
	if !ok || w.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	w.Status = StatusFailed
	priority := w.task.Triage.Priority
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.WorkflowsTotal.WithLabelValues(string(StatusFailed)).Inc()
		c.metrics.ActiveWorkflows.Dec()
	}
	c.audit(ctx, id, "WorkflowFailed", stageName, audit.ResultFailure)
	c.logger.Error(ctx, cause, "workflow failed",
		"workflow_id", id,
		"stage", stageName,
		"reason", reason,
	)
	c.escalate(ctx, id, reason, stageName, priority, cause)
}

// escalate publishes at most one EscalationRequired per workflow.
func (c *Coordinator) escalate(ctx context.Context, id, reason, stageName, priority string, cause error) {
	c.mu.Lock()
	w, ok := c.workflows[id]
	if !ok || w.Escalated {
		c.mu.Unlock()
		return
	}
	w.Escalated = true
	c.mu.Unlock()

	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	ev, err := NewEvent(KindEscalationRequired, id, EscalationPayload{
		Reason:   reason,
		Stage:    stageName,
		Priority: priority,
		Detail:   detail,
	})
	if err != nil {
		c.logger.Error(ctx, err, "build escalation event", "workflow_id", id)
		return
	}
	if err := c.bus.Publish(ctx, ev); err != nil {
		c.logger.Error(ctx, err, "publish escalation", "workflow_id", id)
	}
	if c.metrics != nil {
		c.metrics.Escalations.WithLabelValues(reason).Inc()
	}
	c.audit(ctx, id, "EscalationRequired", reason, audit.ResultFailure)
}

// sweepStalled escalates workflows with no progress past the threshold.
// AwaitingApproval is exempt; the approval gateway has its own deadline.
func (c *Coordinator) sweepStalled(ctx context.Context, now time.Time) {
	c.mu.Lock()
	var stalled []*Workflow
	for _, w := range c.workflows {
		if w.Status == StatusRunning && now.Sub(w.LastProgress) > c.opts.StallAfter {
			w.Status = StatusStalled
			stalled = append(stalled, w)
		}
	}
	c.mu.Unlock()

	for _, w := range stalled {
		if c.metrics != nil {
			c.metrics.WorkflowsTotal.WithLabelValues(string(StatusStalled)).Inc()
			c.metrics.ActiveWorkflows.Dec()
		}
		c.audit(ctx, w.ID, "WorkflowStalled", w.Stage, audit.ResultFailure)
		c.logger.Warn(ctx, "workflow stalled",
			"workflow_id", w.ID,
			"stage", w.Stage,
			"idle", now.Sub(w.LastProgress).String(),
		)
		c.escalate(ctx, w.ID, ReasonWorkflowStalled, w.Stage, w.task.Triage.Priority, nil)
	}
}

func (c *Coordinator) publishStageCompleted(ctx context.Context, id, stageName string, attempts int) {
	ev, err := NewEvent(KindStageCompleted, id, StageCompletedPayload{Stage: stageName, Attempts: attempts})
	if err == nil {
		err = c.bus.Publish(ctx, ev)
	}
	if err != nil {
		c.logger.Error(ctx, err, "publish stage.completed", "workflow_id", id, "stage", stageName)
	}
}

func (c *Coordinator) publishStageFailed(ctx context.Context, id, stageName string, cause error, attempts int) {
	ev, err := NewEvent(KindStageFailed, id, StageFailedPayload{
		Stage:    stageName,
		Attempts: attempts,
		Error:    cause.Error(),
	})
	if err == nil {
		err = c.bus.Publish(ctx, ev)
	}
	if err != nil {
		c.logger.Error(ctx, err, "publish stage.failed", "workflow_id", id, "stage", stageName)
	}
}

// seen records the event and reports whether it was already delivered.
func (c *Coordinator) seen(ev *Event) bool {
	key := ev.WorkflowID + "/" + ev.ID
	if c.dedup.Contains(key) {
		if c.metrics != nil {
			c.metrics.DedupHits.Inc()
		}
		return true
	}
	c.dedup.Add(key, struct{}{})
	return false
}

func (c *Coordinator) audit(ctx context.Context, workflowID, action, target, result string) {
	if c.auditor == nil {
		return
	}
	if _, err := c.auditor.Append(ctx, workflowID, "coordinator", action, target, result); err != nil {
		c.logger.Error(ctx, err, "audit append failed", "workflow_id", workflowID, "audit_action", action)
	}
}

func (c *Coordinator) observeStage(name, outcome string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.StageDuration.WithLabelValues(name, outcome).Observe(d.Seconds())
	}
}
