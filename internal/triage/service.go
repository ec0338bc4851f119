package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/audit"
	"github.com/linnemanlabs/warden/internal/correlate"
	"github.com/linnemanlabs/warden/internal/explain"
	"github.com/linnemanlabs/warden/internal/orchestrator"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/score"
)

// explainTimeout bounds the rationale provider. Past it the static
// rationale ships instead.
const explainTimeout = 10 * time.Second

// SubmitResult is the outcome of submitting an alert for triage.
type SubmitResult struct {
	AlertID    string `json:"alert_id"`
	WorkflowID string `json:"workflow_id"`
	State      State  `json:"state"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

// Service is the business boundary for triage operations.
type Service struct {
	store      Store
	scorer     *score.Scorer
	correlator *correlate.Engine
	engine     DecisionEngine
	explainer  explain.Provider
	bus        orchestrator.Bus
	auditor    *audit.Log
	pol        *policy.Policy
	logger     log.Logger
	metrics    *Metrics
}

// NewService creates a new triage service. explainer may be nil; the
// static rationale is always available as fallback.
func NewService(store Store, scorer *score.Scorer, correlator *correlate.Engine, engine DecisionEngine,
	explainer explain.Provider, bus orchestrator.Bus, auditor *audit.Log, pol *policy.Policy,
	logger log.Logger, m *Metrics,
) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:      store,
		scorer:     scorer,
		correlator: correlator,
		engine:     engine,
		explainer:  explainer,
		bus:        bus,
		auditor:    auditor,
		pol:        pol,
		logger:     logger,
		metrics:    m,
	}
}

// Submit accepts a raw alert document: normalize, dedup on the source's
// native ID, score, then continue async. Resubmitting a known alert
// returns the existing workflow status, not an error.
func (s *Service) Submit(ctx context.Context, raw []byte) (*SubmitResult, error) {
	now := time.Now().UTC()

	a, err := alert.Normalize(raw, now)
	if err != nil {
		s.count("malformed")
		return nil, err
	}

	if existing, ok, err := s.store.GetByDedupKey(ctx, a.DedupKey()); err != nil {
		return nil, err
	} else if ok {
		s.count("duplicate")
		s.logger.Info(ctx, "duplicate alert",
			"alert_id", existing.AlertID,
			"dedup_key", a.DedupKey(),
			"state", existing.State,
		)
		return &SubmitResult{
			AlertID:    existing.AlertID,
			WorkflowID: existing.WorkflowID,
			State:      existing.State,
			Duplicate:  true,
		}, nil
	}

	rs, err := s.scorer.Score(a)
	if err != nil {
		s.count("invalid")
		return nil, fmt.Errorf("score alert %s: %w", a.ID, err)
	}

	rec := &Record{
		AlertID:    a.ID,
		WorkflowID: a.ID,
		DedupKey:   a.DedupKey(),
		State:      StateScored,
		AlertName:  a.Name,
		Severity:   string(a.Severity),
		Score:      rs.Value,
		Tier:       rs.Tier,
		CreatedAt:  now,
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, err
	}

	s.count("accepted")
	if s.metrics != nil {
		s.metrics.RiskScores.Observe(float64(rs.Value))
	}
	s.audit(ctx, rec.WorkflowID, "AlertScored", a.ID, audit.ResultSuccess)
	s.publish(ctx, orchestrator.KindAlertIngested, rec.WorkflowID, orchestrator.AlertIngestedPayload{
		AlertID:  a.ID,
		Source:   a.Source,
		SourceID: a.SourceID,
	})

	// correlation and decisioning continue past the HTTP request.
	go s.runTriage(context.WithoutCancel(ctx), a, rs)

	return &SubmitResult{AlertID: a.ID, WorkflowID: rec.WorkflowID, State: StateScored}, nil
}

// Get retrieves a triage record by alert ID.
func (s *Service) Get(ctx context.Context, alertID string) (*Record, bool, error) {
	return s.store.Get(ctx, alertID)
}

// Close marks the record's workflow finished. Called by the final
// coordinator stage.
func (s *Service) Close(ctx context.Context, alertID string) error {
	rec, err := s.setState(ctx, alertID, StateClosed)
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	s.audit(ctx, rec.WorkflowID, "WorkflowClosed", alertID, audit.ResultSuccess)
	return nil
}

// MarkAwaitingApproval flags the record while its response action is
// parked on a human decision.
func (s *Service) MarkAwaitingApproval(ctx context.Context, alertID string) error {
	if _, err := s.setState(ctx, alertID, StateAwaitingApproval); err != nil {
		return fmt.Errorf("mark awaiting approval: %w", err)
	}
	return nil
}

// MarkDispatched returns the record to dispatched once a gated action is
// approved and proceeds to execution.
func (s *Service) MarkDispatched(ctx context.Context, alertID string) error {
	if _, err := s.setState(ctx, alertID, StateDispatched); err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	return nil
}

func (s *Service) setState(ctx context.Context, alertID string, state State) (*Record, error) {
	rec, ok, err := s.store.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no triage record for alert %s", alertID)
	}
	rec.State = state
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Feedback appends an analyst correction. The original decision record
// is never mutated.
func (s *Service) Feedback(ctx context.Context, alertID string, corrected Decision, analystID, comment string) (*Feedback, error) {
	if !corrected.Valid() {
		return nil, fmt.Errorf("unknown decision %q", corrected)
	}
	rec, ok, err := s.store.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no triage record for alert %s", alertID)
	}

	f := &Feedback{
		ID:                ulid.Make().String(),
		AlertID:           alertID,
		CorrectedDecision: corrected,
		AnalystID:         analystID,
		Comment:           comment,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.store.AppendFeedback(ctx, f); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.FeedbackTotal.Inc()
	}
	s.audit(ctx, rec.WorkflowID, "FeedbackRecorded", alertID, audit.ResultSuccess)
	s.logger.Info(ctx, "analyst feedback recorded",
		"alert_id", alertID,
		"original_decision", rec.Decision,
		"corrected_decision", corrected,
		"analyst_id", analystID,
	)
	return f, nil
}

// ListFeedback returns the corrections for an alert.
func (s *Service) ListFeedback(ctx context.Context, alertID string) ([]Feedback, error) {
	return s.store.ListFeedback(ctx, alertID)
}

func (s *Service) runTriage(ctx context.Context, a *alert.Alert, rs *score.RiskScore) {
	L := s.logger.With("alert_id", a.ID, "workflow_id", a.ID)
	start := time.Now()

	rec, ok, err := s.store.Get(ctx, a.ID)
	if err != nil || !ok {
		L.Error(ctx, err, "failed to fetch record for triage")
		return
	}

	set := s.correlator.Correlate(ctx, a, rs.Tier, a.ReceivedAt)
	rec.State = StateCorrelated
	rec.CorrelationSetID = set.ID
	if err := s.store.Put(ctx, rec); err != nil {
		L.Error(ctx, err, "failed to persist correlation")
		return
	}
	s.audit(ctx, rec.WorkflowID, "AlertCorrelated", set.ID, audit.ResultSuccess)

	decision, priority := s.engine.Decide(DecisionInput{
		Score:   rs.Value,
		Tier:    rs.Tier,
		SetSize: set.Size(),
	})

	rec.State = StateDecided
	rec.Decision = decision
	rec.Priority = priority
	rec.EngineVersion = s.engine.Version()
	rec.DecidedAt = time.Now().UTC()
	rec.Rationale = s.rationale(ctx, a, rs, decision, set.Size())
	if err := s.store.Put(ctx, rec); err != nil {
		L.Error(ctx, err, "failed to persist decision")
		return
	}
	s.audit(ctx, rec.WorkflowID, "DecisionRecorded", string(decision), audit.ResultSuccess)

	if s.metrics != nil {
		s.metrics.DecisionsTotal.WithLabelValues(string(decision), string(priority)).Inc()
		s.metrics.TriageDuration.Observe(time.Since(start).Seconds())
	}

	actionType, target := s.responseFor(a, decision)
	s.publish(ctx, orchestrator.KindTriageComplete, rec.WorkflowID, orchestrator.TriageCompletePayload{
		AlertID:          a.ID,
		Decision:         string(decision),
		Priority:         string(priority),
		Score:            rs.Value,
		CorrelationSetID: set.ID,
		Action:           actionType,
		Target:           target,
	})

	rec.State = StateDispatched
	if err := s.store.Put(ctx, rec); err != nil {
		L.Error(ctx, err, "failed to persist dispatch")
	}
	s.audit(ctx, rec.WorkflowID, "DecisionDispatched", string(decision), audit.ResultSuccess)

	L.Info(ctx, "triage complete",
		"decision", decision,
		"priority", priority,
		"risk_score", rs.Value,
		"set_id", set.ID,
		"set_size", set.Size(),
		"duration", time.Since(start).Seconds(),
	)
}

// rationale asks the configured provider, falling back to the
// deterministic template. The decision is already made; this only
// affects prose.
func (s *Service) rationale(ctx context.Context, a *alert.Alert, rs *score.RiskScore, decision Decision, setSize int) string {
	req := explain.Request{Alert: a, Score: rs, Decision: string(decision), SetSize: setSize}

	if s.explainer != nil {
		ectx, cancel := context.WithTimeout(ctx, explainTimeout)
		defer cancel()
		if text, err := s.explainer.Explain(ectx, req); err == nil {
			return text
		} else {
			s.logger.Warn(ctx, "explanation provider failed, using static rationale",
				"alert_id", a.ID,
				"error", err.Error(),
			)
		}
	}

	text, _ := explain.Static{}.Explain(ctx, req)
	return text
}

// responseFor maps a decision to the concrete action the coordinator
// dispatches. Only escalations carry an action; other decisions close
// through notification-only stages.
func (s *Service) responseFor(a *alert.Alert, decision Decision) (actionType, target string) {
	if decision != DecisionEscalate {
		return "", ""
	}
	actionType = s.pol.Response.ActionFor(a.Category)

	for _, e := range a.Entities {
		if e.Role == alert.RoleImpacted {
			return actionType, e.Value
		}
	}
	if len(a.Entities) > 0 {
		return actionType, a.Entities[0].Value
	}
	return actionType, a.ID
}

func (s *Service) publish(ctx context.Context, kind orchestrator.Kind, workflowID string, payload any) {
	ev, err := orchestrator.NewEvent(kind, workflowID, payload)
	if err == nil {
		err = s.bus.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Error(ctx, err, "publish event", "kind", string(kind), "workflow_id", workflowID)
	}
}

func (s *Service) audit(ctx context.Context, workflowID, action, target, result string) {
	if s.auditor == nil {
		return
	}
	if _, err := s.auditor.Append(ctx, workflowID, "triage", action, target, result); err != nil {
		s.logger.Error(ctx, err, "audit append failed", "workflow_id", workflowID, "audit_action", action)
	}
}

func (s *Service) count(result string) {
	if s.metrics != nil {
		s.metrics.SubmitsTotal.WithLabelValues(result).Inc()
	}
}
