package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event type on the bus.
type Kind string

const (
	KindAlertIngested      Kind = "alert.ingested"
	KindTriageComplete     Kind = "triage.complete"
	KindApprovalResolved   Kind = "approval.resolved"
	KindStageCompleted     Kind = "stage.completed"
	KindStageFailed        Kind = "stage.failed"
	KindEscalationRequired Kind = "escalation.required"
)

// Escalation reason codes. Stable: downstream alerting keys off them.
const (
	ReasonRetriesExhausted = "stage_retries_exhausted"
	ReasonStagePermanent   = "stage_permanent_failure"
	ReasonWorkflowStalled  = "workflow_stalled"
	ReasonInvariant        = "workflow_invariant_violation"
)

// Event is the envelope carried on the bus. Delivery is at-least-once;
// consumers deduplicate on (workflow ID, event ID).
type Event struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	WorkflowID string          `json:"workflow_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewEvent assigns a fresh event ID and marshals the payload.
func NewEvent(kind Kind, workflowID string, payload any) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		raw = b
	}
	return &Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		WorkflowID: workflowID,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// DecodePayload unmarshals the payload into v.
func (e *Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s event %s has no payload", e.Kind, e.ID)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// AlertIngestedPayload announces a newly accepted alert.
type AlertIngestedPayload struct {
	AlertID  string `json:"alert_id"`
	Source   string `json:"source"`
	SourceID string `json:"source_id"`
}

// TriageCompletePayload carries the triage outcome that starts a
// response workflow.
type TriageCompletePayload struct {
	AlertID          string `json:"alert_id"`
	Decision         string `json:"decision"`
	Priority         string `json:"priority"`
	Score            int    `json:"score"`
	CorrelationSetID string `json:"correlation_set_id,omitempty"`
	Action           string `json:"action,omitempty"`
	Target           string `json:"target,omitempty"`
}

// ApprovalResolvedPayload reports the outcome of a pending approval.
type ApprovalResolvedPayload struct {
	RequestID string `json:"request_id"`
	Outcome   string `json:"outcome"`
	Resolver  string `json:"resolver,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// StageCompletedPayload marks successful completion of one stage.
type StageCompletedPayload struct {
	Stage    string `json:"stage"`
	Attempts int    `json:"attempts"`
}

// StageFailedPayload marks a stage that will not be attempted again,
// either out of retries or failed with a permanent error.
type StageFailedPayload struct {
	Stage    string `json:"stage"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// EscalationPayload is emitted exactly once per failed, stalled, or
// broken workflow.
type EscalationPayload struct {
	Reason   string `json:"reason"`
	Stage    string `json:"stage,omitempty"`
	Priority string `json:"priority,omitempty"`
	Detail   string `json:"detail,omitempty"`
}
