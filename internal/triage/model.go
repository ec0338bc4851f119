package triage

import (
	"time"

	"github.com/linnemanlabs/warden/internal/score"
)

// State tracks where an alert is in the triage lifecycle.
type State string

const (
	// StateScored means risk scoring is done, correlation pending.
	StateScored State = "scored"

	// StateCorrelated means the alert has joined a correlation set.
	StateCorrelated State = "correlated"

	// StateDecided means the decision engine has produced a decision.
	StateDecided State = "decided"

	// StateAwaitingApproval means the decided action is gated on a human.
	StateAwaitingApproval State = "awaiting_approval"

	// StateDispatched means the decision was handed to the coordinator.
	StateDispatched State = "dispatched"

	// StateClosed means the response workflow finished. Terminal.
	StateClosed State = "closed"
)

// Decision is the outcome of the deterministic decision engine.
type Decision string

const (
	DecisionEscalate      Decision = "EscalateToIncident"
	DecisionCorrelate     Decision = "CorrelateWithExisting"
	DecisionFalsePositive Decision = "MarkAsFalsePositive"
	DecisionHumanReview   Decision = "RequireHumanReview"
)

// Record is the triage outcome for one alert. The decision fields are
// written exactly once; later corrections are separate Feedback rows,
// never mutations of the original.
type Record struct {
	AlertID          string     `json:"alert_id"`
	WorkflowID       string     `json:"workflow_id"`
	DedupKey         string     `json:"dedup_key"`
	State            State      `json:"state"`
	AlertName        string     `json:"alert_name"`
	Severity         string     `json:"severity"`
	Score            int        `json:"score"`
	Tier             score.Tier `json:"tier"`
	Decision         Decision   `json:"decision,omitempty"`
	Priority         score.Tier `json:"priority,omitempty"`
	Rationale        string     `json:"rationale,omitempty"`
	CorrelationSetID string     `json:"correlation_set_id,omitempty"`
	EngineVersion    string     `json:"engine_version,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	DecidedAt        time.Time  `json:"decided_at,omitempty"`
}

// Feedback is an analyst correction appended after the fact.
type Feedback struct {
	ID                string    `json:"id"`
	AlertID           string    `json:"alert_id"`
	CorrectedDecision Decision  `json:"corrected_decision"`
	AnalystID         string    `json:"analyst_id"`
	Comment           string    `json:"comment,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionEscalate, DecisionCorrelate, DecisionFalsePositive, DecisionHumanReview:
		return true
	}
	return false
}
