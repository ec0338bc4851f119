package triage

import (
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/score"
)

// EngineVersion is stamped on every record so decisions stay explainable
// across rule changes.
const EngineVersion = "rules/v1"

// DecisionInput is everything the engine may consider. Same input, same
// output: the engine holds no state and consults no clock.
type DecisionInput struct {
	Score   int
	Tier    score.Tier
	SetSize int
}

// DecisionEngine turns a scored, correlated alert into a decision. The
// rule engine is the production implementation; the interface leaves
// room for alternative strategies evaluated offline.
type DecisionEngine interface {
	Decide(in DecisionInput) (Decision, score.Tier)
	Version() string
}

// RuleEngine applies the threshold rules in priority order.
type RuleEngine struct {
	escalateAt      int
	falsePositiveAt int
}

// NewRuleEngine reads thresholds from policy.
func NewRuleEngine(pol *policy.Policy) *RuleEngine {
	return &RuleEngine{
		escalateAt:      pol.Scoring.EscalateAt,
		falsePositiveAt: pol.Scoring.FalsePositiveAt,
	}
}

// Version implements DecisionEngine.
func (e *RuleEngine) Version() string { return EngineVersion }

// Decide applies the first matching rule:
//
//  1. score >= escalate threshold: EscalateToIncident at High or the
//     score tier, whichever is higher
//  2. score below the false-positive threshold with no correlated
//     neighbors: MarkAsFalsePositive at Low
//  3. correlated with at least one other alert at or above the
//     false-positive threshold: CorrelateWithExisting at the score tier
//  4. otherwise: RequireHumanReview at Medium
func (e *RuleEngine) Decide(in DecisionInput) (Decision, score.Tier) {
	switch {
	case in.Score >= e.escalateAt:
		return DecisionEscalate, score.Max(score.TierHigh, in.Tier)
	case in.Score < e.falsePositiveAt && in.SetSize == 1:
		return DecisionFalsePositive, score.TierLow
	case in.SetSize >= 2 && in.Score >= e.falsePositiveAt:
		return DecisionCorrelate, in.Tier
	default:
		return DecisionHumanReview, score.TierMedium
	}
}
