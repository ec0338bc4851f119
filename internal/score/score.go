// Package score computes deterministic risk scores and priority tiers for
// normalized alerts. Scoring is a pure function of the alert and policy:
// no randomness, no I/O. Reproducibility is what makes triage decisions
// auditable, so any learned or probabilistic strategy must be implemented
// as an alternate CriticalityFactor or triage strategy, never by adding
// nondeterminism here.
package score

import (
	"errors"
	"fmt"
	"math"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/policy"
)

// ErrInvariant marks scorer input that should have been rejected during
// normalization. It fails the single workflow that produced it.
var ErrInvariant = errors.New("invariant violation")

// Tier is the priority tier derived from a risk score.
type Tier string

const (
	TierCritical Tier = "Critical"
	TierHigh     Tier = "High"
	TierMedium   Tier = "Medium"
	TierLow      Tier = "Low"
)

// rank orders tiers for max() comparisons.
func (t Tier) rank() int {
	switch t {
	case TierCritical:
		return 3
	case TierHigh:
		return 2
	case TierMedium:
		return 1
	default:
		return 0
	}
}

// Max returns the higher-ranked of two tiers.
func Max(a, b Tier) Tier {
	if a.rank() >= b.rank() {
		return a
	}
	return b
}

// Breakdown itemizes the factors contributing to a score.
type Breakdown struct {
	Severity    int `json:"severity"`
	Entities    int `json:"entities"`
	Techniques  int `json:"techniques"`
	Criticality int `json:"criticality"`
	Confidence  int `json:"confidence"`
}

// RiskScore is the immutable scoring result for one alert.
type RiskScore struct {
	AlertID   string    `json:"alert_id"`
	Value     int       `json:"value"`
	Tier      Tier      `json:"tier"`
	Breakdown Breakdown `json:"breakdown"`
}

// CriticalityFactor supplies the asset-criticality contribution (0..15)
// for the entities an alert touches. Pluggable so deployments can back it
// with a CMDB instead of the static policy map.
type CriticalityFactor interface {
	Factor(entities []alert.Entity) int
}

// PolicyCriticality reads criticality from the policy asset map, taking
// the maximum across the alert's entities.
type PolicyCriticality struct {
	Assets map[string]int
}

// Factor implements CriticalityFactor.
func (p PolicyCriticality) Factor(entities []alert.Entity) int {
	max := 0
	for _, e := range entities {
		if c, ok := p.Assets[e.Value]; ok && c > max {
			max = c
		}
	}
	if max > 15 {
		max = 15
	}
	return max
}

// Scorer computes risk scores using policy weights and a criticality source.
type Scorer struct {
	weights     map[alert.Severity]int
	criticality CriticalityFactor
}

// New creates a Scorer from policy. A nil criticality falls back to the
// policy asset map.
func New(pol *policy.Policy, criticality CriticalityFactor) *Scorer {
	if criticality == nil {
		criticality = PolicyCriticality{Assets: pol.Scoring.AssetCriticality}
	}
	return &Scorer{
		weights:     pol.Scoring.SeverityWeights,
		criticality: criticality,
	}
}

// Score computes the weighted risk score for a normalized alert, clamped
// to [0,100]. Identical input always produces an identical RiskScore.
func (s *Scorer) Score(a *alert.Alert) (*RiskScore, error) {
	if a == nil || a.ID == "" {
		return nil, fmt.Errorf("%w: scorer received nil or unnormalized alert", ErrInvariant)
	}
	w, ok := s.weights[a.Severity]
	if !ok {
		return nil, fmt.Errorf("%w: no severity weight for %q", ErrInvariant, a.Severity)
	}

	b := Breakdown{
		Severity:    w,
		Entities:    minInt(a.EntityCount()*2, 10),
		Techniques:  minInt(len(a.Techniques)*5, 25),
		Criticality: s.criticality.Factor(a.Entities),
		Confidence:  int(math.Round(float64(a.Confidence) / 10)),
	}

	total := b.Severity + b.Entities + b.Techniques + b.Criticality + b.Confidence
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}

	return &RiskScore{
		AlertID:   a.ID,
		Value:     total,
		Tier:      TierFromScore(total),
		Breakdown: b,
	}, nil
}

// TierFromScore maps a score to its priority tier using fixed thresholds.
func TierFromScore(score int) Tier {
	switch {
	case score >= 80:
		return TierCritical
	case score >= 60:
		return TierHigh
	case score >= 40:
		return TierMedium
	default:
		return TierLow
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
