// Package policy holds the operational triage policy: scoring weights,
// decision thresholds, correlation windows, the high-risk action set, and
// orchestration timeouts. Policy is loaded from YAML at startup so tuning
// does not require a rebuild; infrastructure settings stay on flags.
package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/warden/internal/alert"
)

// Policy is the full operational policy document.
type Policy struct {
	Scoring       Scoring       `yaml:"scoring"`
	Correlation   Correlation   `yaml:"correlation"`
	Approval      Approval      `yaml:"approval"`
	Orchestration Orchestration `yaml:"orchestration"`
	Enrichment    Enrichment    `yaml:"enrichment"`
	Response      Response      `yaml:"response"`
}

// Scoring controls the risk scorer.
type Scoring struct {
	SeverityWeights map[alert.Severity]int `yaml:"severity_weights"`
	// AssetCriticality maps entity values (hostnames, subnets, account
	// names) to a criticality factor added to the score, 0..15.
	AssetCriticality map[string]int `yaml:"asset_criticality"`
	EscalateAt       int            `yaml:"escalate_at"`
	FalsePositiveAt  int            `yaml:"false_positive_at"`
}

// Correlation controls the correlation engine.
type Correlation struct {
	Window    time.Duration `yaml:"window"`
	Retention time.Duration `yaml:"retention"`
}

// Approval controls the approval gateway.
type Approval struct {
	// HighRiskActions always require human approval before execution,
	// regardless of priority.
	HighRiskActions []string      `yaml:"high_risk_actions"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Orchestration controls the coordinator's retry and stall policy.
type Orchestration struct {
	StageTimeout  time.Duration `yaml:"stage_timeout"`
	StageRetries  int           `yaml:"stage_retries"`
	StallAfter    time.Duration `yaml:"stall_after"`
	DedupCapacity int           `yaml:"dedup_capacity"`
	DedupTTL      time.Duration `yaml:"dedup_ttl"`
}

// Enrichment seeds the static enrichment provider and bounds external calls.
type Enrichment struct {
	Timeout time.Duration `yaml:"timeout"`
	// Reputation maps entity values to a reputation label
	// (malicious, suspicious, clean). Used by the static provider.
	Reputation map[string]string `yaml:"reputation"`
}

// Response maps alert categories to the action dispatched when a
// decision escalates. Unlisted categories fall back to DefaultAction.
type Response struct {
	Actions       map[string]string `yaml:"actions"`
	DefaultAction string            `yaml:"default_action"`
}

// ActionFor returns the response action for an alert category.
func (r Response) ActionFor(category string) string {
	if a, ok := r.Actions[category]; ok {
		return a
	}
	return r.DefaultAction
}

// Default returns the built-in policy used when no file is configured.
func Default() *Policy {
	return &Policy{
		Scoring: Scoring{
			SeverityWeights: map[alert.Severity]int{
				alert.SeverityHigh:          30,
				alert.SeverityMedium:        20,
				alert.SeverityLow:           10,
				alert.SeverityInformational: 5,
			},
			AssetCriticality: map[string]int{},
			EscalateAt:       70,
			FalsePositiveAt:  30,
		},
		Correlation: Correlation{
			Window:    60 * time.Minute,
			Retention: 6 * time.Hour,
		},
		Approval: Approval{
			HighRiskActions: []string{
				"disable-account",
				"isolate-subnet",
				"isolate-endpoint",
				"delete-data",
				"quarantine-file",
			},
			Timeout: 4 * time.Hour,
		},
		Orchestration: Orchestration{
			StageTimeout:  30 * time.Second,
			StageRetries:  3,
			StallAfter:    15 * time.Minute,
			DedupCapacity: 65536,
			DedupTTL:      1 * time.Hour,
		},
		Enrichment: Enrichment{
			Timeout:    5 * time.Second,
			Reputation: map[string]string{},
		},
		Response: Response{
			Actions: map[string]string{
				"credential-access": "disable-account",
				"lateral-movement":  "isolate-endpoint",
				"malware":           "quarantine-file",
				"exfiltration":      "isolate-subnet",
			},
			DefaultAction: "create-incident",
		},
	}
}

// Load reads a policy file and overlays it onto the defaults. Unset fields
// keep their default values.
func Load(path string) (*Policy, error) {
	p := Default()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the policy for values that would break triage invariants.
func (p *Policy) Validate() error {
	for sev, w := range p.Scoring.SeverityWeights {
		if !sev.Valid() {
			return fmt.Errorf("unknown severity %q in severity_weights", sev)
		}
		if w < 0 || w > 100 {
			return fmt.Errorf("severity weight %d for %q out of range 0..100", w, sev)
		}
	}
	for asset, c := range p.Scoring.AssetCriticality {
		if c < 0 || c > 15 {
			return fmt.Errorf("asset criticality %d for %q out of range 0..15", c, asset)
		}
	}
	if p.Scoring.EscalateAt <= p.Scoring.FalsePositiveAt {
		return fmt.Errorf("escalate_at %d must exceed false_positive_at %d",
			p.Scoring.EscalateAt, p.Scoring.FalsePositiveAt)
	}
	if p.Correlation.Window <= 0 {
		return fmt.Errorf("correlation window must be positive")
	}
	if p.Correlation.Retention < p.Correlation.Window {
		return fmt.Errorf("correlation retention %s must be >= window %s",
			p.Correlation.Retention, p.Correlation.Window)
	}
	if p.Approval.Timeout <= 0 {
		return fmt.Errorf("approval timeout must be positive")
	}
	if p.Orchestration.StageRetries < 1 {
		return fmt.Errorf("stage_retries must be >= 1")
	}
	if p.Orchestration.StageTimeout <= 0 || p.Orchestration.StallAfter <= 0 {
		return fmt.Errorf("stage_timeout and stall_after must be positive")
	}
	return nil
}

// IsHighRisk reports whether an action type is in the high-risk set.
func (p *Policy) IsHighRisk(action string) bool {
	for _, a := range p.Approval.HighRiskActions {
		if a == action {
			return true
		}
	}
	return false
}
