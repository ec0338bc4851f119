package explain

import (
	"context"
	"strings"
	"testing"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/score"
)

func TestStatic_Deterministic(t *testing.T) {
	t.Parallel()

	req := Request{
		Alert: &alert.Alert{
			ID:       "a-1",
			Severity: alert.SeverityHigh,
			Entities: []alert.Entity{
				{Type: alert.EntityHost, Value: "web-01"},
				{Type: alert.EntityAccount, Value: "svc-deploy"},
			},
			Techniques: []string{"T1059", "T1021"},
			Confidence: 85,
		},
		Score: &score.RiskScore{
			AlertID: "a-1",
			Value:   70,
			Tier:    score.TierHigh,
			Breakdown: score.Breakdown{
				Severity:    30,
				Entities:    4,
				Techniques:  10,
				Criticality: 15,
				Confidence:  9,
			},
		},
		Decision: "EscalateToIncident",
		SetSize:  3,
	}

	first, err := Static{}.Explain(context.Background(), req)
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	second, _ := Static{}.Explain(context.Background(), req)
	if first != second {
		t.Error("static rationale must be deterministic")
	}

	for _, want := range []string{"EscalateToIncident", "risk score 70", "High tier", "2 ATT&CK techniques", "2 other alert"} {
		if !strings.Contains(first, want) {
			t.Errorf("rationale missing %q: %s", want, first)
		}
	}
}

func TestStatic_SingletonOmitsCorrelation(t *testing.T) {
	t.Parallel()

	req := Request{
		Alert:    &alert.Alert{ID: "a-1", Severity: alert.SeverityLow, Confidence: 75},
		Score:    &score.RiskScore{AlertID: "a-1", Value: 18, Tier: score.TierLow, Breakdown: score.Breakdown{Severity: 10, Confidence: 8}},
		Decision: "MarkAsFalsePositive",
		SetSize:  1,
	}
	got, err := Static{}.Explain(context.Background(), req)
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if strings.Contains(got, "Correlated with") {
		t.Errorf("singleton rationale must not mention correlation: %s", got)
	}
}
