// Package explain defines the explanation provider boundary. Providers
// produce the human-readable rationale attached to a triage record; the
// decision itself is always made by the deterministic rule engine, so a
// provider failure can never change an outcome.
package explain

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/score"
)

// Request carries everything a provider may cite in a rationale.
type Request struct {
	Alert    *alert.Alert
	Score    *score.RiskScore
	Decision string
	SetSize  int
}

// Provider renders a rationale for a decision.
type Provider interface {
	Explain(ctx context.Context, req Request) (string, error)
}

// Static renders a deterministic rationale from the factor breakdown.
// Used as the default provider and as the fallback when a richer
// provider fails.
type Static struct{}

// Explain never fails.
func (Static) Explain(_ context.Context, req Request) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: risk score %d (%s tier)", req.Decision, req.Score.Value, req.Score.Tier)

	bd := req.Score.Breakdown
	parts := []string{
		fmt.Sprintf("severity %s contributed %d", req.Alert.Severity, bd.Severity),
	}
	if bd.Entities > 0 {
		parts = append(parts, fmt.Sprintf("%d entities contributed %d", req.Alert.EntityCount(), bd.Entities))
	}
	if bd.Techniques > 0 {
		parts = append(parts, fmt.Sprintf("%d ATT&CK techniques contributed %d", len(req.Alert.Techniques), bd.Techniques))
	}
	if bd.Criticality > 0 {
		parts = append(parts, fmt.Sprintf("asset criticality contributed %d", bd.Criticality))
	}
	if bd.Confidence > 0 {
		parts = append(parts, fmt.Sprintf("source confidence %d contributed %d", req.Alert.Confidence, bd.Confidence))
	}
	fmt.Fprintf(&b, ". Factors: %s.", strings.Join(parts, ", "))

	if req.SetSize > 1 {
		fmt.Fprintf(&b, " Correlated with %d other alert(s) sharing entities.", req.SetSize-1)
	}
	return b.String(), nil
}
