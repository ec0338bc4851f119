// Package enrich defines the enrichment provider boundary: entity
// reputation and threat context pulled in during the intel stage.
// Enrichment is best-effort; a slow or failing provider degrades to an
// "unknown" answer instead of blocking the workflow.
package enrich

import (
	"context"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/policy"
)

// Reputation classifies an entity's standing with intel sources.
const (
	ReputationMalicious  = "malicious"
	ReputationSuspicious = "suspicious"
	ReputationClean      = "clean"
	ReputationUnknown    = "unknown"
)

// Enrichment is the intel context attached to one entity.
type Enrichment struct {
	Entity       alert.Entity `json:"entity"`
	Reputation   string       `json:"reputation"`
	ThreatFamily string       `json:"threat_family,omitempty"`
	Techniques   []string     `json:"techniques,omitempty"`
}

// Provider looks up intel for a single entity.
type Provider interface {
	Enrich(ctx context.Context, e alert.Entity) (*Enrichment, error)
}

// Static serves reputations from the policy-seeded map. Keys are entity
// values (exact match, case-insensitive).
type Static struct {
	reputation map[string]string
}

// NewStatic builds a provider from the policy's reputation seed.
func NewStatic(pol *policy.Policy) *Static {
	rep := make(map[string]string, len(pol.Enrichment.Reputation))
	for k, v := range pol.Enrichment.Reputation {
		rep[strings.ToLower(k)] = v
	}
	return &Static{reputation: rep}
}

// Enrich returns the seeded reputation, or unknown.
func (s *Static) Enrich(_ context.Context, e alert.Entity) (*Enrichment, error) {
	rep, ok := s.reputation[strings.ToLower(e.Value)]
	if !ok {
		rep = ReputationUnknown
	}
	return &Enrichment{Entity: e, Reputation: rep}, nil
}

// Degraded wraps a provider with a per-lookup timeout. Timeouts and
// provider errors are logged and converted to an unknown enrichment so
// triage keeps moving.
type Degraded struct {
	inner   Provider
	timeout time.Duration
	logger  log.Logger
}

// Degrade wraps the provider. A zero timeout defaults to 5s.
func Degrade(inner Provider, timeout time.Duration, logger log.Logger) *Degraded {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Degraded{inner: inner, timeout: timeout, logger: logger}
}

// Enrich never returns an error; failure degrades to unknown.
func (d *Degraded) Enrich(ctx context.Context, e alert.Entity) (*Enrichment, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type result struct {
		enr *Enrichment
		err error
	}
	ch := make(chan result, 1)
	go func() {
		enr, err := d.inner.Enrich(ctx, e)
		ch <- result{enr, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			d.logger.Warn(ctx, "enrichment failed, degrading to unknown",
				"entity", e.Key(),
				"error", r.err.Error(),
			)
			return &Enrichment{Entity: e, Reputation: ReputationUnknown}, nil
		}
		return r.enr, nil
	case <-ctx.Done():
		d.logger.Warn(ctx, "enrichment timed out, degrading to unknown", "entity", e.Key())
		return &Enrichment{Entity: e, Reputation: ReputationUnknown}, nil
	}
}
