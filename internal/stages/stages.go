// Package stages provides the production stage handlers wired into the
// workflow coordinator: intel enrichment, gated response execution, and
// workflow closure.
package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/warden/internal/action"
	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/approval"
	"github.com/linnemanlabs/warden/internal/enrich"
	"github.com/linnemanlabs/warden/internal/orchestrator"
	"github.com/linnemanlabs/warden/internal/score"
	"github.com/linnemanlabs/warden/internal/triage"
)

// Enrich looks up intel for the response target and records it in the
// workflow findings. The provider is expected to be degradation-wrapped;
// a missing target is not an error.
func Enrich(provider enrich.Provider) orchestrator.StageHandler {
	return func(ctx context.Context, t *orchestrator.Task) error {
		if t.Triage.Target == "" {
			return nil
		}
		e, err := provider.Enrich(ctx, alert.Entity{Value: t.Triage.Target})
		if err != nil {
			return fmt.Errorf("enrich %s: %w", t.Triage.Target, err)
		}
		t.Findings["reputation"] = e.Reputation
		if e.ThreatFamily != "" {
			t.Findings["threat_family"] = e.ThreatFamily
		}
		if len(e.Techniques) > 0 {
			t.Findings["intel_techniques"] = strings.Join(e.Techniques, ",")
		}
		return nil
	}
}

// StateRecorder reflects response-stage progress back into the triage
// record's lifecycle state. *triage.Service implements it.
type StateRecorder interface {
	MarkAwaitingApproval(ctx context.Context, alertID string) error
	MarkDispatched(ctx context.Context, alertID string) error
}

// Respond executes the decided response action. High-risk actions park
// the workflow on a pending approval; after an approval granted the
// handler reruns with Approved set and executes without re-requesting.
// The triage record tracks the gate: awaiting_approval while parked,
// back to dispatched when the approved action proceeds.
func Respond(gw *approval.Gateway, exec action.Executor, rec StateRecorder) orchestrator.StageHandler {
	return func(ctx context.Context, t *orchestrator.Task) error {
		if t.Triage.Action == "" {
			return nil
		}
		tier := score.Tier(t.Triage.Priority)

		if !t.Approved && gw.Required(t.Triage.Action, tier) {
			// State first: a failure here retries before any request exists.
			if err := rec.MarkAwaitingApproval(ctx, t.Triage.AlertID); err != nil {
				return err
			}
			req, err := gw.Require(ctx, t.WorkflowID, t.Triage.AlertID, t.Triage.Action, t.Triage.Target, tier)
			if err != nil {
				return fmt.Errorf("request approval: %w", err)
			}
			t.Findings["approval_request_id"] = req.ID
			return orchestrator.ErrAwaitingApproval
		}

		t.Dispatched()
		if t.Approved {
			if err := rec.MarkDispatched(ctx, t.Triage.AlertID); err != nil {
				return err
			}
		}
		res, err := exec.Execute(ctx, t.WorkflowID, t.Triage.Action, t.Triage.Target)
		if err != nil {
			return fmt.Errorf("execute %s on %s: %w", t.Triage.Action, t.Triage.Target, err)
		}
		t.Findings["action"] = t.Triage.Action
		t.Findings["action_status"] = res.Status
		if res.Detail != "" {
			t.Findings["action_detail"] = res.Detail
		}
		return nil
	}
}

// Close marks the triage record's workflow finished. Last stage in the
// pipeline.
func Close(svc *triage.Service) orchestrator.StageHandler {
	return func(ctx context.Context, t *orchestrator.Task) error {
		return svc.Close(ctx, t.Triage.AlertID)
	}
}
