// Package alertapi exposes the HTTP surface: alert ingestion, triage and
// workflow status, approval resolution, and analyst feedback.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/approval"
	"github.com/linnemanlabs/warden/internal/audit"
	"github.com/linnemanlabs/warden/internal/authmw"
	"github.com/linnemanlabs/warden/internal/orchestrator"
	"github.com/linnemanlabs/warden/internal/triage"
)

// TriageService defines the triage operations alertapi needs.
type TriageService interface {
	Submit(ctx context.Context, raw []byte) (*triage.SubmitResult, error)
	Get(ctx context.Context, alertID string) (*triage.Record, bool, error)
	Feedback(ctx context.Context, alertID string, corrected triage.Decision, analystID, comment string) (*triage.Feedback, error)
	ListFeedback(ctx context.Context, alertID string) ([]triage.Feedback, error)
}

// WorkflowService defines the coordinator operations alertapi needs.
type WorkflowService interface {
	Get(id string) (*orchestrator.Workflow, bool)
	Cancel(ctx context.Context, id string) error
}

// ApprovalService defines the gateway operations alertapi needs.
type ApprovalService interface {
	Get(id string) (*approval.Request, bool)
	Pending() []*approval.Request
	Resolve(ctx context.Context, id string, outcome approval.Status, resolver, comment string) (*approval.Request, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	svc       TriageService
	workflows WorkflowService
	approvals ApprovalService
	auditor   *audit.Log
	apiToken  string
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService, workflows WorkflowService, approvals ApprovalService,
	auditor *audit.Log, apiToken string,
) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	if workflows == nil || approvals == nil || auditor == nil {
		panic(xerrors.New("workflow, approval, and audit backends are required"))
	}
	return &API{
		logger:    logger,
		svc:       svc,
		workflows: workflows,
		approvals: approvals,
		auditor:   auditor,
		apiToken:  apiToken,
	}
}

// RegisterRoutes attaches API endpoints to the router. Mutating routes
// other than ingestion sit behind the bearer token.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/alerts", a.handleSubmitAlert)
		r.Get("/triage/{alertID}", a.handleGetTriage)
		r.Get("/triage/{alertID}/feedback", a.handleListFeedback)
		r.Get("/workflows/{id}", a.handleGetWorkflow)
		r.Get("/workflows/{id}/audit", a.handleGetAuditTrail)

		r.Group(func(r chi.Router) {
			r.Use(authmw.BearerToken(a.apiToken))
			r.Get("/approvals", a.handleListApprovals)
			r.Post("/approvals/{id}", a.handleResolveApproval)
			r.Post("/workflows/{id}/cancel", a.handleCancelWorkflow)
			r.Post("/triage/{alertID}/feedback", a.handlePostFeedback)
		})
	})
}

func (a *API) handleGetTriage(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.alert.id", alertID))

	rec, ok, err := a.svc.Get(r.Context(), alertID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get triage record", "alert_id", alertID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("warden.triage.state", string(rec.State)))
	writeJSON(w, http.StatusOK, rec)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
