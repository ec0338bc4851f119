package alertapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/approval"
	"github.com/linnemanlabs/warden/internal/audit"
	"github.com/linnemanlabs/warden/internal/audit/memlog"
	"github.com/linnemanlabs/warden/internal/orchestrator"
	"github.com/linnemanlabs/warden/internal/triage"
)

const testToken = "test-token-123"

type fakeTriage struct {
	submitRes *triage.SubmitResult
	submitErr error
	records   map[string]*triage.Record
	feedback  map[string][]triage.Feedback
}

func (f *fakeTriage) Submit(context.Context, []byte) (*triage.SubmitResult, error) {
	return f.submitRes, f.submitErr
}

func (f *fakeTriage) Get(_ context.Context, alertID string) (*triage.Record, bool, error) {
	r, ok := f.records[alertID]
	return r, ok, nil
}

func (f *fakeTriage) Feedback(_ context.Context, alertID string, corrected triage.Decision, analystID, comment string) (*triage.Feedback, error) {
	if !corrected.Valid() {
		return nil, fmt.Errorf("unknown decision %q", corrected)
	}
	fb := triage.Feedback{AlertID: alertID, CorrectedDecision: corrected, AnalystID: analystID, Comment: comment}
	f.feedback[alertID] = append(f.feedback[alertID], fb)
	return &fb, nil
}

func (f *fakeTriage) ListFeedback(_ context.Context, alertID string) ([]triage.Feedback, error) {
	return f.feedback[alertID], nil
}

type fakeWorkflows struct {
	workflows map[string]*orchestrator.Workflow
	cancelErr error
}

func (f *fakeWorkflows) Get(id string) (*orchestrator.Workflow, bool) {
	w, ok := f.workflows[id]
	return w, ok
}

func (f *fakeWorkflows) Cancel(_ context.Context, id string) error {
	if _, ok := f.workflows[id]; !ok {
		return orchestrator.ErrUnknownWorkflow
	}
	return f.cancelErr
}

type fakeApprovals struct {
	requests   map[string]*approval.Request
	resolveErr error
}

func (f *fakeApprovals) Get(id string) (*approval.Request, bool) {
	r, ok := f.requests[id]
	return r, ok
}

func (f *fakeApprovals) Pending() []*approval.Request {
	var out []*approval.Request
	for _, r := range f.requests {
		if r.Status == approval.StatusPending {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeApprovals) Resolve(_ context.Context, id string, outcome approval.Status, resolver, _ string) (*approval.Request, error) {
	r, ok := f.requests[id]
	if !ok {
		return nil, approval.ErrUnknownRequest
	}
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	if outcome != approval.StatusApproved && outcome != approval.StatusRejected {
		return nil, approval.ErrInvalidOutcome
	}
	if r.Status.Terminal() {
		return nil, approval.ErrAlreadyResolved
	}
	r.Status = outcome
	r.Resolver = resolver
	return r, nil
}

type testEnv struct {
	router    chi.Router
	svc       *fakeTriage
	workflows *fakeWorkflows
	approvals *fakeApprovals
	auditor   *audit.Log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		svc: &fakeTriage{
			records:  map[string]*triage.Record{},
			feedback: map[string][]triage.Feedback{},
		},
		workflows: &fakeWorkflows{workflows: map[string]*orchestrator.Workflow{}},
		approvals: &fakeApprovals{requests: map[string]*approval.Request{}},
		auditor:   audit.NewLog(memlog.New(), nil),
	}
	api := New(nil, env.svc, env.workflows, env.approvals, env.auditor, testToken)
	env.router = chi.NewRouter()
	api.RegisterRoutes(env.router)
	return env
}

func (e *testEnv) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestNew_NilTriageService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with nil service did not panic")
		}
	}()
	New(log.Nop(), nil, &fakeWorkflows{}, &fakeApprovals{}, audit.NewLog(memlog.New(), nil), "")
}

func TestSubmitAlert_Accepted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.svc.submitRes = &triage.SubmitResult{AlertID: "a-1", WorkflowID: "a-1", State: triage.StateScored}

	rec := env.do(http.MethodPost, "/api/v1/alerts", `{"id":"inc-1"}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var res triage.SubmitResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.AlertID != "a-1" || res.Duplicate {
		t.Errorf("result = %+v", res)
	}
}

func TestSubmitAlert_DuplicateReturns200(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.svc.submitRes = &triage.SubmitResult{AlertID: "a-1", WorkflowID: "a-1", State: triage.StateDecided, Duplicate: true}

	rec := env.do(http.MethodPost, "/api/v1/alerts", `{"id":"inc-1"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for duplicate", rec.Code)
	}
}

func TestSubmitAlert_Malformed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.svc.submitErr = fmt.Errorf("%w: missing alert id", alert.ErrMalformed)

	rec := env.do(http.MethodPost, "/api/v1/alerts", `{}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "missing alert id") {
		t.Errorf("body = %s, want the validation error", rec.Body.String())
	}
}

func TestSubmitAlert_InternalError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.svc.submitErr = fmt.Errorf("store unavailable")

	rec := env.do(http.MethodPost, "/api/v1/alerts", `{"id":"inc-1"}`, "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "store unavailable") {
		t.Error("internal error details leaked to client")
	}
}

func TestGetTriage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.svc.records["a-1"] = &triage.Record{
		AlertID: "a-1", WorkflowID: "a-1",
		State: triage.StateDecided, Decision: triage.DecisionEscalate, Score: 82,
	}

	rec := env.do(http.MethodGet, "/api/v1/triage/a-1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got triage.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Decision != triage.DecisionEscalate || got.Score != 82 {
		t.Errorf("got = %+v", got)
	}

	if rec := env.do(http.MethodGet, "/api/v1/triage/none", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing record status = %d, want 404", rec.Code)
	}
}

func TestGetWorkflow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.workflows.workflows["wf-1"] = &orchestrator.Workflow{
		ID: "wf-1", AlertID: "a-1", Status: orchestrator.StatusRunning, Stage: "enrich",
	}

	rec := env.do(http.MethodGet, "/api/v1/workflows/wf-1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got orchestrator.Workflow
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != orchestrator.StatusRunning || got.Stage != "enrich" {
		t.Errorf("got = %+v", got)
	}

	if rec := env.do(http.MethodGet, "/api/v1/workflows/none", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing workflow status = %d, want 404", rec.Code)
	}
}

func TestGetAuditTrail(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	for _, action := range []string{"WorkflowStarted", "StageCompleted"} {
		if _, err := env.auditor.Append(ctx, "wf-1", "coordinator", action, "", audit.ResultSuccess); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	rec := env.do(http.MethodGet, "/api/v1/workflows/wf-1/audit", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var trail []audit.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &trail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(trail) != 2 || trail[0].Action != "WorkflowStarted" || trail[1].Seq != 2 {
		t.Errorf("trail = %+v", trail)
	}

	if rec := env.do(http.MethodGet, "/api/v1/workflows/none/audit", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("empty trail status = %d, want 404", rec.Code)
	}
}

func TestCancelWorkflow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.workflows.workflows["wf-1"] = &orchestrator.Workflow{ID: "wf-1", Status: orchestrator.StatusRunning}

	if rec := env.do(http.MethodPost, "/api/v1/workflows/wf-1/cancel", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated cancel status = %d, want 401", rec.Code)
	}

	rec := env.do(http.MethodPost, "/api/v1/workflows/wf-1/cancel", "", testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	if rec := env.do(http.MethodPost, "/api/v1/workflows/none/cancel", "", testToken); rec.Code != http.StatusNotFound {
		t.Errorf("unknown workflow cancel status = %d, want 404", rec.Code)
	}

	env.workflows.cancelErr = fmt.Errorf("dispatched: %w", orchestrator.ErrTooLateToCancel)
	if rec := env.do(http.MethodPost, "/api/v1/workflows/wf-1/cancel", "", testToken); rec.Code != http.StatusConflict {
		t.Errorf("late cancel status = %d, want 409", rec.Code)
	}
}

func TestListApprovals(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.approvals.requests["ap-1"] = &approval.Request{ID: "ap-1", Status: approval.StatusPending, Action: "disable-account"}
	env.approvals.requests["ap-2"] = &approval.Request{ID: "ap-2", Status: approval.StatusApproved}

	if rec := env.do(http.MethodGet, "/api/v1/approvals", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated list status = %d, want 401", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/v1/approvals", "", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", rec.Code)
	}

	rec := env.do(http.MethodGet, "/api/v1/approvals", "", testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var pending []approval.Request
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "ap-1" {
		t.Errorf("pending = %+v, want only the unresolved request", pending)
	}
}

func TestResolveApproval(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.approvals.requests["ap-1"] = &approval.Request{ID: "ap-1", Status: approval.StatusPending}

	body := `{"outcome":"Approved","resolver":"analyst-7","comment":"confirmed"}`

	if rec := env.do(http.MethodPost, "/api/v1/approvals/ap-1", body, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated resolve status = %d, want 401", rec.Code)
	}

	rec := env.do(http.MethodPost, "/api/v1/approvals/ap-1", body, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var got approval.Request
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != approval.StatusApproved || got.Resolver != "analyst-7" {
		t.Errorf("got = %+v", got)
	}

	// second resolution must conflict, not double-apply
	if rec := env.do(http.MethodPost, "/api/v1/approvals/ap-1", body, testToken); rec.Code != http.StatusConflict {
		t.Errorf("double resolve status = %d, want 409", rec.Code)
	}

	if rec := env.do(http.MethodPost, "/api/v1/approvals/none", body, testToken); rec.Code != http.StatusNotFound {
		t.Errorf("unknown request status = %d, want 404", rec.Code)
	}

	env.approvals.requests["ap-3"] = &approval.Request{ID: "ap-3", Status: approval.StatusPending}
	bad := `{"outcome":"Maybe","resolver":"analyst-7"}`
	if rec := env.do(http.MethodPost, "/api/v1/approvals/ap-3", bad, testToken); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid outcome status = %d, want 400", rec.Code)
	}

	noResolver := `{"outcome":"Approved"}`
	if rec := env.do(http.MethodPost, "/api/v1/approvals/ap-3", noResolver, testToken); rec.Code != http.StatusBadRequest {
		t.Errorf("missing resolver status = %d, want 400", rec.Code)
	}
}

func TestFeedback(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.svc.records["a-1"] = &triage.Record{AlertID: "a-1", State: triage.StateDispatched, Decision: triage.DecisionFalsePositive}

	body := `{"corrected_decision":"EscalateToIncident","analyst_id":"analyst-7","comment":"real compromise"}`

	if rec := env.do(http.MethodPost, "/api/v1/triage/a-1/feedback", body, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated feedback status = %d, want 401", rec.Code)
	}

	rec := env.do(http.MethodPost, "/api/v1/triage/a-1/feedback", body, testToken)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	if rec := env.do(http.MethodPost, "/api/v1/triage/none/feedback", body, testToken); rec.Code != http.StatusNotFound {
		t.Errorf("unknown alert feedback status = %d, want 404", rec.Code)
	}

	bad := `{"corrected_decision":"Shrug","analyst_id":"analyst-7"}`
	if rec := env.do(http.MethodPost, "/api/v1/triage/a-1/feedback", bad, testToken); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid decision status = %d, want 400", rec.Code)
	}

	list := env.do(http.MethodGet, "/api/v1/triage/a-1/feedback", "", "")
	if list.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", list.Code)
	}
	var fbs []triage.Feedback
	if err := json.Unmarshal(list.Body.Bytes(), &fbs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fbs) != 1 || fbs[0].CorrectedDecision != triage.DecisionEscalate {
		t.Errorf("feedback = %+v", fbs)
	}

	empty := env.do(http.MethodGet, "/api/v1/triage/other/feedback", "", "")
	if empty.Code != http.StatusOK || strings.TrimSpace(empty.Body.String()) != "[]" {
		t.Errorf("empty list = %d %q, want 200 []", empty.Code, empty.Body.String())
	}
}
