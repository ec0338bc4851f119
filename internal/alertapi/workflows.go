package alertapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/warden/internal/orchestrator"
)

func (a *API) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	wf, ok := a.workflows.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (a *API) handleGetAuditTrail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	trail, err := a.auditor.Trail(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to read audit trail", "workflow_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(trail) == 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

func (a *API) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := a.workflows.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, orchestrator.ErrUnknownWorkflow):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, orchestrator.ErrTooLateToCancel):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		a.logger.Error(r.Context(), err, "workflow cancel failed", "workflow_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		wf, _ := a.workflows.Get(id)
		writeJSON(w, http.StatusOK, wf)
	}
}
