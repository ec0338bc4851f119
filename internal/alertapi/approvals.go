package alertapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/warden/internal/approval"
)

func (a *API) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	pending := a.approvals.Pending()
	if pending == nil {
		pending = []*approval.Request{}
	}
	writeJSON(w, http.StatusOK, pending)
}

type resolveRequest struct {
	Outcome  string `json:"outcome"`
	Resolver string `json:"resolver"`
	Comment  string `json:"comment"`
}

// handleResolveApproval records an approve or reject. Exactly-once: a
// second resolution attempt gets 409 regardless of outcome.
func (a *API) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Resolver == "" {
		writeError(w, http.StatusBadRequest, "resolver is required")
		return
	}

	resolved, err := a.approvals.Resolve(r.Context(), id, approval.Status(req.Outcome), req.Resolver, req.Comment)
	switch {
	case errors.Is(err, approval.ErrUnknownRequest):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, approval.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, approval.ErrInvalidOutcome):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		a.logger.Error(r.Context(), err, "approval resolve failed", "request_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, resolved)
	}
}
