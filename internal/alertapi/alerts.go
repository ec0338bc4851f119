package alertapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/triage"
)

// handleSubmitAlert ingests one raw alert document. Accepted alerts get
// 202 and continue triage async; resubmission of a known source alert
// returns the existing workflow with 200.
func (a *API) handleSubmitAlert(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	res, err := a.svc.Submit(r.Context(), raw)
	if err != nil {
		if errors.Is(err, alert.ErrMalformed) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.logger.Error(r.Context(), err, "alert submit failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusAccepted
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (a *API) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")

	list, err := a.svc.ListFeedback(r.Context(), alertID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list feedback", "alert_id", alertID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []triage.Feedback{}
	}
	writeJSON(w, http.StatusOK, list)
}

type feedbackRequest struct {
	CorrectedDecision string `json:"corrected_decision"`
	AnalystID         string `json:"analyst_id"`
	Comment           string `json:"comment"`
}

func (a *API) handlePostFeedback(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")

	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.AnalystID == "" {
		writeError(w, http.StatusBadRequest, "analyst_id is required")
		return
	}

	if _, ok, err := a.svc.Get(r.Context(), alertID); err != nil {
		a.logger.Error(r.Context(), err, "failed to get triage record", "alert_id", alertID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	f, err := a.svc.Feedback(r.Context(), alertID, triage.Decision(req.CorrectedDecision), req.AnalystID, req.Comment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, f)
}
