package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sydlexius/cadence/internal/api/middleware"
	"github.com/sydlexius/cadence/internal/resolve"
	"github.com/sydlexius/cadence/internal/store"
)

// handleReviewAction records a human ruling on a flagged identity mismatch.
func (r *Router) handleReviewAction(w http.ResponseWriter, req *http.Request) {
	trackID := req.PathValue("id")
	if strings.TrimSpace(trackID) == "" {
		writeError(w, http.StatusBadRequest, "track id is required")
		return
	}

	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	principal, ok := middleware.PrincipalFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var err error
	switch body.Action {
	case "confirm_match":
		err = r.reviewer.ConfirmMatch(req.Context(), trackID, principal)
	case "confirm_mismatch":
		err = r.reviewer.ConfirmMismatch(req.Context(), trackID, principal)
	default:
		writeError(w, http.StatusBadRequest, "action must be confirm_match or confirm_mismatch")
		return
	}
	if err != nil {
		r.writeReviewError(w, trackID, err)
		return
	}

	rec, err := r.store.Get(req.Context(), trackID)
	if err != nil || rec == nil {
		writeError(w, http.StatusInternalServerError, "reading record after review failed")
		return
	}
	writeJSON(w, http.StatusOK, analysisFromRecord(rec))
}

// handleReviewClear re-opens review on a track by erasing a prior ruling.
func (r *Router) handleReviewClear(w http.ResponseWriter, req *http.Request) {
	trackID := req.PathValue("id")
	if strings.TrimSpace(trackID) == "" {
		writeError(w, http.StatusBadRequest, "track id is required")
		return
	}

	principal, ok := middleware.PrincipalFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := r.reviewer.Clear(req.Context(), trackID, principal); err != nil {
		r.writeReviewError(w, trackID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) writeReviewError(w http.ResponseWriter, trackID string, err error) {
	switch {
	case errors.Is(err, resolve.ErrForbidden):
		writeError(w, http.StatusForbidden, "admin role required")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "no analysis record for track "+trackID)
	default:
		r.logger.Error("review action failed", "track_id", trackID, "error", err)
		writeError(w, http.StatusInternalServerError, "review action failed")
	}
}
