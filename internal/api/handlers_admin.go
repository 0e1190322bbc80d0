package api

import (
	"encoding/json"
	"net/http"
)

// handleInvalidate deletes cache records so the next read re-runs the full
// pipeline. Admin only; intended for catalog corrections and bad-data
// cleanup.
func (r *Router) handleInvalidate(w http.ResponseWriter, req *http.Request) {
	var body struct {
		TrackIDs []string `json:"track_ids"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.TrackIDs) == 0 {
		writeError(w, http.StatusBadRequest, "track_ids is required")
		return
	}

	n, err := r.store.Invalidate(req.Context(), body.TrackIDs)
	if err != nil {
		r.logger.Error("invalidation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "invalidation failed")
		return
	}
	r.logger.Info("records invalidated", "count", n)
	writeJSON(w, http.StatusOK, map[string]int64{"invalidated": n})
}
