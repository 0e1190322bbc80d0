package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sydlexius/cadence/internal/resolve"
	"github.com/sydlexius/cadence/internal/store"
	"github.com/sydlexius/cadence/internal/version"
)

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// analysisResponse is the wire shape of one track's authoritative analysis.
type analysisResponse struct {
	Tempo           *float64 `json:"tempo"`
	TempoRaw        *float64 `json:"tempo_raw,omitempty"`
	TempoConfidence *float64 `json:"tempo_confidence,omitempty"`
	Key             *string  `json:"key,omitempty"`
	Scale           *string  `json:"scale,omitempty"`
	KeyConfidence   *float64 `json:"key_confidence,omitempty"`
	Source          string   `json:"source"`
	Cached          bool     `json:"cached"`
	Error           string   `json:"error,omitempty"`
}

func analysisFromSelection(sel resolve.Selection, cached bool) analysisResponse {
	return analysisResponse{
		Tempo:           sel.Tempo,
		TempoRaw:        sel.TempoRaw,
		TempoConfidence: sel.TempoConfidence,
		Key:             sel.Key,
		Scale:           sel.Scale,
		KeyConfidence:   sel.KeyConfidence,
		Source:          sel.Source,
		Cached:          cached,
		Error:           sel.Err,
	}
}

func analysisFromRecord(rec *store.CacheRecord) analysisResponse {
	return analysisFromSelection(resolve.Select(rec), true)
}

func strPtr(s string) *string { return &s }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
