package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sydlexius/cadence/internal/detection"
	"github.com/sydlexius/cadence/internal/store"
	"github.com/sydlexius/cadence/internal/track"
)

// maxResolveBatch bounds one bulk resolve request.
const maxResolveBatch = 200

// handleGetAnalysis resolves one track. Identity fields beyond the track ID
// come from the stored record, overridable via query parameters (isrc,
// title, artist, preview_url) for tracks the engine has not seen yet.
func (r *Router) handleGetAnalysis(w http.ResponseWriter, req *http.Request) {
	trackID := req.PathValue("id")
	if strings.TrimSpace(trackID) == "" {
		writeError(w, http.StatusBadRequest, "track id is required")
		return
	}

	id := track.Identity{TrackID: trackID}
	if rec, err := r.store.Get(req.Context(), trackID); err == nil && rec != nil {
		if rec.ISRC != nil {
			id.ISRC = *rec.ISRC
		}
		id.Title = rec.Title
		if rec.Artist != "" {
			id.Artists = []string{rec.Artist}
		}
	}

	q := req.URL.Query()
	if v := q.Get("isrc"); v != "" {
		id.ISRC = strings.ToUpper(strings.TrimSpace(v))
	}
	if v := q.Get("title"); v != "" {
		id.Title = v
	}
	if v := q.Get("artist"); v != "" {
		id.Artists = []string{v}
	}
	if v := q.Get("preview_url"); v != "" {
		id.CatalogPreviewURL = v
	}

	res, err := r.resolver.ResolveIdentity(req.Context(), id)
	if err != nil {
		r.writeResolveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysisFromSelection(res.Selection, res.Cached))
}

// handleISRCBatch serves cached analyses for up to 200 ISRCs in one store
// round trip. ISRCs without a record come back as {cached:false}; nothing is
// resolved on this path.
func (r *Router) handleISRCBatch(w http.ResponseWriter, req *http.Request) {
	var body struct {
		ISRCs []string `json:"isrcs"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.ISRCs) == 0 {
		writeError(w, http.StatusBadRequest, "isrcs is required")
		return
	}
	if len(body.ISRCs) > store.MaxBatchISRCs {
		writeError(w, http.StatusBadRequest, "at most 200 isrcs per request")
		return
	}

	records, err := r.store.GetBatchByISRC(req.Context(), body.ISRCs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "batch lookup failed")
		return
	}

	out := make(map[string]analysisResponse, len(body.ISRCs))
	for _, raw := range body.ISRCs {
		isrc := strings.ToUpper(strings.TrimSpace(raw))
		if rec, ok := records[isrc]; ok {
			out[isrc] = analysisFromRecord(rec)
		} else {
			out[isrc] = analysisResponse{Cached: false, Source: "none"}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type ingestProvenance struct {
	Source         string `json:"source"`
	URL            string `json:"url,omitempty"`
	DetectedISRC   string `json:"detected_isrc,omitempty"`
	DetectedTitle  string `json:"detected_title,omitempty"`
	DetectedArtist string `json:"detected_artist,omitempty"`
}

type ingestResult struct {
	Algorithm     string   `json:"algorithm"`
	TempoRaw      float64  `json:"tempo_raw"`
	Tempo         *float64 `json:"tempo,omitempty"`
	Confidence    float64  `json:"confidence"`
	Key           string   `json:"key,omitempty"`
	Scale         string   `json:"scale,omitempty"`
	KeyConfidence float64  `json:"key_confidence,omitempty"`
}

// handleIngest is the write path for externally computed results. The tempo
// is normalized here when the caller supplies only the raw value.
func (r *Router) handleIngest(w http.ResponseWriter, req *http.Request) {
	var body struct {
		TrackID    string            `json:"track_id"`
		Provenance *ingestProvenance `json:"provenance"`
		Result     *ingestResult     `json:"result"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch {
	case strings.TrimSpace(body.TrackID) == "":
		writeError(w, http.StatusBadRequest, "track_id is required")
		return
	case body.Result == nil:
		writeError(w, http.StatusBadRequest, "result is required")
		return
	case body.Provenance == nil || strings.TrimSpace(body.Provenance.Source) == "":
		writeError(w, http.StatusBadRequest, "provenance source is required")
		return
	case !detection.KnownAlgorithm(body.Result.Algorithm):
		writeError(w, http.StatusBadRequest, "unknown algorithm "+body.Result.Algorithm)
		return
	}

	res := body.Result
	tempo := detection.NormalizeTempo(res.TempoRaw)
	if res.Tempo != nil {
		tempo = *res.Tempo
	}

	ar := store.AlgorithmResult{
		Algorithm: res.Algorithm,
		TempoRaw:  &res.TempoRaw,
		Tempo:     &tempo,
		TempoConf: &res.Confidence,
	}
	if res.Key != "" {
		ar.Key = &res.Key
		ar.Scale = &res.Scale
		ar.KeyConf = &res.KeyConfidence
	}

	// A successful external result supersedes any cached failure state.
	upd := store.Update{
		Results: []store.AlgorithmResult{ar},
		Source:  &body.Provenance.Source,
		Error:   strPtr(""),
		Candidates: []store.Candidate{{
			URL:            body.Provenance.URL,
			Source:         body.Provenance.Source,
			Success:        true,
			DetectedISRC:   strings.ToUpper(body.Provenance.DetectedISRC),
			DetectedTitle:  body.Provenance.DetectedTitle,
			DetectedArtist: body.Provenance.DetectedArtist,
		}},
	}
	if err := r.store.Merge(req.Context(), body.TrackID, upd); err != nil {
		writeError(w, http.StatusInternalServerError, "merging result failed")
		return
	}

	rec, err := r.store.Get(req.Context(), body.TrackID)
	if err != nil || rec == nil {
		writeError(w, http.StatusInternalServerError, "reading merged record failed")
		return
	}
	writeJSON(w, http.StatusOK, analysisFromRecord(rec))
}

// handleResolveBatch runs the full pipeline for a set of catalog tracks with
// bounded parallelism.
func (r *Router) handleResolveBatch(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Tracks      []track.CatalogTrack `json:"tracks"`
		Parallelism int64                `json:"parallelism,omitempty"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Tracks) == 0 {
		writeError(w, http.StatusBadRequest, "tracks is required")
		return
	}
	if len(body.Tracks) > maxResolveBatch {
		writeError(w, http.StatusBadRequest, "at most 200 tracks per request")
		return
	}

	items, err := r.resolver.ResolveMany(req.Context(), body.Tracks, body.Parallelism)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "bulk resolution failed")
		return
	}

	type itemResponse struct {
		TrackID  string            `json:"track_id"`
		Error    string            `json:"error,omitempty"`
		Analysis *analysisResponse `json:"analysis,omitempty"`
	}
	out := make([]itemResponse, 0, len(items))
	for _, it := range items {
		ir := itemResponse{TrackID: it.TrackID, Error: it.Err}
		if it.Result != nil {
			a := analysisFromSelection(it.Result.Selection, it.Result.Cached)
			ir.Analysis = &a
		}
		out = append(out, ir)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// writeResolveError maps pipeline errors onto the taxonomy: contract
// violations are 400, a down estimation service is 503 retryable.
func (r *Router) writeResolveError(w http.ResponseWriter, err error) {
	var unavail *detection.ErrUnavailable
	switch {
	case errors.Is(err, track.ErrMissingTrackID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &unavail):
		writeError(w, http.StatusServiceUnavailable, "detection service unavailable, retry later")
	default:
		r.logger.Error("resolution failed", "error", err)
		writeError(w, http.StatusInternalServerError, "resolution failed")
	}
}
