package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sydlexius/cadence/internal/detection"
	"github.com/sydlexius/cadence/internal/event"
)

// handleSubmitBatch forwards a set of excerpt URLs to the estimation
// service and returns the batch handle.
func (r *Router) handleSubmitBatch(w http.ResponseWriter, req *http.Request) {
	var body struct {
		URLs []string `json:"urls"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	urls := make([]string, 0, len(body.URLs))
	for _, u := range body.URLs {
		if t := strings.TrimSpace(u); t != "" {
			urls = append(urls, t)
		}
	}
	if len(urls) == 0 {
		writeError(w, http.StatusBadRequest, "urls is required")
		return
	}

	batchID, err := r.detection.SubmitBatch(req.Context(), urls)
	if err != nil {
		r.writeDetectionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID})
}

// handleBatchResults streams batch results to the caller as NDJSON, one
// object per line, flushed per record so consumers see progress as the
// estimation service produces it.
func (r *Router) handleBatchResults(w http.ResponseWriter, req *http.Request) {
	batchID := req.PathValue("id")
	if strings.TrimSpace(batchID) == "" {
		writeError(w, http.StatusBadRequest, "batch id is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Large batches stream for longer than the server's global write
	// timeout; lift the deadline for this response only.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		r.logger.Debug("write deadline not adjustable", "error", err)
	}

	var started bool
	enc := json.NewEncoder(w)
	count := 0
	err := r.detection.StreamResults(req.Context(), batchID, func(res detection.BatchResult) error {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
		flusher.Flush()
		count++
		return nil
	})
	if err != nil {
		if !started {
			r.writeDetectionError(w, err)
			return
		}
		// Headers are gone; the truncated stream is the only signal left.
		r.logger.Error("result stream aborted",
			"batch_id", batchID, "delivered", count, "error", err)
		return
	}
	if !started {
		// Empty batch: still a well-formed NDJSON response.
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}

	r.bus.Publish(event.Event{
		Type: event.BatchCompleted,
		Data: map[string]any{"batch_id": batchID, "results": count},
	})
}

// handleBatchStatus proxies the polled batch state, the fallback for
// consumers whose result stream was interrupted.
func (r *Router) handleBatchStatus(w http.ResponseWriter, req *http.Request) {
	batchID := req.PathValue("id")
	if strings.TrimSpace(batchID) == "" {
		writeError(w, http.StatusBadRequest, "batch id is required")
		return
	}

	info, err := r.detection.BatchStatus(req.Context(), batchID)
	if err != nil {
		r.writeDetectionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (r *Router) writeDetectionError(w http.ResponseWriter, err error) {
	var unavail *detection.ErrUnavailable
	if errors.As(err, &unavail) {
		writeError(w, http.StatusServiceUnavailable, "detection service unavailable, retry later")
		return
	}
	r.logger.Error("detection request failed", "error", err)
	writeError(w, http.StatusBadGateway, "detection request failed")
}
