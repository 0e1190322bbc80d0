package detection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	return NewWithTokenSource(Config{BaseURL: baseURL, Timeout: 5 * time.Second}, ts, logger)
}

func requireBearer(t *testing.T, r *http.Request) {
	t.Helper()
	if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)
		if r.URL.Path != "/v1/analyze" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.PreviewURL == "" {
			t.Error("request carried no preview URL")
		}
		json.NewEncoder(w).Encode(analyzeResponse{Results: []RawEstimate{
			{Algorithm: AlgorithmEssentia, TempoRaw: 64.25, TempoConfidence: 0.92, Key: "F#", Scale: "minor", KeyConfidence: 0.81},
			{Algorithm: AlgorithmAubio, TempoRaw: 128.6, TempoConfidence: 0.74},
		}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	estimates, err := c.Analyze(context.Background(), "https://cdn.example.com/p.m4a")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(estimates) != 2 {
		t.Fatalf("estimates = %d, want 2", len(estimates))
	}
	if estimates[0].Algorithm != AlgorithmEssentia || estimates[0].TempoRaw != 64.25 {
		t.Errorf("first estimate = %+v", estimates[0])
	}
	if estimates[1].Algorithm != AlgorithmAubio {
		t.Errorf("second estimate = %+v", estimates[1])
	}
}

func TestAnalyzeRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(analyzeResponse{Results: []RawEstimate{
			{Algorithm: AlgorithmEssentia, TempoRaw: 120},
		}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	estimates, err := c.Analyze(context.Background(), "https://cdn.example.com/p.m4a")
	if err != nil {
		t.Fatalf("Analyze after transient failures: %v", err)
	}
	if len(estimates) != 1 {
		t.Fatalf("estimates = %d", len(estimates))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3 (two failures then success)", got)
	}
}

func TestAnalyzePersistentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Analyze(context.Background(), "https://cdn.example.com/p.m4a")
	var unavail *ErrUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("expected ErrUnavailable, got %T: %v", err, err)
	}
	// Initial attempt plus 3 retries.
	if got := calls.Load(); got != 4 {
		t.Errorf("calls = %d, want 4", got)
	}
}

func TestAnalyzeClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Analyze(context.Background(), "https://cdn.example.com/p.m4a")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (4xx must not be retried)", got)
	}
}

func TestSubmitBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)
		if r.URL.Path != "/v1/batches" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(req.URLs) != 2 {
			t.Errorf("urls = %d, want 2", len(req.URLs))
		}
		json.NewEncoder(w).Encode(batchCreated{ID: "b-42"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	id, err := c.SubmitBatch(context.Background(), []string{"u1", "u2"})
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if id != "b-42" {
		t.Errorf("id = %q", id)
	}
}

func TestStreamResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)
		if r.URL.Path != "/v1/batches/b-42/results" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for i := 0; i < 3; i++ {
			rec := BatchResult{
				PreviewURL: fmt.Sprintf("u%d", i),
				Estimates:  []RawEstimate{{Algorithm: AlgorithmEssentia, TempoRaw: 100 + float64(i)}},
			}
			json.NewEncoder(w).Encode(rec)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	var seen []BatchResult
	err := c.StreamResults(context.Background(), "b-42", func(rec BatchResult) error {
		seen = append(seen, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResults: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("records = %d, want 3", len(seen))
	}
	if seen[2].PreviewURL != "u2" {
		t.Errorf("last record = %+v", seen[2])
	}
}

func TestStreamResultsCallbackStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		for i := 0; i < 10; i++ {
			json.NewEncoder(w).Encode(BatchResult{PreviewURL: fmt.Sprintf("u%d", i)})
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	stop := errors.New("enough")
	count := 0
	err := c.StreamResults(context.Background(), "b-42", func(BatchResult) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error to propagate, got %v", err)
	}
	if count != 2 {
		t.Errorf("callback ran %d times, want 2", count)
	}
}

func TestBatchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)
		if r.URL.Path != "/v1/batches/b-42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(BatchInfo{
			ID:        "b-42",
			Total:     3,
			Completed: 2,
			Done:      false,
			Results: []BatchResult{
				{PreviewURL: "u0"},
				{PreviewURL: "u1"},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	info, err := c.BatchStatus(context.Background(), "b-42")
	if err != nil {
		t.Fatalf("BatchStatus: %v", err)
	}
	if info.Completed != 2 || info.Done {
		t.Errorf("info = %+v", info)
	}
	if len(info.Results) != 2 {
		t.Errorf("results = %d", len(info.Results))
	}
}
