package deezer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/sydlexius/cadence/internal/preview"
	"github.com/sydlexius/cadence/internal/track"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("loading fixture %s: %v", name, err)
	}
	return data
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == "/search":
			q := r.URL.Query().Get("q")
			switch q {
			case "nobody nothing":
				w.Write([]byte(`{"data":[],"total":0}`))
			case "throttle me":
				w.WriteHeader(http.StatusTooManyRequests)
			default:
				w.Write(loadFixture(t, "search_track.json"))
			}

		case strings.HasPrefix(r.URL.Path, "/track/"):
			id := strings.TrimPrefix(r.URL.Path, "/track/")
			if id == "3135554" {
				w.Write(loadFixture(t, "track_detail.json"))
				return
			}
			w.WriteHeader(http.StatusNotFound)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	limiter := preview.NewRateLimiterMap()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewWithBaseURL(limiter, logger, baseURL)
}

func TestName(t *testing.T) {
	a := newTestAdapter(t, "http://localhost")
	if a.Name() != preview.SourceDeezerSearch {
		t.Errorf("expected %q, got %q", preview.SourceDeezerSearch, a.Name())
	}
}

func TestLookup(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	cand, err := a.Lookup(context.Background(), track.Identity{
		TrackID: "t1",
		Title:   "One More Time",
		Artists: []string{"Daft Punk"},
	})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !cand.Success {
		t.Error("expected a successful candidate")
	}
	// The first hit has no preview and must be skipped.
	if !strings.Contains(cand.URL, "one-more-time-preview") {
		t.Errorf("url = %q", cand.URL)
	}
	if cand.DetectedArtist != "Daft Punk" || cand.DetectedTitle != "One More Time" {
		t.Errorf("detected identity = %q / %q", cand.DetectedArtist, cand.DetectedTitle)
	}
	if cand.DetectedISRC != "GBDUW0000059" {
		t.Errorf("detected ISRC = %q, want value from track detail", cand.DetectedISRC)
	}
}

func TestLookupNoMatch(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	_, err := a.Lookup(context.Background(), track.Identity{
		TrackID: "t1",
		Title:   "nothing",
		Artists: []string{"nobody"},
	})
	var noMatch *preview.ErrNoMatch
	if !errors.As(err, &noMatch) {
		t.Fatalf("expected ErrNoMatch, got %T: %v", err, err)
	}
}

func TestLookupThrottled(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	_, err := a.Lookup(context.Background(), track.Identity{
		TrackID: "t1",
		Title:   "me",
		Artists: []string{"throttle"},
	})
	var unavail *preview.ErrSourceUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("expected ErrSourceUnavailable, got %T: %v", err, err)
	}
}

func TestLookupSkipsWithoutQuery(t *testing.T) {
	a := newTestAdapter(t, "http://localhost")

	_, err := a.Lookup(context.Background(), track.Identity{TrackID: "t1"})
	if !errors.Is(err, preview.ErrSkip) {
		t.Fatalf("expected ErrSkip, got %v", err)
	}
}
