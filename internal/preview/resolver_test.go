package preview

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/sydlexius/cadence/internal/track"
)

type fakeSource struct {
	name  SourceName
	cand  *Candidate
	err   error
	calls int
}

func (f *fakeSource) Name() SourceName { return f.name }

func (f *fakeSource) Lookup(_ context.Context, _ track.Identity) (*Candidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.cand, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestResolveFirstSuccessWins(t *testing.T) {
	first := &fakeSource{name: SourceCatalog, cand: &Candidate{URL: "u1", Source: SourceCatalog, Success: true}}
	second := &fakeSource{name: SourceITunesISRC, cand: &Candidate{URL: "u2", Source: SourceITunesISRC, Success: true}}

	r := NewResolver([]Source{first, second}, time.Second, testLogger())
	res, err := r.Resolve(context.Background(), track.Identity{TrackID: "t1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Winner == nil || res.Winner.URL != "u1" {
		t.Fatalf("winner = %+v, want catalog candidate", res.Winner)
	}
	if second.calls != 0 {
		t.Error("lower-priority source was consulted before the higher one was exhausted")
	}
	if len(res.Attempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(res.Attempts))
	}
}

func TestResolveFallsThroughFailures(t *testing.T) {
	skip := &fakeSource{name: SourceCatalog, err: ErrSkip}
	down := &fakeSource{name: SourceITunesISRC, err: &ErrSourceUnavailable{Source: SourceITunesISRC, Cause: errors.New("timeout")}}
	miss := &fakeSource{name: SourceITunesSearch, err: &ErrNoMatch{Source: SourceITunesSearch}}
	hit := &fakeSource{name: SourceDeezerSearch, cand: &Candidate{URL: "u4", Source: SourceDeezerSearch, Success: true}}

	r := NewResolver([]Source{skip, down, miss, hit}, time.Second, testLogger())
	res, err := r.Resolve(context.Background(), track.Identity{TrackID: "t1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Winner == nil || res.Winner.Source != SourceDeezerSearch {
		t.Fatalf("winner = %+v", res.Winner)
	}
	// Skipped sources are not attempts; failures are.
	if len(res.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(res.Attempts))
	}
	if res.Attempts[0].Success || res.Attempts[0].Err == "" {
		t.Errorf("first attempt should be a recorded failure: %+v", res.Attempts[0])
	}
	if !res.Attempts[2].Success {
		t.Errorf("final attempt should be the success: %+v", res.Attempts[2])
	}
}

func TestResolveAllExhausted(t *testing.T) {
	a := &fakeSource{name: SourceITunesSearch, err: &ErrNoMatch{Source: SourceITunesSearch}}
	b := &fakeSource{name: SourceDeezerSearch, err: &ErrNoMatch{Source: SourceDeezerSearch}}

	r := NewResolver([]Source{a, b}, time.Second, testLogger())
	res, err := r.Resolve(context.Background(), track.Identity{TrackID: "t1"})
	if !errors.Is(err, ErrNoPreview) {
		t.Fatalf("expected ErrNoPreview, got %v", err)
	}
	if res.Winner != nil {
		t.Errorf("winner should be nil, got %+v", res.Winner)
	}
	if len(res.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2 recorded failures", len(res.Attempts))
	}
}

func TestResolveContextCanceled(t *testing.T) {
	src := &fakeSource{name: SourceDeezerSearch, cand: &Candidate{URL: "u", Source: SourceDeezerSearch, Success: true}}
	r := NewResolver([]Source{src}, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Resolve(ctx, track.Identity{TrackID: "t1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if src.calls != 0 {
		t.Error("source should not be consulted after cancellation")
	}
}

func TestCatalogSource(t *testing.T) {
	s := NewCatalogSource()

	_, err := s.Lookup(context.Background(), track.Identity{TrackID: "t1"})
	if !errors.Is(err, ErrSkip) {
		t.Fatalf("expected ErrSkip without a catalog URL, got %v", err)
	}

	cand, err := s.Lookup(context.Background(), track.Identity{
		TrackID:           "t1",
		ISRC:              "USX123",
		Title:             "Song",
		Artists:           []string{"Artist"},
		CatalogPreviewURL: "https://cdn.example.com/p.m4a",
	})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !cand.Success || cand.URL == "" {
		t.Errorf("candidate = %+v", cand)
	}
	if cand.DetectedISRC != "USX123" {
		t.Errorf("catalog candidate should echo the track's own identity, got %+v", cand)
	}
}
