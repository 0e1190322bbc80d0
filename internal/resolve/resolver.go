package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/sydlexius/cadence/internal/detection"
	"github.com/sydlexius/cadence/internal/event"
	"github.com/sydlexius/cadence/internal/preview"
	"github.com/sydlexius/cadence/internal/store"
	"github.com/sydlexius/cadence/internal/track"
)

// PreviewResolver walks the preview source chain for one track.
type PreviewResolver interface {
	Resolve(ctx context.Context, id track.Identity) (*preview.Resolution, error)
}

// Detector runs the estimation algorithms against one excerpt.
type Detector interface {
	Analyze(ctx context.Context, previewURL string) ([]detection.RawEstimate, error)
}

// Result is the outcome of one resolution, ready for serialization.
type Result struct {
	TrackID   string
	Selection Selection
	Cached    bool
}

// Resolver orchestrates the full pipeline: cache read, preview resolution,
// detection, normalization, cache merge, selection. Concurrent calls for the
// same track share one in-flight pipeline; different tracks never block each
// other.
type Resolver struct {
	store      *store.Service
	previews   PreviewResolver
	detector   Detector
	bus        *event.Bus
	logger     *slog.Logger
	group      singleflight.Group
	ttl        time.Duration
	failureTTL time.Duration
}

// NewResolver creates the pipeline resolver.
func NewResolver(st *store.Service, pv PreviewResolver, det Detector, bus *event.Bus, ttl, failureTTL time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	if failureTTL <= 0 {
		failureTTL = 24 * time.Hour
	}
	return &Resolver{
		store:      st,
		previews:   pv,
		detector:   det,
		bus:        bus,
		logger:     logger.With(slog.String("component", "resolver")),
		ttl:        ttl,
		failureTTL: failureTTL,
	}
}

// Resolve serves a track's analysis, from cache when fresh, otherwise by
// running the pipeline. Returns a typed validation error for contract
// violations and detection.ErrUnavailable when the estimation service is
// down; cached failure states come back as a Result whose Selection carries
// the error string.
func (r *Resolver) Resolve(ctx context.Context, ct track.CatalogTrack) (*Result, error) {
	id, err := track.Extract(ct)
	if err != nil {
		return nil, err
	}
	return r.ResolveIdentity(ctx, id)
}

// ResolveIdentity is Resolve for a pre-extracted identity.
func (r *Resolver) ResolveIdentity(ctx context.Context, id track.Identity) (*Result, error) {
	rec, err := r.store.Get(ctx, id.TrackID)
	if err != nil {
		return nil, err
	}
	if store.Fresh(rec, time.Now().UTC(), r.ttl, r.failureTTL) {
		return &Result{TrackID: id.TrackID, Selection: Select(rec), Cached: true}, nil
	}

	// The flight outlives any single caller: late joiners still get the
	// result after the first caller disconnects.
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := r.group.Do(id.TrackID, func() (any, error) {
		return r.runPipeline(flightCtx, id)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug("joined in-flight resolution", slog.String("track_id", id.TrackID))
	}
	return v.(*Result), nil
}

// runPipeline executes one full resolution and merges the outcome.
func (r *Resolver) runPipeline(ctx context.Context, id track.Identity) (*Result, error) {
	prior, err := r.store.Get(ctx, id.TrackID)
	if err != nil {
		return nil, err
	}

	upd := store.Update{
		Artist: sptrOf(id.PrimaryArtist()),
		Title:  sptrOf(id.Title),
	}
	if id.ISRC != "" {
		upd.ISRC = sptrOf(id.ISRC)
	}

	res, perr := r.previews.Resolve(ctx, id)
	if perr != nil && !errors.Is(perr, preview.ErrNoPreview) {
		return nil, perr
	}
	upd.Candidates = toStoreCandidates(res.Attempts)

	if perr != nil {
		// Terminal: cache the failure so repeated callers back off until the
		// short failure TTL lapses.
		upd.Source = sptrOf(string(preview.SourceNone))
		upd.Error = sptrOf(preview.ErrNoPreview.Error())
		if err := r.store.Merge(ctx, id.TrackID, upd); err != nil {
			return nil, err
		}
		r.bus.Publish(event.Event{
			Type: event.ResolveFailed,
			Data: map[string]any{"track_id": id.TrackID, "reason": "no_preview"},
		})
		return r.readBack(ctx, id.TrackID)
	}

	winner := res.Winner
	estimates, derr := r.detector.Analyze(ctx, winner.URL)
	if derr != nil {
		// Transient by contract: record the preview provenance but no
		// terminal error, so the next caller retries detection immediately.
		// The preview succeeded, so any cached no-preview failure from an
		// earlier run no longer describes the record and must not ride the
		// bumped updated_at into a renewed failure TTL.
		upd.Source = sptrOf(string(winner.Source))
		upd.Error = sptrOf("")
		if err := r.store.Merge(ctx, id.TrackID, upd); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("analyzing excerpt for %s: %w", id.TrackID, derr)
	}

	for _, est := range estimates {
		ar := store.AlgorithmResult{Algorithm: est.Algorithm}
		raw := est.TempoRaw
		norm := detection.NormalizeTempo(raw)
		conf := est.TempoConfidence
		ar.TempoRaw = &raw
		ar.Tempo = &norm
		ar.TempoConf = &conf
		if est.Key != "" {
			key, scale, kc := est.Key, est.Scale, est.KeyConfidence
			ar.Key = &key
			ar.Scale = &scale
			ar.KeyConf = &kc
		}
		upd.Results = append(upd.Results, ar)
	}

	mismatch := DetectMismatch(id, winner)
	upd.Source = sptrOf(string(winner.Source))
	upd.Error = sptrOf("")
	upd.Mismatch = &mismatch

	if err := r.store.Merge(ctx, id.TrackID, upd); err != nil {
		return nil, err
	}

	if mismatch && (prior == nil || (!prior.ISRCMismatch && prior.ReviewStatus == store.ReviewNone)) {
		r.logger.Warn("identity mismatch flagged",
			slog.String("track_id", id.TrackID),
			slog.String("source", string(winner.Source)),
			slog.String("detected_isrc", winner.DetectedISRC))
		r.bus.Publish(event.Event{
			Type: event.ReviewNeeded,
			Data: map[string]any{
				"track_id":      id.TrackID,
				"source":        string(winner.Source),
				"detected_isrc": winner.DetectedISRC,
			},
		})
	}

	r.bus.Publish(event.Event{
		Type: event.ResolveCompleted,
		Data: map[string]any{"track_id": id.TrackID, "source": string(winner.Source)},
	})

	return r.readBack(ctx, id.TrackID)
}

// readBack serves the merged record through the selector.
func (r *Resolver) readBack(ctx context.Context, trackID string) (*Result, error) {
	rec, err := r.store.Get(ctx, trackID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("record vanished after merge: %s", trackID)
	}
	return &Result{TrackID: trackID, Selection: Select(rec), Cached: false}, nil
}

// ResolveMany runs the pipeline for a set of tracks with bounded
// parallelism. Per-track failures land in the error slot of the
// corresponding result index; one bad track never aborts its siblings.
func (r *Resolver) ResolveMany(ctx context.Context, tracks []track.CatalogTrack, parallelism int64) ([]BatchItem, error) {
	if parallelism <= 0 {
		parallelism = 4
	}
	sem := semaphore.NewWeighted(parallelism)
	out := make([]BatchItem, len(tracks))

	var wg sync.WaitGroup
	for i, ct := range tracks {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(i int, ct track.CatalogTrack) {
			defer wg.Done()
			defer sem.Release(1)

			res, err := r.Resolve(ctx, ct)
			out[i] = BatchItem{TrackID: ct.ID, Result: res}
			if err != nil {
				out[i].Err = err.Error()
			}
		}(i, ct)
	}
	wg.Wait()

	return out, nil
}

// BatchItem pairs one track of a bulk request with its outcome.
type BatchItem struct {
	TrackID string
	Result  *Result
	Err     string
}

func sptrOf(s string) *string { return &s }

func toStoreCandidates(attempts []preview.Candidate) []store.Candidate {
	out := make([]store.Candidate, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, store.Candidate{
			URL:            a.URL,
			Source:         string(a.Source),
			Success:        a.Success,
			DetectedISRC:   a.DetectedISRC,
			DetectedTitle:  a.DetectedTitle,
			DetectedArtist: a.DetectedArtist,
			Err:            a.Err,
		})
	}
	return out
}
