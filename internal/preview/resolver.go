package preview

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sydlexius/cadence/internal/track"
)

// Resolution is the outcome of walking the source chain for one track.
type Resolution struct {
	// Winner is the first successful candidate, nil when every source failed.
	Winner *Candidate
	// Attempts lists every source tried this run, in chain order, including
	// failures. It replaces (not extends) any previously stored list.
	Attempts []Candidate
}

// Resolver walks preview sources strictly in priority order and returns the
// first usable excerpt. Sources are never tried in parallel: a lower-priority
// source must not be consulted before every higher-priority one has been
// exhausted.
type Resolver struct {
	chain          []Source
	attemptTimeout time.Duration
	logger         *slog.Logger
}

// NewResolver creates a Resolver over the given ordered source chain.
func NewResolver(chain []Source, attemptTimeout time.Duration, logger *slog.Logger) *Resolver {
	if attemptTimeout <= 0 {
		attemptTimeout = 5 * time.Second
	}
	return &Resolver{
		chain:          chain,
		attemptTimeout: attemptTimeout,
		logger:         logger.With(slog.String("component", "preview-resolver")),
	}
}

// Resolve tries each source in order and stops at the first success. Every
// non-skipped attempt is recorded. When all sources are exhausted it returns
// the attempt list alongside ErrNoPreview.
func (r *Resolver) Resolve(ctx context.Context, id track.Identity) (*Resolution, error) {
	res := &Resolution{}

	for _, src := range r.chain {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		cand, err := src.Lookup(attemptCtx, id)
		cancel()

		if errors.Is(err, ErrSkip) {
			continue
		}

		if err != nil {
			// A timeout or provider failure is a failed attempt, not a fatal
			// error; the chain moves on.
			res.Attempts = append(res.Attempts, Candidate{
				Source:  src.Name(),
				Success: false,
				Err:     err.Error(),
			})
			r.logger.Debug("preview source attempt failed",
				slog.String("track_id", id.TrackID),
				slog.String("source", string(src.Name())),
				slog.String("error", err.Error()))
			continue
		}

		res.Attempts = append(res.Attempts, *cand)
		res.Winner = cand
		r.logger.Debug("preview resolved",
			slog.String("track_id", id.TrackID),
			slog.String("source", string(cand.Source)),
			slog.Int("attempts", len(res.Attempts)))
		return res, nil
	}

	return res, ErrNoPreview
}
