package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sydlexius/cadence/internal/auth"
	"github.com/sydlexius/cadence/internal/event"
	"github.com/sydlexius/cadence/internal/preview"
	"github.com/sydlexius/cadence/internal/store"
	"github.com/sydlexius/cadence/internal/track"
)

// ErrForbidden is returned when a non-admin principal attempts a review
// action.
var ErrForbidden = errors.New("admin role required")

// DetectMismatch compares the detected identity of the winning preview
// against the requested track. ISRC is authoritative when both sides have
// one; otherwise normalized title and artist are compared. No comparable
// fields means no flag.
func DetectMismatch(id track.Identity, winner *preview.Candidate) bool {
	if winner == nil || !winner.Success {
		return false
	}

	if id.ISRC != "" && winner.DetectedISRC != "" {
		return !strings.EqualFold(id.ISRC, winner.DetectedISRC)
	}

	if id.Title != "" && winner.DetectedTitle != "" {
		if normalizeIdentity(id.Title) != normalizeIdentity(winner.DetectedTitle) {
			return true
		}
	}
	if a := id.PrimaryArtist(); a != "" && winner.DetectedArtist != "" {
		if normalizeIdentity(a) != normalizeIdentity(winner.DetectedArtist) {
			return true
		}
	}
	return false
}

// normalizeIdentity lowercases, strips punctuation, and collapses whitespace
// so cosmetic differences ("Weird Fishes/Arpeggi" vs "weird fishes arpeggi")
// do not trip the flag.
func normalizeIdentity(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Reviewer applies human decisions to flagged records. Decisions are sticky:
// once a human has ruled, later automatic re-resolution never reverts the
// ruling; only an explicit admin clear re-opens review.
type Reviewer struct {
	store  *store.Service
	bus    *event.Bus
	logger *slog.Logger
}

// NewReviewer creates a reviewer over the given store.
func NewReviewer(st *store.Service, bus *event.Bus, logger *slog.Logger) *Reviewer {
	return &Reviewer{
		store:  st,
		bus:    bus,
		logger: logger.With(slog.String("component", "reviewer")),
	}
}

// ConfirmMatch rules the flagged identity a match, permanently lifting tempo
// suppression for the record. Admin only.
func (r *Reviewer) ConfirmMatch(ctx context.Context, trackID string, p auth.Principal) error {
	return r.decide(ctx, trackID, store.ReviewMatch, p)
}

// ConfirmMismatch rules the flagged identity a genuine mismatch. Tempo stays
// suppressed; the decision is distinguished from a pending flag in audit.
// Admin only.
func (r *Reviewer) ConfirmMismatch(ctx context.Context, trackID string, p auth.Principal) error {
	return r.decide(ctx, trackID, store.ReviewMismatch, p)
}

// Clear removes a prior decision out-of-band, re-opening review. Admin only.
func (r *Reviewer) Clear(ctx context.Context, trackID string, p auth.Principal) error {
	if !p.IsAdmin() {
		return ErrForbidden
	}
	if err := r.store.SetReview(ctx, trackID, store.ReviewNone, ""); err != nil {
		return fmt.Errorf("clearing review: %w", err)
	}
	r.logger.Info("review cleared",
		slog.String("track_id", trackID),
		slog.String("by", p.Name))
	return nil
}

func (r *Reviewer) decide(ctx context.Context, trackID string, status store.ReviewStatus, p auth.Principal) error {
	if !p.IsAdmin() {
		return ErrForbidden
	}
	if err := r.store.SetReview(ctx, trackID, status, p.Name); err != nil {
		return fmt.Errorf("recording review decision: %w", err)
	}

	r.logger.Info("review decided",
		slog.String("track_id", trackID),
		slog.String("decision", string(status)),
		slog.String("by", p.Name))
	r.bus.Publish(event.Event{
		Type: event.ReviewDecided,
		Data: map[string]any{
			"track_id": trackID,
			"decision": string(status),
			"by":       p.Name,
		},
	})
	return nil
}
