// Package preview resolves a short audio excerpt URL for a track by trying
// ranked external sources in a fixed priority order.
package preview

import (
	"context"
	"errors"
	"fmt"

	"github.com/sydlexius/cadence/internal/track"
)

// SourceName uniquely identifies a preview source.
type SourceName string

// Known source names, in chain priority order.
const (
	SourceCatalog      SourceName = "catalog"
	SourceITunesISRC   SourceName = "itunes_isrc"
	SourceITunesSearch SourceName = "itunes_search"
	SourceDeezerSearch SourceName = "deezer_search"

	// SourceNone is the sentinel recorded when no source produced a preview.
	SourceNone SourceName = "none"
)

// Candidate records one source attempt. Every attempt is kept, success or
// not, so later identity-mismatch checks can compare the detected identity
// of the returned audio against the requested track.
type Candidate struct {
	URL            string     `json:"url,omitempty"`
	Source         SourceName `json:"source"`
	Success        bool       `json:"success"`
	DetectedISRC   string     `json:"detected_isrc,omitempty"`
	DetectedTitle  string     `json:"detected_title,omitempty"`
	DetectedArtist string     `json:"detected_artist,omitempty"`
	Err            string     `json:"error,omitempty"`
}

// Source is the interface all preview source adapters implement.
type Source interface {
	// Name returns the unique source identifier.
	Name() SourceName

	// Lookup attempts to find a preview for the given identity. It returns
	// ErrSkip when the source does not apply to this identity (e.g. an ISRC
	// lookup for a track without an ISRC), ErrNoMatch when the source was
	// queried but had nothing, and ErrSourceUnavailable on transport-level
	// failure.
	Lookup(ctx context.Context, id track.Identity) (*Candidate, error)
}

// ErrSkip indicates the source does not apply to this identity and should
// not be recorded as an attempt.
var ErrSkip = errors.New("preview source not applicable")

// ErrNoPreview indicates every applicable source was exhausted without a
// usable excerpt. Terminal; cached with the short failure TTL.
var ErrNoPreview = errors.New("no preview available from any source")

// ErrSourceUnavailable indicates a transient source failure (timeout,
// rate-limited, server error). The chain continues to the next source.
type ErrSourceUnavailable struct {
	Source SourceName
	Cause  error
}

func (e *ErrSourceUnavailable) Error() string {
	return fmt.Sprintf("preview source %s unavailable: %v", e.Source, e.Cause)
}

func (e *ErrSourceUnavailable) Unwrap() error { return e.Cause }

// ErrNoMatch indicates the source answered but had no preview for the track.
type ErrNoMatch struct {
	Source SourceName
}

func (e *ErrNoMatch) Error() string {
	return fmt.Sprintf("preview source %s: no match", e.Source)
}
