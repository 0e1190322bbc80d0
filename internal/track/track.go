// Package track extracts the stable identifier set from a catalog track
// object. The identity is the cache key material for everything downstream.
package track

import (
	"errors"
	"strings"
)

// ErrMissingTrackID indicates a caller contract violation: every catalog
// track object must carry a track ID.
var ErrMissingTrackID = errors.New("catalog track has no track id")

// CatalogTrack is the subset of a catalog track object the engine cares
// about. It mirrors the catalog API's track shape.
type CatalogTrack struct {
	ID         string   `json:"id"`
	ISRC       string   `json:"isrc,omitempty"`
	Title      string   `json:"title"`
	Artists    []string `json:"artists"`
	PreviewURL string   `json:"preview_url,omitempty"`
}

// Identity is the extracted identifier set used as cache key material.
type Identity struct {
	TrackID           string
	ISRC              string
	Title             string
	Artists           []string
	CatalogPreviewURL string
}

// Extract derives the identity from a catalog track. Pure, no I/O.
// Fails only when the track ID is absent.
func Extract(t CatalogTrack) (Identity, error) {
	if strings.TrimSpace(t.ID) == "" {
		return Identity{}, ErrMissingTrackID
	}

	return Identity{
		TrackID:           t.ID,
		ISRC:              strings.ToUpper(strings.TrimSpace(t.ISRC)),
		Title:             strings.TrimSpace(t.Title),
		Artists:           trimAll(t.Artists),
		CatalogPreviewURL: t.PreviewURL,
	}, nil
}

// PrimaryArtist returns the first artist, or empty when none are known.
func (id Identity) PrimaryArtist() string {
	if len(id.Artists) == 0 {
		return ""
	}
	return id.Artists[0]
}

// SearchQuery builds the "artist title" text query used by storefront
// text search fallbacks.
func (id Identity) SearchQuery() string {
	parts := make([]string, 0, 2)
	if a := id.PrimaryArtist(); a != "" {
		parts = append(parts, a)
	}
	if id.Title != "" {
		parts = append(parts, id.Title)
	}
	return strings.Join(parts, " ")
}

func trimAll(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
