package preview

import (
	"context"

	"github.com/sydlexius/cadence/internal/track"
)

// CatalogSource serves the preview URL the catalog itself attached to the
// track object. Highest priority; trusted without further validation.
type CatalogSource struct{}

// NewCatalogSource creates the catalog-native preview source.
func NewCatalogSource() *CatalogSource { return &CatalogSource{} }

// Name returns the source identifier.
func (s *CatalogSource) Name() SourceName { return SourceCatalog }

// Lookup returns the catalog preview URL when the track carries one.
func (s *CatalogSource) Lookup(_ context.Context, id track.Identity) (*Candidate, error) {
	if id.CatalogPreviewURL == "" {
		return nil, ErrSkip
	}
	return &Candidate{
		URL:     id.CatalogPreviewURL,
		Source:  SourceCatalog,
		Success: true,
		// The catalog's own preview is assumed to match its own track.
		DetectedISRC:   id.ISRC,
		DetectedTitle:  id.Title,
		DetectedArtist: id.PrimaryArtist(),
	}, nil
}
