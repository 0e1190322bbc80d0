// Package itunes adapts the iTunes Search API as a preview source. It serves
// two chain positions: an exact ISRC lookup and a free-text search fallback.
package itunes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sydlexius/cadence/internal/preview"
	"github.com/sydlexius/cadence/internal/track"
)

const defaultBaseURL = "https://itunes.apple.com"

// Adapter talks to the iTunes Search API. No authentication is required.
type Adapter struct {
	client  *http.Client
	limiter *preview.RateLimiterMap
	logger  *slog.Logger
	baseURL string
	country string
}

// New creates an iTunes adapter with the default base URL.
func New(limiter *preview.RateLimiterMap, logger *slog.Logger, country string) *Adapter {
	return NewWithBaseURL(limiter, logger, country, defaultBaseURL)
}

// NewWithBaseURL creates an iTunes adapter with a custom base URL (for testing).
func NewWithBaseURL(limiter *preview.RateLimiterMap, logger *slog.Logger, country, baseURL string) *Adapter {
	if country == "" {
		country = "us"
	}
	return &Adapter{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
		logger:  logger.With(slog.String("source", "itunes")),
		baseURL: strings.TrimRight(baseURL, "/"),
		country: country,
	}
}

// LookupISRC resolves a preview by exact ISRC via the /lookup endpoint.
func (a *Adapter) LookupISRC(ctx context.Context, isrc string) (*preview.Candidate, error) {
	if err := a.limiter.Wait(ctx, preview.SourceITunesISRC); err != nil {
		return nil, &preview.ErrSourceUnavailable{
			Source: preview.SourceITunesISRC,
			Cause:  fmt.Errorf("rate limiter: %w", err),
		}
	}

	params := url.Values{
		"isrc":    {isrc},
		"country": {a.country},
	}
	body, err := a.doRequest(ctx, preview.SourceITunesISRC, a.baseURL+"/lookup?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp lookupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing lookup response: %w", err)
	}

	r := firstWithPreview(resp.Results)
	if r == nil {
		return nil, &preview.ErrNoMatch{Source: preview.SourceITunesISRC}
	}

	a.logger.Debug("isrc lookup matched",
		slog.String("isrc", isrc),
		slog.Int("track_id", r.TrackID))

	return &preview.Candidate{
		URL:     r.PreviewURL,
		Source:  preview.SourceITunesISRC,
		Success: true,
		// An exact ISRC lookup can only return recordings of that ISRC.
		DetectedISRC:   isrc,
		DetectedTitle:  r.TrackName,
		DetectedArtist: r.ArtistName,
	}, nil
}

// SearchText resolves a preview by free-text search via the /search endpoint.
// The result carries no ISRC, so identity checks fall back to title/artist.
func (a *Adapter) SearchText(ctx context.Context, query string) (*preview.Candidate, error) {
	if err := a.limiter.Wait(ctx, preview.SourceITunesSearch); err != nil {
		return nil, &preview.ErrSourceUnavailable{
			Source: preview.SourceITunesSearch,
			Cause:  fmt.Errorf("rate limiter: %w", err),
		}
	}

	params := url.Values{
		"term":    {query},
		"entity":  {"song"},
		"limit":   {"5"},
		"country": {a.country},
	}
	body, err := a.doRequest(ctx, preview.SourceITunesSearch, a.baseURL+"/search?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp lookupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	r := firstWithPreview(resp.Results)
	if r == nil {
		return nil, &preview.ErrNoMatch{Source: preview.SourceITunesSearch}
	}

	a.logger.Debug("text search matched",
		slog.String("query", query),
		slog.Int("results", resp.ResultCount))

	return &preview.Candidate{
		URL:            r.PreviewURL,
		Source:         preview.SourceITunesSearch,
		Success:        true,
		DetectedTitle:  r.TrackName,
		DetectedArtist: r.ArtistName,
	}, nil
}

// doRequest executes a GET request and returns the response body.
func (a *Adapter) doRequest(ctx context.Context, src preview.SourceName, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &preview.ErrSourceUnavailable{Source: src, Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		// continue
	case http.StatusNotFound:
		return nil, &preview.ErrNoMatch{Source: src}
	case http.StatusForbidden, http.StatusTooManyRequests:
		// iTunes answers 403 as well as 429 when throttling.
		return nil, &preview.ErrSourceUnavailable{
			Source: src,
			Cause:  fmt.Errorf("rate limited by server (status %d)", resp.StatusCode),
		}
	default:
		return nil, &preview.ErrSourceUnavailable{
			Source: src,
			Cause:  fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	return io.ReadAll(io.LimitReader(resp.Body, 1*1024*1024))
}

// firstWithPreview returns the first song result that actually carries a
// preview URL. Lookup responses can include album wrappers and previewless
// tracks ahead of a usable hit.
func firstWithPreview(results []trackResult) *trackResult {
	for i := range results {
		r := &results[i]
		if r.Kind != "" && r.Kind != "song" {
			continue
		}
		if r.PreviewURL != "" {
			return r
		}
	}
	return nil
}

// ISRCSource places the adapter's ISRC lookup in the preview chain.
type ISRCSource struct {
	adapter *Adapter
}

// NewISRCSource wraps an adapter as the ISRC lookup chain entry.
func NewISRCSource(a *Adapter) *ISRCSource { return &ISRCSource{adapter: a} }

// Name returns the source identifier.
func (s *ISRCSource) Name() preview.SourceName { return preview.SourceITunesISRC }

// Lookup resolves by ISRC, skipping tracks that have none.
func (s *ISRCSource) Lookup(ctx context.Context, id track.Identity) (*preview.Candidate, error) {
	if id.ISRC == "" {
		return nil, preview.ErrSkip
	}
	return s.adapter.LookupISRC(ctx, id.ISRC)
}

// SearchSource places the adapter's free-text search in the preview chain.
type SearchSource struct {
	adapter *Adapter
}

// NewSearchSource wraps an adapter as the text search chain entry.
func NewSearchSource(a *Adapter) *SearchSource { return &SearchSource{adapter: a} }

// Name returns the source identifier.
func (s *SearchSource) Name() preview.SourceName { return preview.SourceITunesSearch }

// Lookup resolves by "artist title" free-text search.
func (s *SearchSource) Lookup(ctx context.Context, id track.Identity) (*preview.Candidate, error) {
	q := id.SearchQuery()
	if q == "" {
		return nil, preview.ErrSkip
	}
	return s.adapter.SearchText(ctx, q)
}
