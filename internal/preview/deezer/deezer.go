// Package deezer adapts Deezer's public API as the last-resort preview
// source. No authentication is required.
package deezer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sydlexius/cadence/internal/preview"
	"github.com/sydlexius/cadence/internal/track"
)

const defaultBaseURL = "https://api.deezer.com"

// Adapter implements the free-text track search against Deezer.
type Adapter struct {
	client  *http.Client
	limiter *preview.RateLimiterMap
	logger  *slog.Logger
	baseURL string
}

// New creates a Deezer adapter with the default base URL.
func New(limiter *preview.RateLimiterMap, logger *slog.Logger) *Adapter {
	return NewWithBaseURL(limiter, logger, defaultBaseURL)
}

// NewWithBaseURL creates a Deezer adapter with a custom base URL (for testing).
func NewWithBaseURL(limiter *preview.RateLimiterMap, logger *slog.Logger, baseURL string) *Adapter {
	return &Adapter{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
		logger:  logger.With(slog.String("source", "deezer")),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the source identifier.
func (a *Adapter) Name() preview.SourceName { return preview.SourceDeezerSearch }

// Lookup resolves a preview by "artist title" free-text search, then fetches
// the matched track's detail to learn the ISRC of the recording actually
// returned. The detail fetch is best effort: a failure there still yields a
// usable candidate, just without a detected ISRC.
func (a *Adapter) Lookup(ctx context.Context, id track.Identity) (*preview.Candidate, error) {
	query := id.SearchQuery()
	if query == "" {
		return nil, preview.ErrSkip
	}

	if err := a.limiter.Wait(ctx, preview.SourceDeezerSearch); err != nil {
		return nil, &preview.ErrSourceUnavailable{
			Source: preview.SourceDeezerSearch,
			Cause:  fmt.Errorf("rate limiter: %w", err),
		}
	}

	params := url.Values{
		"q":     {query},
		"limit": {"5"},
	}
	body, err := a.doRequest(ctx, a.baseURL+"/search?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	hit := firstWithPreview(resp.Data)
	if hit == nil {
		return nil, &preview.ErrNoMatch{Source: preview.SourceDeezerSearch}
	}

	cand := &preview.Candidate{
		URL:            hit.Preview,
		Source:         preview.SourceDeezerSearch,
		Success:        true,
		DetectedTitle:  hit.Title,
		DetectedArtist: hit.Artist.Name,
	}

	if isrc, err := a.trackISRC(ctx, hit.ID); err != nil {
		a.logger.Debug("track detail fetch failed, candidate has no isrc",
			slog.Int("deezer_id", hit.ID),
			slog.String("error", err.Error()))
	} else {
		cand.DetectedISRC = isrc
	}

	a.logger.Debug("text search matched",
		slog.String("query", query),
		slog.Int("results", resp.Total))

	return cand, nil
}

// trackISRC fetches the track detail to recover the recording's ISRC.
func (a *Adapter) trackISRC(ctx context.Context, deezerID int) (string, error) {
	if err := a.limiter.Wait(ctx, preview.SourceDeezerSearch); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	body, err := a.doRequest(ctx, a.baseURL+"/track/"+strconv.Itoa(deezerID))
	if err != nil {
		return "", err
	}

	var detail trackDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return "", fmt.Errorf("parsing track detail: %w", err)
	}
	return strings.ToUpper(detail.ISRC), nil
}

// doRequest executes a GET request and returns the response body.
func (a *Adapter) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &preview.ErrSourceUnavailable{
			Source: preview.SourceDeezerSearch,
			Cause:  err,
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		// continue
	case http.StatusNotFound:
		return nil, &preview.ErrNoMatch{Source: preview.SourceDeezerSearch}
	case http.StatusTooManyRequests:
		return nil, &preview.ErrSourceUnavailable{
			Source: preview.SourceDeezerSearch,
			Cause:  fmt.Errorf("rate limited by server"),
		}
	default:
		return nil, &preview.ErrSourceUnavailable{
			Source: preview.SourceDeezerSearch,
			Cause:  fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	return io.ReadAll(io.LimitReader(resp.Body, 1*1024*1024))
}

// firstWithPreview returns the first search hit carrying a preview URL.
// Deezer omits previews on region-restricted tracks.
func firstWithPreview(results []trackResult) *trackResult {
	for i := range results {
		if results[i].Preview != "" {
			return &results[i]
		}
	}
	return nil
}
