// Package detection is the sole client for the remote tempo/key estimation
// service. It supports single-excerpt analysis, batch submission with a
// streaming result read-back, and a polling fallback for interrupted streams.
package detection

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrUnavailable indicates the estimation service could not produce a result:
// transport failure, non-2xx status, or a malformed payload. Retryable by the
// caller; the client never fabricates an estimate in its place.
type ErrUnavailable struct {
	Cause error
}

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("detection service unavailable: %v", e.Cause)
}

func (e *ErrUnavailable) Unwrap() error { return e.Cause }

// Config carries the connection settings for the estimation service.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client talks to the estimation service. All requests carry a bearer token
// from the injected TokenSource.
type Client struct {
	client  *http.Client
	tokens  oauth2.TokenSource
	logger  *slog.Logger
	baseURL string
}

// New creates a client using the client-credentials grant against the
// configured token endpoint.
func New(cfg Config, logger *slog.Logger) *Client {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	return NewWithTokenSource(cfg, cc.TokenSource(context.Background()), logger)
}

// NewWithTokenSource creates a client with an explicit token source. Tests
// pass oauth2.StaticTokenSource here.
func NewWithTokenSource(cfg Config, ts oauth2.TokenSource, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		client:  &http.Client{Timeout: timeout},
		tokens:  ts,
		logger:  logger.With(slog.String("component", "detection")),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Analyze runs both detectors against a single excerpt and returns their raw
// estimates. Transient 5xx responses are retried with fibonacci backoff
// before surfacing ErrUnavailable.
func (c *Client) Analyze(ctx context.Context, previewURL string) ([]RawEstimate, error) {
	body, err := json.Marshal(analyzeRequest{PreviewURL: previewURL})
	if err != nil {
		return nil, err
	}

	respBody, err := c.doJSON(ctx, http.MethodPost, "/v1/analyze", body)
	if err != nil {
		return nil, err
	}

	var resp analyzeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &ErrUnavailable{Cause: fmt.Errorf("malformed analyze response: %w", err)}
	}
	if len(resp.Results) == 0 {
		return nil, &ErrUnavailable{Cause: fmt.Errorf("analyze response carried no estimates")}
	}

	c.logger.Debug("excerpt analyzed",
		slog.String("preview_url", previewURL),
		slog.Int("estimates", len(resp.Results)))

	return resp.Results, nil
}

// SubmitBatch submits many excerpt URLs for asynchronous analysis and returns
// the service-assigned batch identifier.
func (c *Client) SubmitBatch(ctx context.Context, urls []string) (string, error) {
	body, err := json.Marshal(batchRequest{URLs: urls})
	if err != nil {
		return "", err
	}

	respBody, err := c.doJSON(ctx, http.MethodPost, "/v1/batches", body)
	if err != nil {
		return "", err
	}

	var created batchCreated
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", &ErrUnavailable{Cause: fmt.Errorf("malformed batch response: %w", err)}
	}
	if created.ID == "" {
		return "", &ErrUnavailable{Cause: fmt.Errorf("batch response carried no id")}
	}

	c.logger.Info("batch submitted",
		slog.String("batch_id", created.ID),
		slog.Int("urls", len(urls)))

	return created.ID, nil
}

// StreamResults reads the batch's newline-delimited result records, invoking
// fn once per completed excerpt as it arrives. The stream ends when the batch
// is exhausted. Each line is an independent record: a consumer interrupted
// mid-stream falls back to BatchStatus rather than restarting the stream from
// scratch. Returning an error from fn stops the stream.
func (c *Client) StreamResults(ctx context.Context, batchID string, fn func(BatchResult) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(batchID)+"/results", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/x-ndjson")

	// The stream holds the connection open for the life of the batch, so it
	// bypasses the client's per-request timeout and relies on ctx.
	streamClient := &http.Client{Transport: c.client.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return &ErrUnavailable{Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return &ErrUnavailable{Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec BatchResult
		if err := json.Unmarshal(line, &rec); err != nil {
			return &ErrUnavailable{Cause: fmt.Errorf("malformed stream record: %w", err)}
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return &ErrUnavailable{Cause: fmt.Errorf("stream interrupted: %w", err)}
	}
	return nil
}

// BatchStatus polls the batch's current state, including all results
// completed so far. The fallback path after an interrupted stream.
func (c *Client) BatchStatus(ctx context.Context, batchID string) (*BatchInfo, error) {
	respBody, err := c.doJSON(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(batchID), nil)
	if err != nil {
		return nil, err
	}

	var info BatchInfo
	if err := json.Unmarshal(respBody, &info); err != nil {
		return nil, &ErrUnavailable{Cause: fmt.Errorf("malformed status response: %w", err)}
	}
	return &info, nil
}

// doJSON executes one authenticated request, retrying transient server errors
// up to 3 times with fibonacci backoff.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var respBody []byte

	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := c.newRequest(ctx, method, path, reader)
		if err != nil {
			return err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			// continue
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("server status %d", resp.StatusCode))
		default:
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		respBody, err = io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, &ErrUnavailable{Cause: err}
	}
	return respBody, nil
}

// newRequest builds a request with the current bearer token attached.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return nil, &ErrUnavailable{Cause: fmt.Errorf("obtaining token: %w", err)}
	}
	tok.SetAuthHeader(req)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
