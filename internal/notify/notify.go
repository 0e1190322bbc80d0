// Package notify delivers pipeline events to configured webhook URLs so
// operators hear about flagged mismatches and failed resolutions without
// polling the API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sydlexius/cadence/internal/event"
)

const (
	maxRetries     = 3
	requestTimeout = 10 * time.Second
)

// Notifier POSTs event payloads to a fixed set of webhook URLs.
type Notifier struct {
	urls       []string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a notifier for the configured URLs. An empty list yields an
// inert notifier.
func New(urls []string, logger *slog.Logger) *Notifier {
	return NewWithHTTPClient(urls, &http.Client{Timeout: requestTimeout}, logger)
}

// NewWithHTTPClient creates a notifier with a custom HTTP client (for testing).
func NewWithHTTPClient(urls []string, httpClient *http.Client, logger *slog.Logger) *Notifier {
	return &Notifier{
		urls:       urls,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "notifier")),
	}
}

// SubscribeAll registers the notifier for every event type it forwards.
func (n *Notifier) SubscribeAll(bus *event.Bus) {
	for _, t := range []event.Type{
		event.ReviewNeeded,
		event.ReviewDecided,
		event.ResolveFailed,
		event.BatchCompleted,
	} {
		bus.Subscribe(t, n.HandleEvent)
	}
}

// HandleEvent is an event.Handler that fans the event out to all URLs.
func (n *Notifier) HandleEvent(e event.Event) {
	if len(n.urls) == 0 {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		n.logger.Error("encoding event payload", "type", string(e.Type), "error", err)
		return
	}
	for _, url := range n.urls {
		go n.deliver(url, e, body)
	}
}

func (n *Notifier) deliver(url string, e event.Event, body []byte) {
	var lastErr error
	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			time.Sleep(backoff)
		}

		lastErr = n.send(url, body)
		if lastErr == nil {
			n.logger.Debug("webhook delivered",
				"url", url,
				"event", string(e.Type),
				"attempt", attempt+1,
			)
			return
		}

		n.logger.Warn("webhook delivery failed",
			"url", url,
			"event", string(e.Type),
			"attempt", attempt+1,
			"error", lastErr,
		)
	}

	n.logger.Error("webhook delivery exhausted retries",
		"url", url,
		"event", string(e.Type),
		"error", lastErr,
	)
}

func (n *Notifier) send(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Cadence-Webhook/1.0")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
