// Package upload posts batch documents to the remote collector endpoint.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"telemetry-sync/internal/reading"
)

// ErrRejected marks a non-success response. Callers treat it exactly like a
// network error.
var ErrRejected = errors.New("upload rejected")

type Config struct {
	URL     string
	APIKey  string
	SiteID  string
	Timeout time.Duration
}

// Client handles communication with the collector endpoint.
type Client struct {
	url        string
	apiKey     string
	siteID     string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		siteID:     cfg.SiteID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SubmitBatch posts one batch document. Any status outside 2xx is returned
// wrapped in ErrRejected.
func (c *Client) SubmitBatch(ctx context.Context, b *reading.Batch) error {
	body, err := json.Marshal(b.Document(c.siteID))
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "telemetry-sync")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
