// Package scorer is the client for the external phishing-scoring service.
// The scoring algorithm itself is a black box; this package only speaks its
// HTTP boundary: POST /check, GET /events, GET /health.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sahir247/phishlens/internal/types"
)

// DefaultBaseURL is where the stock backend listens.
const DefaultBaseURL = "http://127.0.0.1:8000"

// Client talks to one scoring service instance.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for the service at base (no trailing slash needed).
func New(base string) *Client {
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type checkRequest struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

// Check submits a page for scoring. Any non-2xx status or transport error
// is returned as an error; the caller decides that an analysis failed. No
// retries happen at this layer.
func (c *Client) Check(ctx context.Context, pageURL, html string) (*types.AnalysisRecord, error) {
	body, err := json.Marshal(checkRequest{URL: pageURL, HTML: html})
	if err != nil {
		return nil, fmt.Errorf("marshal check request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/check", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create check request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("scorer returned HTTP %d", resp.StatusCode)
	}

	var rec types.AnalysisRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode check response: %w", err)
	}
	rec.URL = pageURL
	return &rec, nil
}

// Event is one row of the backend's detection feed.
type Event struct {
	ID        int64    `json:"id"`
	URL       string   `json:"url"`
	RiskScore float64  `json:"risk_score"`
	Reasons   []string `json:"reasons"`
	TS        float64  `json:"ts"`
}

// Time returns the event timestamp.
func (e Event) Time() time.Time {
	return time.Unix(int64(e.TS), 0)
}

// Events fetches the most recent detection events, newest first. The feed
// exists for read-only listing; the coordination core never consumes it.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	u := c.base + "/events"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create events request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("events request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("events feed returned HTTP %d", resp.StatusCode)
	}

	var events []Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

// Health pings the backend.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned HTTP %d", resp.StatusCode)
	}
	return nil
}
