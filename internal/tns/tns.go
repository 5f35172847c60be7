// Package tns triggers the Transient Name Server classification refresh.
package tns

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	httpTimeout  = 5 * time.Minute
	maxErrorBody = 512
)

// ErrNotConfigured is returned when no updater URL is set.
var ErrNotConfigured = errors.New("tns: updater url not configured")

// Client calls the TNS updater endpoint.
type Client struct {
	url    string
	token  string
	client *http.Client
}

// New creates a TNS client. An empty url makes every update fail with
// ErrNotConfigured.
func New(url, token string) *Client {
	return &Client{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// UpdateTNSData asks the updater to refresh TNS names and classifications
// for the catalog. It blocks until the updater answers.
func (c *Client) UpdateTNSData(ctx context.Context) error {
	if c.url == "" {
		return ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, http.NoBody)
	if err != nil {
		return fmt.Errorf("tns: create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req) //nolint:gosec // G704: url is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("tns: post update: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("tns: updater returned %d: %s", resp.StatusCode, string(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
