package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 5.0
	defaultRateBurst = 2
	maxErrorBody     = 512
	maxResponseBody  = 32 << 20
)

// ClientConfig configures a broker Client.
type ClientConfig struct {
	// Name labels errors and outbound spans, e.g. "lasair".
	Name    string
	BaseURL string

	// Token is sent as "<TokenScheme> <Token>" in the Authorization header when set.
	Token       string
	TokenScheme string

	Timeout   time.Duration
	RateLimit float64 // requests per second
	RateBurst int

	// Transport is wrapped with otelhttp; nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// Client is a rate-limited JSON-over-HTTP client shared by the broker
// adapters. It does not retry; a failed request fails the job that made it.
type Client struct {
	name        string
	base        *url.URL
	token       string
	tokenScheme string
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// StatusError is returned when a broker answers with a non-2xx status.
type StatusError struct {
	Broker string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Broker, e.Code, e.Body)
}

// IsNotFound reports whether err is a 404 from a broker.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Name == "" {
		return nil, errors.New("broker client: name is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s: base url is required", cfg.Name)
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid base url: %w", cfg.Name, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%s: base url must be http or https, got %q", cfg.Name, base.Scheme)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.TokenScheme == "" {
		cfg.TokenScheme = "Token"
	}

	inner := cfg.Transport
	if inner == nil {
		inner = http.DefaultTransport
	}
	name := cfg.Name

	return &Client{
		name:        name,
		base:        base,
		token:       cfg.Token,
		tokenScheme: cfg.TokenScheme,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: otelhttp.NewTransport(inner,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return name + " " + r.Method
				}),
			),
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}, nil
}

// Name returns the configured broker name.
func (c *Client) Name() string { return c.name }

// URL resolves path against the base URL, keeping the base path prefix.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// GetJSON fetches path under the base URL and decodes the JSON body into dst.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, dst any) error {
	return c.GetURL(ctx, c.URL(path, query), dst)
}

// GetURL fetches an absolute URL, e.g. a pagination link, into dst.
func (c *Client) GetURL(ctx context.Context, rawURL string, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", c.tokenScheme+" "+c.token)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G107: url is built from trusted config
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Broker: c.name, Code: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(dst); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return nil
}
