// Package fetch provides the rate-limited HTTP client source collectors
// share. It performs no retrying of its own: failures come back classified
// by failure category so the caller's retry wrapper applies the right
// backoff policy.
package fetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/hooplytics/statsync/internal/resilience"
)

// Options configures a Client.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// RateLimiters maps hostnames to their limiter. Unknown hosts get the
	// default limiter.
	RateLimiters map[string]*rate.Limiter
	// DefaultRate applies to hosts with no dedicated limiter. Zero means
	// 10 req/s with burst 10.
	DefaultRate  rate.Limit
	DefaultBurst int
}

// Client is a rate-limited HTTP client whose errors carry a failure
// category.
type Client struct {
	http         *http.Client
	userAgent    string
	limiters     map[string]*rate.Limiter
	defaultLimit *rate.Limiter
}

// New creates a Client with the given options.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "statsync/1.0"
	}
	if opts.DefaultRate == 0 {
		opts.DefaultRate = 10
	}
	if opts.DefaultBurst == 0 {
		opts.DefaultBurst = 10
	}
	limiters := make(map[string]*rate.Limiter, len(opts.RateLimiters))
	for host, lim := range opts.RateLimiters {
		limiters[host] = lim
	}
	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent:    opts.UserAgent,
		limiters:     limiters,
		defaultLimit: rate.NewLimiter(opts.DefaultRate, opts.DefaultBurst),
	}
}

func (c *Client) limiterFor(rawURL string) *rate.Limiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return c.defaultLimit
	}
	if lim, ok := c.limiters[u.Host]; ok {
		return lim
	}
	return c.defaultLimit
}

// Get performs one rate-limited GET and returns the response body. Non-2xx
// statuses and transport failures return a resilience.CategorizedError:
// 429 -> rate_limit, 401/403 -> auth, 408 -> timeout, 5xx and everything
// else transport-shaped -> network, remaining 4xx -> validation.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	if err := c.limiterFor(rawURL).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		category := resilience.CategoryNetwork
		if ctx.Err() == context.DeadlineExceeded {
			category = resilience.CategoryTimeout
		}
		return nil, resilience.NewCategorizedError(category,
			eris.Wrapf(err, "get %s", rawURL))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resilience.NewCategorizedError(categoryForStatus(resp.StatusCode),
			eris.Errorf("get %s: http %d", rawURL, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewCategorizedError(resilience.CategoryNetwork,
			eris.Wrapf(err, "read body from %s", rawURL))
	}
	return body, nil
}

// GetJSON fetches a URL and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := c.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resilience.NewCategorizedError(resilience.CategoryValidation,
			eris.Wrapf(err, "decode json from %s", rawURL))
	}
	return nil
}

func categoryForStatus(status int) resilience.ErrorCategory {
	switch {
	case status == http.StatusTooManyRequests:
		return resilience.CategoryRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return resilience.CategoryAuth
	case status == http.StatusRequestTimeout:
		return resilience.CategoryTimeout
	case status >= 500:
		return resilience.CategoryNetwork
	default:
		return resilience.CategoryValidation
	}
}
