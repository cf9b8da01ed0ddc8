// Package httputil fetches JSON from remote services, retrying transient
// failures with jittered backoff.
package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Default retry configuration.
const (
	DefaultMaxRetries  = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultHTTPTimeout = 30 * time.Second
)

// maxJSONBody bounds the response size GetJSON will decode.
const maxJSONBody = 32 << 20

// Option configures a Client.
type Option func(*Client)

// WithMaxRetries sets the number of retries after the first attempt.
// Zero disables retrying.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = max(n, 0) }
}

// WithBaseDelay sets the backoff before the first retry, before jitter.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// WithMaxDelay caps both the computed backoff and a server's Retry-After.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) { c.maxDelay = d }
}

// WithHTTPTimeout sets the per-attempt timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = d }
}

// WithUserAgent sets the User-Agent sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithHTTPClient replaces the underlying transport client. Its timeout is
// left as configured by the caller.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// Client is an http.Client that retries connection errors and transient
// statuses (429 and 5xx gateway failures).
type Client struct {
	hc         *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	userAgent  string
}

// NewClient creates a Client with the default retry policy.
func NewClient(opts ...Option) *Client {
	c := &Client{
		hc:         &http.Client{Timeout: DefaultHTTPTimeout},
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
	Attempts   int
}

func (e *StatusError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("HTTP %d from %s after %d attempts", e.StatusCode, e.URL, e.Attempts)
	}
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// Transient reports whether a later attempt could succeed.
func (e *StatusError) Transient() bool { return transient(e.StatusCode) }

func transient(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do sends req, retrying while the failure is transient and the request
// context is live. A non-transient response is returned to the caller, who
// owns its body. Requests must be replayable (no body, or GetBody set).
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	ctx := req.Context()

	var lastErr error
	for attempt := 1; ; attempt++ {
		var (
			wait    time.Duration
			waitSet bool
		)
		resp, err := c.hc.Do(req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		case !transient(resp.StatusCode):
			return resp, nil
		default:
			lastErr = &StatusError{StatusCode: resp.StatusCode, URL: req.URL.Redacted(), Attempts: attempt}
			wait, waitSet = retryAfter(resp.Header, time.Now())
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			resp.Body.Close()
		}

		if attempt > c.maxRetries {
			break
		}
		if !waitSet {
			wait = c.backoff(attempt)
		}
		if err := sleep(ctx, min(wait, c.maxDelay)); err != nil {
			return nil, err
		}
	}
	if c.maxRetries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w (after %d retries)", lastErr, c.maxRetries)
}

// GetJSON fetches url and decodes the JSON body into v. Non-2xx responses
// come back as *StatusError.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, URL: req.URL.Redacted(), Attempts: 1}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBody)).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Redacted(), err)
	}
	return nil
}

// backoff is the delay before retry n (1-indexed): exponential from
// baseDelay, capped at maxDelay, with full jitter.
func (c *Client) backoff(n int) time.Duration {
	d := c.baseDelay << min(n-1, 30)
	if d <= 0 || d > c.maxDelay {
		d = c.maxDelay
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0), true
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
