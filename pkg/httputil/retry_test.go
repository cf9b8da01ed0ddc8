package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// flakyServer fails the first `failures` requests with status, then serves
// a small JSON array.
func flakyServer(t *testing.T, failures int32, status int, header http.Header) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= failures {
			for k, v := range header {
				w.Header()[k] = v
			}
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`["fr","en"]`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func fastClient(retries int) *Client {
	return NewClient(
		WithMaxRetries(retries),
		WithBaseDelay(time.Millisecond),
		WithMaxDelay(5*time.Millisecond),
	)
}

// =============================================================================
// Retries
// =============================================================================

func TestGetJSONRetriesTransientStatus(t *testing.T) {
	for _, status := range []int{http.StatusBadGateway, http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv, calls := flakyServer(t, 2, status, nil)

			var got []string
			if err := fastClient(3).GetJSON(context.Background(), srv.URL, &got); err != nil {
				t.Fatalf("GetJSON: %v", err)
			}
			if len(got) != 2 {
				t.Errorf("unexpected body %v", got)
			}
			if n := calls.Load(); n != 3 {
				t.Errorf("expected 3 calls (2 failures + 1 success), got %d", n)
			}
		})
	}
}

func TestGetJSONExhaustsRetries(t *testing.T) {
	srv, calls := flakyServer(t, 100, http.StatusServiceUnavailable, nil)

	var v any
	err := fastClient(2).GetJSON(context.Background(), srv.URL, &v)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.Attempts != 3 || !se.Transient() {
		t.Errorf("unexpected error %+v", se)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", n)
	}
}

func TestGetJSONNoRetryOnClientError(t *testing.T) {
	srv, calls := flakyServer(t, 100, http.StatusNotFound, nil)

	var v any
	err := fastClient(3).GetJSON(context.Background(), srv.URL, &v)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("expected a 404 StatusError, got %v", err)
	}
	if se.Transient() {
		t.Error("404 should not be transient")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 call, got %d", n)
	}
}

func TestGetJSONZeroRetries(t *testing.T) {
	srv, calls := flakyServer(t, 1, http.StatusBadGateway, nil)

	var v any
	if err := fastClient(0).GetJSON(context.Background(), srv.URL, &v); err == nil {
		t.Fatal("expected error with 0 retries on 502")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 call with 0 retries, got %d", n)
	}
}

func TestGetJSONHonoursRetryAfterCap(t *testing.T) {
	// The server asks for an hour; maxDelay keeps the wait short.
	srv, calls := flakyServer(t, 1, http.StatusTooManyRequests, http.Header{"Retry-After": {"3600"}})

	start := time.Now()
	var v []string
	if err := fastClient(1).GetJSON(context.Background(), srv.URL, &v); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Retry-After was not capped by maxDelay")
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("expected 2 calls, got %d", n)
	}
}

func TestGetJSONContextCancelled(t *testing.T) {
	srv, _ := flakyServer(t, 100, http.StatusBadGateway, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(WithMaxRetries(5), WithBaseDelay(time.Second))
	var v any
	if err := c.GetJSON(ctx, srv.URL, &v); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// =============================================================================
// Decoding and headers
// =============================================================================

func TestGetJSONHeaders(t *testing.T) {
	var ua, accept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		accept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"fr"},{"id":"en"}]`))
	}))
	defer srv.Close()

	c := NewClient(WithUserAgent("sheetqa/test"))
	var got []map[string]string
	if err := c.GetJSON(context.Background(), srv.URL, &got); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if len(got) != 2 || got[1]["id"] != "en" {
		t.Errorf("unexpected body %v", got)
	}
	if ua != "sheetqa/test" {
		t.Errorf("expected user agent sheetqa/test, got %q", ua)
	}
	if accept != "application/json" {
		t.Errorf("expected Accept application/json, got %q", accept)
	}
}

func TestGetJSONBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	var v any
	if err := NewClient().GetJSON(context.Background(), srv.URL, &v); err == nil {
		t.Fatal("expected decode error")
	}
}

// =============================================================================
// Delays
// =============================================================================

func TestBackoffCapped(t *testing.T) {
	c := &Client{
		baseDelay: 100 * time.Millisecond,
		maxDelay:  200 * time.Millisecond,
	}
	for n := 1; n <= 40; n++ {
		d := c.backoff(n)
		if d < 0 || d > c.maxDelay {
			t.Errorf("retry %d: delay %v outside [0, %v]", n, d, c.maxDelay)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		value string
		want  time.Duration
		ok    bool
	}{
		{"", 0, false},
		{"7", 7 * time.Second, true},
		{"-1", 0, false},
		{"soon", 0, false},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second, true},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			h := http.Header{}
			if tt.value != "" {
				h.Set("Retry-After", tt.value)
			}
			got, ok := retryAfter(h, now)
			if got != tt.want || ok != tt.ok {
				t.Errorf("retryAfter(%q) = %v, %v; want %v, %v", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}
}
