package vocab

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/sheetqa/internal/version"
	"github.com/jmylchreest/sheetqa/pkg/httputil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the NAKALA API root.
const DefaultBaseURL = "https://api.nakala.fr"

// DefaultTimeout bounds one AllowedValues call, retries included.
const DefaultTimeout = 10 * time.Second

// DefaultRequestsPerSecond and DefaultBurst pace requests to the API.
const (
	DefaultRequestsPerSecond = 4
	DefaultBurst             = 4
)

// DefaultEndpoints maps vocabulary names to API paths.
var DefaultEndpoints = map[string]string{
	"deposit_types": "/vocabularies/deposittypes",
	"licenses":      "/vocabularies/licenses",
	"languages":     "/vocabularies/languages?limit=10000",
}

// Client fetches vocabularies over HTTP. Successful fetches are cached in
// memory, and on disk when a cache path is set; failures are not cached so
// the next call retries. Concurrent fetches of one vocabulary share a single
// request.
type Client struct {
	baseURL   string
	endpoints map[string]string
	http      *httputil.Client
	timeout   time.Duration
	cachePath string
	limiter   *rate.Limiter

	mu     sync.RWMutex
	cache  map[string][]string
	group  singleflight.Group
	saveMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the retrying HTTP client.
func WithHTTPClient(hc *httputil.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each AllowedValues call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCachePath persists fetched vocabularies to a JSON file.
func WithCachePath(path string) Option {
	return func(c *Client) { c.cachePath = path }
}

// WithRateLimit paces outgoing requests. Cached lookups are not limited.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithEndpoint adds or replaces the API path of one vocabulary.
func WithEndpoint(name, path string) Option {
	return func(c *Client) { c.endpoints[name] = path }
}

// NewClient creates a client for the API at baseURL (DefaultBaseURL when
// empty). A readable cache file is loaded immediately.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		endpoints: make(map[string]string, len(DefaultEndpoints)),
		timeout:   DefaultTimeout,
		cache:     make(map[string][]string),
		limiter:   rate.NewLimiter(DefaultRequestsPerSecond, DefaultBurst),
	}
	for k, v := range DefaultEndpoints {
		c.endpoints[k] = v
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = httputil.NewClient(httputil.WithUserAgent(version.UserAgent()))
	}
	if c.cachePath != "" {
		if err := c.loadCache(); err != nil {
			vocabLog.Printf("ignoring vocabulary cache %s: %v", c.cachePath, err)
		}
	}
	return c
}

// AllowedValues implements rules.VocabularyProvider.
func (c *Client) AllowedValues(name string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.Fetch(ctx, name)
}

// Fetch returns the named vocabulary, from cache when possible.
func (c *Client) Fetch(ctx context.Context, name string) ([]string, error) {
	if v, ok := c.cached(name); ok {
		return v, nil
	}
	endpoint, ok := c.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVocabulary, name)
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		if v, ok := c.cached(name); ok {
			return v, nil
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("fetch vocabulary %s: %w", name, err)
		}
		var items []any
		if err := c.http.GetJSON(ctx, c.baseURL+endpoint, &items); err != nil {
			return nil, fmt.Errorf("fetch vocabulary %s: %w", name, err)
		}
		values := parseItems(items)

		c.mu.Lock()
		c.cache[name] = values
		c.mu.Unlock()
		if err := c.saveCache(); err != nil {
			vocabLog.Printf("write vocabulary cache: %v", err)
		}
		return values, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), v.([]string)...), nil
}

// Prefetch fetches the named vocabularies concurrently, or every known one
// when names is empty.
func (c *Client) Prefetch(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = c.Names()
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			_, err := c.Fetch(ctx, name)
			return err
		})
	}
	return g.Wait()
}

// Invalidate drops a vocabulary from the in-memory cache.
func (c *Client) Invalidate(name string) {
	c.mu.Lock()
	delete(c.cache, name)
	c.mu.Unlock()
}

// Names lists the vocabularies the client can fetch, sorted.
func (c *Client) Names() []string {
	names := make([]string, 0, len(c.endpoints))
	for n := range c.endpoints {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Client) cached(name string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.cache[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), v...), true
}

func (c *Client) loadCache() error {
	data, err := os.ReadFile(c.cachePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var stored map[string][]string
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	c.mu.Lock()
	for k, v := range stored {
		c.cache[k] = v
	}
	c.mu.Unlock()
	return nil
}

// saveCache writes the cache through a temp file so readers never see a
// partial file.
func (c *Client) saveCache() error {
	if c.cachePath == "" {
		return nil
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	c.mu.RLock()
	data, err := json.MarshalIndent(c.cache, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.cachePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".vocab-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.cachePath)
}
