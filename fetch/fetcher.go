// Package fetch implements the retrying HTTP client used by every stage that
// touches the network.
//
// Connection-level failures are retried with exponential backoff and finally
// reported as a terminal ErrConnectionFailed; HTTP error statuses are not
// retried — they come back as ordinary Responses so callers can apply their
// own policy.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// ErrConnectionFailed marks a fetch that exhausted its retry budget without
// ever receiving a response.
var ErrConnectionFailed = errors.New("fetch: connection failed")

// ErrRobotsDenied marks a URL the target host's robots.txt disallows.
var ErrRobotsDenied = errors.New("fetch: blocked by robots.txt")

// Config configures the fetcher.
type Config struct {
	// Timeout per HTTP attempt. Default: 30s.
	Timeout time.Duration
	// MaxRetries is the total number of connection attempts. Default: 5.
	MaxRetries int
	// BackoffUnit is the base backoff: attempt i sleeps BackoffUnit * 2^i
	// before the next try. Default: 1s.
	BackoffUnit time.Duration
	// MaxBytes caps the response body size. Default: 32MB.
	MaxBytes int64
	// UserAgent sent with every request.
	UserAgent string
	// RespectRobots gates requests through the host's robots.txt.
	RespectRobots bool
	// Transport overrides the default transport (tests).
	Transport http.RoundTripper
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 32 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "regsift/1.0"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Response is the outcome of a successful exchange. A non-2xx status is
// still a Response, not an error.
type Response struct {
	StatusCode  int
	Body        []byte
	ContentType string
	Header      http.Header
	FinalURL    string
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher performs retrying HTTP requests. Safe for concurrent use; each
// call builds its own request and shares only the underlying client and the
// robots cache.
type Fetcher struct {
	client *http.Client
	config Config

	mu     sync.Mutex
	robots map[string]*robotstxt.RobotsData
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		config: cfg,
		robots: make(map[string]*robotstxt.RobotsData),
	}
}

// Option adjusts a single Fetch call.
type Option func(*callOptions)

type callOptions struct {
	method     string
	header     http.Header
	maxRetries int
}

// WithMethod overrides the HTTP method (default GET).
func WithMethod(method string) Option {
	return func(o *callOptions) { o.method = method }
}

// WithHeader adds a request header.
func WithHeader(key, value string) Option {
	return func(o *callOptions) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Set(key, value)
	}
}

// WithMaxRetries overrides the configured retry budget for one call.
func WithMaxRetries(n int) Option {
	return func(o *callOptions) { o.maxRetries = n }
}

// Fetch retrieves a URL, retrying connection failures with exponential
// backoff. It returns ErrConnectionFailed (wrapped) after the retry budget
// is spent, and ErrRobotsDenied when the host's robots.txt disallows the
// path. The backoff timer honours ctx cancellation.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts ...Option) (*Response, error) {
	co := callOptions{method: http.MethodGet, maxRetries: f.config.MaxRetries}
	for _, opt := range opts {
		opt(&co)
	}

	if f.config.RespectRobots {
		if err := f.checkRobots(ctx, rawURL); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 0; attempt < co.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, co.method, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch: new request: %w", err)
		}
		req.Header.Set("User-Agent", f.config.UserAgent)
		for key, vals := range co.header {
			for _, v := range vals {
				req.Header.Add(key, v)
			}
		}

		resp, err := f.client.Do(req)
		if err == nil {
			return f.readResponse(resp)
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt < co.maxRetries-1 {
			wait := f.config.BackoffUnit * (1 << uint(attempt))
			f.config.Logger.Warn("fetch: connection error, retrying",
				"url", rawURL, "attempt", attempt+1, "max_retries", co.maxRetries,
				"backoff_ms", wait.Milliseconds(), "error", err)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, rawURL, ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v",
		ErrConnectionFailed, rawURL, co.maxRetries, lastErr)
}

func (f *Fetcher) readResponse(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	finalURL := ""
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &Response{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
		FinalURL:    finalURL,
	}, nil
}

// checkRobots consults the cached robots.txt for the URL's host. A host
// whose robots.txt cannot be fetched or parsed allows everything.
func (f *Fetcher) checkRobots(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("fetch: parse url: %w", err)
	}

	f.mu.Lock()
	data, ok := f.robots[u.Host]
	f.mu.Unlock()

	if !ok {
		data = f.loadRobots(ctx, u)
		f.mu.Lock()
		f.robots[u.Host] = data
		f.mu.Unlock()
	}

	if data != nil && !data.TestAgent(u.Path, f.config.UserAgent) {
		return fmt.Errorf("%w: %s", ErrRobotsDenied, rawURL)
	}
	return nil
}

// loadRobots fetches robots.txt once per host. Returns nil (allow all) on
// any failure.
func (f *Fetcher) loadRobots(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		f.config.Logger.Debug("fetch: robots.txt unavailable", "host", u.Host, "error", err)
		return nil
	}
	defer resp.Body.Close()
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		f.config.Logger.Debug("fetch: robots.txt unparseable", "host", u.Host, "error", err)
		return nil
	}
	return data
}
