// Package collyfetcher retrieves race pages using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-ingest/internal/metrics"
	"github.com/JakeFAU/boatrace-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/boatrace-ingest/internal/policy/retry"
	"github.com/JakeFAU/boatrace-ingest/internal/race"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	// RaceURL is the race page endpoint; query parameters are appended.
	RaceURL string
	// ResultURL optionally serves the finishing order on a separate page.
	ResultURL     string
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements race.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	policy        retry.Policy
	logger        *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter shares a process-wide limiter with the fetcher.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(f *Fetcher) {
		f.policy = p
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		if rt != nil {
			f.transport = rt
		}
	}
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// attemptResult captures what the collector callbacks observed.
type attemptResult struct {
	body       []byte
	statusCode int
	err        error
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) (*Fetcher, error) {
	if _, err := parseEndpoint(cfg.RaceURL); err != nil {
		return nil, fmt.Errorf("race url: %w", err)
	}
	if cfg.ResultURL != "" {
		if _, err := parseEndpoint(cfg.ResultURL); err != nil {
			return nil, fmt.Errorf("result url: %w", err)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	f := &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		limiter:   ratelimit.New(0),
		policy:    retry.New(3, 500*time.Millisecond, 5*time.Second),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.RespectRobots {
		c.WithTransport(&robotsAwareTransport{base: f.transport, logger: f.logger})
	} else {
		c.WithTransport(f.transport)
	}
	f.baseCollector = c
	return f, nil
}

// BuildURL renders the page address for a race.
func BuildURL(endpoint string, key race.Key) (string, error) {
	u, err := parseEndpoint(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("rno", strconv.Itoa(key.RaceNo))
	q.Set("jcd", key.Venue)
	q.Set("hd", key.Date)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch retrieves the race page for key.
func (f *Fetcher) Fetch(ctx context.Context, key race.Key) ([]byte, error) {
	return f.FetchURL(ctx, f.cfg.RaceURL, key)
}

// HasResultURL reports whether results come from a separate page.
func (f *Fetcher) HasResultURL() bool {
	return f.cfg.ResultURL != ""
}

// FetchResults retrieves the separate results page. It returns nil when no
// result endpoint is configured.
func (f *Fetcher) FetchResults(ctx context.Context, key race.Key) ([]byte, error) {
	if !f.HasResultURL() {
		return nil, nil
	}
	return f.FetchURL(ctx, f.cfg.ResultURL, key)
}

// FetchURL retrieves endpoint for key, retrying transient failures.
func (f *Fetcher) FetchURL(ctx context.Context, endpoint string, key race.Key) ([]byte, error) {
	target, err := BuildURL(endpoint, key)
	if err != nil {
		return nil, &race.FetchError{Kind: race.FetchRejected, URL: endpoint, Err: err}
	}

	var body []byte
	policy := f.policy
	userRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		f.logger.Debug("Retrying fetch",
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if userRetry != nil {
			userRetry(attempt, err)
		}
	}
	attempts, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		page, ferr := f.fetchOnce(ctx, target)
		if ferr != nil {
			return ferr
		}
		body = page
		return nil
	})
	if err == nil {
		return body, nil
	}

	var fetchErr *race.FetchError
	if errors.As(err, &fetchErr) {
		fetchErr.Attempts = attempts
		if fetchErr.Kind == race.FetchTransient {
			fetchErr.Kind = race.FetchExhausted
		}
		return nil, fetchErr
	}
	return nil, &race.FetchError{Kind: race.FetchExhausted, URL: target, Attempts: attempts, Err: err}
}

func (f *Fetcher) fetchOnce(ctx context.Context, target string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}

	start := time.Now()
	var result attemptResult
	collector := f.buildCollector(&result)
	if err := f.runCollector(ctx, collector, target, &result); err != nil {
		if ctx.Err() != nil {
			metrics.ObserveFetch("canceled", time.Since(start))
			return nil, err
		}
		kind := classify(result.statusCode, err)
		metrics.ObserveFetch(string(kind), time.Since(start))
		return nil, &race.FetchError{Kind: kind, URL: target, StatusCode: result.statusCode, Err: err}
	}
	metrics.ObserveFetch("ok", time.Since(start))
	return result.body, nil
}

// buildCollector clones the configured base collector; clones share its
// HTTP backend, so per-attempt state lives only in the hooks.
func (f *Fetcher) buildCollector(result *attemptResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, result)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *attemptResult) {
	hooks.OnResponse(func(r *colly.Response) {
		result.statusCode = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.statusCode = r.StatusCode
		}
		result.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, result *attemptResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if result.err != nil {
			return fmt.Errorf("colly response failed: %w", result.err)
		}
		if result.statusCode < 200 || result.statusCode > 299 {
			return fmt.Errorf("unexpected status %d", result.statusCode)
		}
		return nil
	}
}

// classify maps an attempt failure to a fetch error kind.
func classify(statusCode int, err error) race.FetchErrorKind {
	if errors.Is(err, colly.ErrRobotsTxtBlocked) {
		return race.FetchRejected
	}
	if statusCode == 0 {
		return race.FetchTransient
	}
	if RetryableStatus(statusCode) {
		return race.FetchTransient
	}
	return race.FetchRejected
}

// RetryableStatus reports whether an HTTP status is worth another attempt.
func RetryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

func parseEndpoint(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("endpoint is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("endpoint has no host")
	}
	return u, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
