// Package collyfetcher implements citation.Fetcher using gocolly with a
// bounded, immediate-retry attempt budget.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/snp-citation-crawler/internal/citation"
	"github.com/JakeFAU/snp-citation-crawler/internal/metrics"
)

// Defaults mirror the behaviour the lookup endpoint has tolerated so far.
const (
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_11_0) " +
		"AppleWebKit/601.1.56 (KHTML, like Gecko) " +
		"Version/9.0 Safari/601.1.56"
	DefaultContentType    = "application/x-www-form-urlencoded;charset=utf-8"
	DefaultRequestTimeout = 10 * time.Second
	DefaultMaxAttempts    = 10
)

// Waiter gates each attempt, typically a rate limiter.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls collector behavior. Zero values fall back to the defaults.
type Config struct {
	UserAgent      string
	ContentType    string
	RequestTimeout time.Duration
	MaxAttempts    int
	// Transport replaces the pooled HTTP transport, mainly for tests.
	Transport http.RoundTripper
	Limiter   Waiter
	Logger    *zap.Logger
}

// Fetcher implements citation.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// attemptResult is filled in by the collector callbacks.
type attemptResult struct {
	body   []byte
	status int
	err    error
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.ContentType == "" {
		cfg.ContentType = DefaultContentType
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.UserAgent(cfg.UserAgent),
	)
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.RequestTimeout)

	return &Fetcher{
		cfg:           cfg,
		logger:        logger,
		baseCollector: c,
	}
}

// Fetch GETs url, retrying transient failures immediately until the attempt
// budget runs out. Failures are reported as *AttemptError, which matches
// citation.ErrFetchFailed.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if f.cfg.Limiter != nil {
			if err := f.cfg.Limiter.Wait(ctx, url); err != nil {
				return nil, &AttemptError{URL: url, Attempts: attempt - 1, Err: err}
			}
		}

		start := time.Now()
		res := f.attempt(ctx, url)
		metrics.ObserveFetchDuration(time.Since(start))
		if res.err == nil {
			metrics.ObserveFetchAttempt(metrics.AttemptOK)
			return res.body, nil
		}
		lastErr = res.err

		if ctx.Err() != nil || !Retryable(res.err, res.status) {
			metrics.ObserveFetchAttempt(metrics.AttemptFatal)
			return nil, &AttemptError{URL: url, Attempts: attempt, Status: res.status, Err: res.err}
		}
		metrics.ObserveFetchAttempt(metrics.AttemptRetry)
		f.logger.Warn("error occurred, reloading",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("status_code", res.status),
			zap.Error(res.err),
		)
	}
	return nil, &AttemptError{URL: url, Attempts: f.cfg.MaxAttempts, Err: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, url string) attemptResult {
	var res attemptResult
	collector := f.buildCollector(&res)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return attemptResult{err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err := <-done:
		switch {
		case res.err != nil:
			res.err = fmt.Errorf("colly response failed: %w", res.err)
		case err != nil:
			res.err = fmt.Errorf("colly visit failed: %w", err)
		}
		return res
	}
}

func (f *Fetcher) buildCollector(res *attemptResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	f.configureCollectorHooks(collector, res)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, res *attemptResult) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Content-Type", f.cfg.ContentType)
		r.Headers.Set("User-Agent", f.cfg.UserAgent)
	})

	hooks.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
		}
		res.err = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}

// AttemptError is the terminal failure of a Fetch.
type AttemptError struct {
	URL      string
	Attempts int
	Status   int
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

// Unwrap exposes both the fetch-failed sentinel and the last attempt error.
func (e *AttemptError) Unwrap() []error {
	return []error{citation.ErrFetchFailed, e.Err}
}

// AttemptCount reports how many attempts were made before giving up.
func (e *AttemptError) AttemptCount() int {
	return e.Attempts
}

// AttemptsOf returns the number of attempts recorded in err, or 0.
func AttemptsOf(err error) int {
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Attempts
	}
	return 0
}
