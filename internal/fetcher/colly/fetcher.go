// Package collyfetcher implements crawler.Fetcher using gocolly, with
// retry/backoff and an optional host rate limit.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Headers   http.Header
}

// Waiter throttles requests before they are sent.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements crawler.Fetcher using the Colly collector. Both the
// listing and detail stages share one instance.
type Fetcher struct {
	cfg           Config
	policy        crawler.RetryPolicy
	limiter       Waiter
	logger        *zap.Logger
	baseCollector *colly.Collector
	sleep         func(ctx context.Context, d time.Duration) error
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter throttles every attempt through w.
func WithLimiter(w Waiter) Option {
	return func(f *Fetcher) {
		f.limiter = w
	}
}

// WithTransport replaces the HTTP transport used by the collector.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		f.baseCollector.WithTransport(rt)
	}
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. A nil policy makes a single attempt.
func New(cfg Config, policy crawler.RetryPolicy, logger *zap.Logger, opts ...Option) *Fetcher {
	if policy == nil {
		policy = crawler.NewFixedRetryPolicy(1, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	// Non-2xx responses reach OnResponse so the status can be classified.
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	f := &Fetcher{
		cfg:           cfg,
		policy:        policy,
		logger:        logger.With(zap.String("component", "fetcher")),
		baseCollector: c,
		sleep:         sleepCtx,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves url, retrying transient failures per the retry policy.
// Failures are returned as *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.attempt(ctx, url)
		if err == nil {
			resp.Attempts = attempt
			metrics.ObserveFetch(url, "ok", len(resp.Body))
			return resp, nil
		}

		var fetchErr *crawler.FetchError
		if !errors.As(err, &fetchErr) {
			fetchErr = &crawler.FetchError{Kind: crawler.FetchTransient, URL: url, Err: err}
		}
		fetchErr.Attempts = attempt

		if !f.policy.ShouldRetry(fetchErr, attempt) {
			metrics.ObserveFetch(url, string(fetchErr.Kind), 0)
			return crawler.FetchResponse{}, fetchErr
		}

		wait := f.policy.Backoff(attempt)
		metrics.ObserveRetry(url)
		f.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(fetchErr))
		if err := f.sleep(ctx, wait); err != nil {
			metrics.ObserveFetch(url, string(crawler.FetchTransient), 0)
			return crawler.FetchResponse{}, &crawler.FetchError{
				Kind: crawler.FetchTransient, URL: url, Attempts: attempt, Err: err,
			}
		}
	}
}

func (f *Fetcher) attempt(ctx context.Context, url string) (crawler.FetchResponse, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return crawler.FetchResponse{}, &crawler.FetchError{Kind: crawler.FetchTransient, URL: url, Err: err}
		}
	}

	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, time.Now(), &result, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{Kind: classify(err), URL: url, Err: err}
	}
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return crawler.FetchResponse{}, &crawler.FetchError{
			Kind:       classifyStatus(result.StatusCode),
			URL:        url,
			StatusCode: result.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", http.StatusText(result.StatusCode)),
		}
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		*fetchErr = err
		if r != nil && r.StatusCode != 0 {
			result.StatusCode = r.StatusCode
		}
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// classify maps a transport level failure to a fetch error kind.
func classify(err error) crawler.FetchErrorKind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return crawler.FetchTransient
	case errors.Is(err, colly.ErrForbiddenDomain),
		errors.Is(err, colly.ErrMissingURL),
		errors.Is(err, colly.ErrRobotsTxtBlocked):
		return crawler.FetchPermanent
	}

	var visited *colly.AlreadyVisitedError
	if errors.As(err, &visited) {
		return crawler.FetchPermanent
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return crawler.FetchPermanent
	}
	// Connection resets, timeouts and anything unrecognized get another try.
	return crawler.FetchTransient
}

// classifyStatus maps a non-2xx status: 5xx is worth retrying, everything
// else is permanent.
func classifyStatus(code int) crawler.FetchErrorKind {
	if code >= 500 && code <= 599 {
		return crawler.FetchTransient
	}
	return crawler.FetchPermanent
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
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
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
