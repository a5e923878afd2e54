// Package fetch retrieves pages politely: bounded retries, per-host delay
// and concurrency caps, size and content-type gates, and an optional
// headless rendering fallback.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/sshtomar/llm-txt/internal/generator"
)

// DefaultMaxBodyBytes caps a single page at 5 MiB.
const DefaultMaxBodyBytes = 5 << 20

// Content types admitted to extraction.
var allowedContentTypes = map[string]struct{}{
	"text/html":             {},
	"application/xhtml+xml": {},
	"text/plain":            {},
}

// Config controls the static fetcher.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	MaxBodyBytes   int
	Retry          RetryPolicy
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Retry.MaxRetries == 0 && c.Retry.BaseDelay == 0 {
		c.Retry = NewRetryPolicy()
	}
}

// CollyFetcher implements generator.Fetcher using the Colly collector.
type CollyFetcher struct {
	base   *colly.Collector
	gate   *HostGate
	cfg    Config
	logger *zap.Logger
}

// NewCollyFetcher constructs a configured Colly-based fetcher. Robots
// enforcement belongs to the robots package, so the collector's own robots
// handling is disabled.
func NewCollyFetcher(cfg Config, gate *HostGate, logger *zap.Logger) (*CollyFetcher, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
	)
	base.AllowURLRevisit = true
	base.MaxBodySize = cfg.MaxBodyBytes + 1
	base.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	return &CollyFetcher{
		base:   base,
		gate:   gate,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Fetch retrieves rawURL, retrying on 5xx and network errors per the policy
// and honoring Retry-After on 429. It returns a typed error for anything
// extraction cannot consume.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (generator.FetchResult, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return generator.FetchResult{}, fmt.Errorf("%w: parse %q: %v", ErrNetwork, rawURL, err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		res, fetchErr := f.fetchOnce(ctx, parsed.Host, rawURL)
		if fetchErr == nil {
			return res, nil
		}
		lastErr = fetchErr

		wait, retry := f.retryDecision(fetchErr, res, attempt)
		if !retry {
			break
		}
		f.logger.Debug("retrying fetch",
			zap.String("url", rawURL), zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait), zap.Error(fetchErr))
		if err := sleepCtx(ctx, wait); err != nil {
			return generator.FetchResult{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}
	return generator.FetchResult{}, lastErr
}

// retryDecision classifies an attempt failure. 429 honors Retry-After when
// present; network errors and 5xx back off exponentially; everything else is
// final.
func (f *CollyFetcher) retryDecision(fetchErr error, res generator.FetchResult, attempt int) (time.Duration, bool) {
	if errors.Is(fetchErr, ErrNonHTML) || errors.Is(fetchErr, ErrTooLarge) {
		return 0, false
	}
	if errors.Is(fetchErr, ErrHTTPStatus) {
		if !f.cfg.Retry.Retryable(res.StatusCode, attempt) {
			return 0, false
		}
		if res.StatusCode == http.StatusTooManyRequests {
			if after := RetryAfter(res.Headers, time.Now()); after > 0 {
				return after, true
			}
		}
		return f.cfg.Retry.Backoff(attempt), true
	}
	if errors.Is(fetchErr, ErrNetwork) || errors.Is(fetchErr, ErrTimeout) {
		if attempt >= f.cfg.Retry.MaxRetries {
			return 0, false
		}
		return f.cfg.Retry.Backoff(attempt), true
	}
	return 0, false
}

func (f *CollyFetcher) fetchOnce(ctx context.Context, host, rawURL string) (generator.FetchResult, error) {
	if f.gate != nil {
		release, err := f.gate.Acquire(ctx, host)
		if err != nil {
			return generator.FetchResult{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		defer release()
	}
	if err := ctx.Err(); err != nil {
		return generator.FetchResult{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	collector := f.base.Clone()
	resultCh := make(chan fetchOutcome, 1)
	var once sync.Once
	send := func(out fetchOutcome) {
		once.Do(func() { resultCh <- out })
	}

	start := time.Now()
	collector.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			for k, v := range *r.Headers {
				cp := make([]string, len(v))
				copy(cp, v)
				headers[k] = cp
			}
		}
		send(fetchOutcome{res: generator.FetchResult{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Elapsed:    time.Since(start),
		}})
	})
	collector.OnError(func(r *colly.Response, err error) {
		out := fetchOutcome{err: err}
		if r != nil {
			out.res = generator.FetchResult{
				URL:        rawURL,
				StatusCode: r.StatusCode,
				Elapsed:    time.Since(start),
			}
			if r.Headers != nil {
				out.res.Headers = http.Header{}
				for k, v := range *r.Headers {
					out.res.Headers[k] = append([]string(nil), v...)
				}
			}
		}
		send(out)
	})

	if err := collector.Visit(rawURL); err != nil {
		return generator.FetchResult{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	collector.Wait()

	select {
	case out := <-resultCh:
		return f.classify(out)
	default:
		return generator.FetchResult{}, fmt.Errorf("%w: fetch produced no result", ErrNetwork)
	}
}

func (f *CollyFetcher) classify(out fetchOutcome) (generator.FetchResult, error) {
	if out.err != nil {
		if out.res.StatusCode >= 400 {
			return out.res, fmt.Errorf("%w: status %d for %s", ErrHTTPStatus, out.res.StatusCode, out.res.URL)
		}
		var netErr net.Error
		if errors.As(out.err, &netErr) && netErr.Timeout() {
			return out.res, fmt.Errorf("%w: %v", ErrTimeout, out.err)
		}
		if errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, context.Canceled) {
			return out.res, fmt.Errorf("%w: %v", ErrTimeout, out.err)
		}
		return out.res, fmt.Errorf("%w: %v", ErrNetwork, out.err)
	}

	res := out.res
	if res.StatusCode >= 400 {
		return res, fmt.Errorf("%w: status %d for %s", ErrHTTPStatus, res.StatusCode, res.URL)
	}
	if len(res.Body) > f.cfg.MaxBodyBytes {
		return res, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(res.Body), f.cfg.MaxBodyBytes)
	}
	ct := res.Headers.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil && ct != "" {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	}
	if _, ok := allowedContentTypes[mediaType]; !ok {
		return res, fmt.Errorf("%w: content type %q for %s", ErrNonHTML, ct, res.URL)
	}
	return res, nil
}

type fetchOutcome struct {
	res generator.FetchResult
	err error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
