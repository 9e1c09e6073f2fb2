package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
)

// fetcher issues single GET requests to one marketplace through a colly
// collector. Each call runs on a clone so callbacks never leak between
// concurrent requests; clones share the HTTP backend.
type fetcher struct {
	marketplace string
	collector   *colly.Collector
	metrics     *Metrics
}

func newFetcher(marketplace, baseURL, userAgent string, timeout time.Duration, metrics *Metrics) (*fetcher, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	})

	return &fetcher{
		marketplace: marketplace,
		collector:   collector,
		metrics:     metrics,
	}, nil
}

// WithTransport swaps the HTTP transport, e.g. for a mock in tests.
func (f *fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// Get fetches target and returns the response body, mapping failures onto
// ExternalServiceError or RateLimitedError.
func (f *fetcher) Get(ctx context.Context, target string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := f.collector.Clone()

	var (
		body   []byte
		status int
		start  time.Time
	)
	c.OnRequest(func(r *colly.Request) {
		start = time.Now()
		r.Headers.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		f.metrics.IncRequest(f.marketplace, "started")
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	visitErr := c.Visit(target)
	if !start.IsZero() {
		f.metrics.ObserveDuration(time.Since(start))
	}

	if err := classifyError(f.marketplace, visitErr, status); err != nil {
		f.metrics.IncRequest(f.marketplace, "failed")
		f.metrics.IncError(err)
		slog.Debug("marketplace request failed",
			slog.String("marketplace", f.marketplace),
			slog.String("url", target),
			slog.Int("status", status),
			slog.String("category", errorTypeLabel(err)),
			slog.Any("error", visitErr),
		)
		return nil, err
	}

	f.metrics.IncRequest(f.marketplace, "succeeded")
	return body, nil
}
