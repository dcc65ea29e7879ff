// Package discovery finds article URLs: by crawling the site's listing
// pages, by paging through the search results in the browser, or by
// importing a URL list file.
package discovery

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Fetcher returns the HTML body of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetcherConfig configures the HTTP page fetcher.
type FetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
	// Delay is the minimum gap between two requests; zero disables pacing.
	Delay time.Duration
	// Retries is the number of extra attempts after a failed request.
	Retries      int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	Cookies      []*http.Cookie
}

// DefaultFetcherConfig returns three attempts, a 30s timeout and a one
// second pause between requests.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:      30 * time.Second,
		Delay:        time.Second,
		Retries:      2,
		RetryWait:    time.Second,
		RetryMaxWait: 8 * time.Second,
	}
}

// HTTPFetcher fetches listing pages with the session cookies attached.
type HTTPFetcher struct {
	client *resty.Client
	logger *zap.Logger
}

var _ Fetcher = (*HTTPFetcher)(nil)

func NewHTTPFetcher(cfg FetcherConfig, logger *zap.Logger) *HTTPFetcher {
	client := resty.New()
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	client.SetHeader("Accept", "text/html,application/xhtml+xml")
	client.SetTimeout(cfg.Timeout)
	client.SetRetryCount(cfg.Retries)
	client.SetRetryWaitTime(cfg.RetryWait)
	client.SetRetryMaxWaitTime(cfg.RetryMaxWait)
	client.AddRetryCondition(func(resp *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= http.StatusInternalServerError
	})
	client.AddRetryHook(func(resp *resty.Response, err error) {
		var fields []zap.Field
		if resp != nil && resp.Request != nil {
			fields = append(fields, zap.String("url", resp.Request.URL))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		} else if resp != nil {
			fields = append(fields, zap.Int("status", resp.StatusCode()))
		}
		logger.Warn("fetch failed, retrying", fields...)
	})
	if len(cfg.Cookies) > 0 {
		client.SetCookies(cfg.Cookies)
	}

	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	limiter := rate.NewLimiter(limit, 1)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	return &HTTPFetcher{client: client, logger: logger}
}

// Fetch GETs url and returns its body. Non-2xx responses are errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode())
	}
	f.logger.Debug("fetched page", zap.String("url", url), zap.Int("bytes", len(resp.Body())), zap.Duration("took", resp.Time()))
	return resp.String(), nil
}
