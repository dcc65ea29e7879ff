package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/user/article-capture/internal/repository"
	"github.com/user/article-capture/pkg/metrics"
)

// DefaultStartURLs returns the listing pages a crawl starts from.
func DefaultStartURLs(baseURL string) []string {
	base := strings.TrimRight(baseURL, "/")
	return []string{
		base + "/de/article",
		base + "/de/knowledge",
		base + "/de/library",
	}
}

// Discoverer crawls the site breadth-first and stores every new article URL
// it comes across.
type Discoverer struct {
	fetcher   Fetcher
	extractor *Extractor
	store     repository.URLRepository
	logger    *zap.Logger

	visited    repository.VisitedRepository
	visitedTTL time.Duration
	maxPages   int
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithVisited shares the set of fetched pages with other discoverers for ttl.
func WithVisited(v repository.VisitedRepository, ttl time.Duration) Option {
	return func(d *Discoverer) {
		d.visited = v
		d.visitedTTL = ttl
	}
}

// WithMaxPages stops the crawl after n fetched pages; n <= 0 means no limit.
func WithMaxPages(n int) Option {
	return func(d *Discoverer) { d.maxPages = n }
}

func NewDiscoverer(fetcher Fetcher, extractor *Extractor, store repository.URLRepository, logger *zap.Logger, opts ...Option) *Discoverer {
	d := &Discoverer{
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover crawls from startURLs and returns the article URLs newly added to
// the store. Pages that fail to load are skipped. A store error stops the
// crawl and is returned with the URLs added so far.
func (d *Discoverer) Discover(ctx context.Context, startURLs []string) ([]string, error) {
	queue := append([]string(nil), startURLs...)
	queued := make(map[string]struct{}, len(queue))
	for _, u := range queue {
		queued[u] = struct{}{}
	}

	var found []string
	pages := 0
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		if d.maxPages > 0 && pages >= d.maxPages {
			d.logger.Info("page limit reached", zap.Int("pages", pages), zap.Int("queued", len(queue)))
			break
		}
		page := queue[0]
		queue = queue[1:]

		if d.visitedElsewhere(ctx, page) {
			continue
		}

		html, err := d.fetcher.Fetch(ctx, page)
		pages++
		if err != nil {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			d.logger.Warn("skipping page", zap.String("url", page), zap.Error(err))
			continue
		}
		d.markVisited(ctx, page)

		links, err := d.extractor.ExtractLinks(html, page)
		if err != nil {
			d.logger.Warn("link extraction failed", zap.String("url", page), zap.Error(err))
		}

		for _, articleURL := range d.extractor.ExtractArticles(html, links) {
			slug, ok := d.extractor.SlugFromURL(articleURL)
			if !ok {
				continue
			}
			added, err := d.store.AddURL(ctx, slug, articleURL)
			if err != nil {
				return found, fmt.Errorf("store %s: %w", slug, err)
			}
			if added {
				metrics.DiscoveredTotal.Inc()
				found = append(found, articleURL)
				d.logger.Info("discovered article", zap.String("slug", slug), zap.String("url", articleURL))
			}
		}

		for _, link := range links {
			if _, ok := queued[link]; ok {
				continue
			}
			queued[link] = struct{}{}
			queue = append(queue, link)
		}
	}

	d.logger.Info("discovery finished", zap.Int("pages", pages), zap.Int("new_urls", len(found)))
	return found, nil
}

func (d *Discoverer) visitedElsewhere(ctx context.Context, page string) bool {
	if d.visited == nil {
		return false
	}
	ok, err := d.visited.IsVisited(ctx, page)
	if err != nil {
		d.logger.Warn("visited lookup failed", zap.String("url", page), zap.Error(err))
		return false
	}
	return ok
}

func (d *Discoverer) markVisited(ctx context.Context, page string) {
	if d.visited == nil {
		return
	}
	if err := d.visited.MarkVisited(ctx, page, d.visitedTTL); err != nil {
		d.logger.Warn("mark visited failed", zap.String("url", page), zap.Error(err))
	}
}

// Forget drops pages from the shared visited set so the next crawl fetches
// them again. It is a no-op without a shared set.
func (d *Discoverer) Forget(ctx context.Context, pages []string) error {
	if d.visited == nil {
		return nil
	}
	for _, p := range pages {
		if err := d.visited.RemoveVisited(ctx, p); err != nil {
			return fmt.Errorf("forget %s: %w", p, err)
		}
	}
	return nil
}
