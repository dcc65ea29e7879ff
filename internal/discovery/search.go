package discovery

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/user/article-capture/internal/capture"
)

var loadMoreSelectors = []capture.Selector{
	capture.Text("Mehr anzeigen"),
	capture.Text("Show more"),
	capture.CSS(`[data-testid='load-more-button']`),
	capture.CSS(".load-more-button"),
	capture.HasText("button", "Mehr anzeigen"),
	capture.HasText("button", "Show more"),
}

const (
	countArticleLinksScript = `document.querySelectorAll("a[href*='/de/article/']").length`
	collectArticleLinksScript = `Array.from(document.querySelectorAll("a[href]"))
	.map(a => a.href)
	.filter(h => h && h.includes("/de/article/"))`
)

// SearchConfig tunes the search page crawl.
type SearchConfig struct {
	MaxClicks int
	// ScrollWait follows scrolling the button into view; ClickWait follows
	// the click while new results render.
	ScrollWait time.Duration
	ClickWait  time.Duration
	// ErrorWait is the pause after a failed click attempt.
	ErrorWait time.Duration
}

func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MaxClicks:  50,
		ScrollWait: 500 * time.Millisecond,
		ClickWait:  time.Second,
		ErrorWait:  2 * time.Second,
	}
}

// SearchExtractor collects article URLs from the paginated search results.
type SearchExtractor struct {
	cfg       SearchConfig
	extractor *Extractor
	logger    *zap.Logger
}

func NewSearchExtractor(cfg SearchConfig, extractor *Extractor, logger *zap.Logger) *SearchExtractor {
	return &SearchExtractor{cfg: cfg, extractor: extractor, logger: logger}
}

// ExtractFromSearch opens searchURL in page, loads every result page and
// returns the sorted, de-duplicated article URLs. page must already carry an
// authenticated session.
func (s *SearchExtractor) ExtractFromSearch(ctx context.Context, page capture.Page, searchURL string) ([]string, error) {
	if err := page.Navigate(ctx, searchURL); err != nil {
		return nil, err
	}
	if err := page.WaitReady(ctx); err != nil {
		return nil, err
	}
	if err := s.loadAll(ctx, page); err != nil {
		return nil, err
	}

	var hrefs []string
	if err := page.Evaluate(ctx, collectArticleLinksScript, &hrefs); err != nil {
		return nil, fmt.Errorf("collect links: %w", err)
	}
	urls := s.clean(hrefs)
	s.logger.Info("search extraction finished", zap.Int("links", len(hrefs)), zap.Int("articles", len(urls)))
	return urls, nil
}

// loadAll clicks "load more" until it disappears, stops adding links, or
// the click budget runs out.
func (s *SearchExtractor) loadAll(ctx context.Context, page capture.Page) error {
	last := -1
	for attempt := 0; attempt < s.cfg.MaxClicks; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		clicked, err := s.clickLoadMore(ctx, page)
		if err != nil {
			s.logger.Warn("load more failed", zap.Int("attempt", attempt+1), zap.Error(err))
			if err := wait(ctx, s.cfg.ErrorWait); err != nil {
				return err
			}
			continue
		}
		if !clicked {
			s.logger.Info("all search results loaded", zap.Int("clicks", attempt))
			return nil
		}

		var count int
		if err := page.Evaluate(ctx, countArticleLinksScript, &count); err != nil {
			s.logger.Debug("link count failed", zap.Error(err))
		}
		if count == last {
			s.logger.Info("no new results after click, stopping", zap.Int("links", count))
			return nil
		}
		last = count
	}
	s.logger.Warn("reached maximum load more clicks", zap.Int("max", s.cfg.MaxClicks))
	return nil
}

func (s *SearchExtractor) clickLoadMore(ctx context.Context, page capture.Page) (bool, error) {
	for _, sel := range loadMoreSelectors {
		el, found, err := capture.FirstVisible(ctx, page, sel)
		if err != nil || !found {
			continue
		}
		if err := page.ScrollIntoView(ctx, el); err != nil {
			return false, err
		}
		if err := wait(ctx, s.cfg.ScrollWait); err != nil {
			return false, err
		}
		if err := page.Click(ctx, el); err != nil {
			return false, err
		}
		if err := page.WaitReady(ctx); err != nil {
			return false, err
		}
		return true, wait(ctx, s.cfg.ClickWait)
	}
	return false, nil
}

func (s *SearchExtractor) clean(hrefs []string) []string {
	set := make(map[string]struct{}, len(hrefs))
	for _, h := range hrefs {
		if u, ok := s.extractor.ArticleURL(h); ok {
			set[u] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// WriteURLList writes one URL per line.
func WriteURLList(w io.Writer, urls []string) error {
	bw := bufio.NewWriter(w)
	for _, u := range urls {
		if _, err := bw.WriteString(u + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
