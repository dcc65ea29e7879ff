package discovery

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/article-capture/pkg/utils"
)

var skippedSchemes = []string{"javascript:", "mailto:", "tel:"}

// Extractor pulls article URLs and same-site links out of HTML. It remembers
// every article URL it returned so each is reported once.
type Extractor struct {
	pattern *regexp.Regexp
	base    *url.URL

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewExtractor compiles pattern, whose first capture group must be the
// article slug.
func NewExtractor(pattern, baseURL string) (*Extractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("article pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("article pattern %q has no slug capture group", pattern)
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	return &Extractor{pattern: re, base: base, seen: make(map[string]struct{})}, nil
}

// ExtractSlugs returns the article URLs in html not returned before.
func (e *Extractor) ExtractSlugs(html string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []string
	for _, m := range e.pattern.FindAllString(html, -1) {
		if _, ok := e.seen[m]; ok {
			continue
		}
		e.seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// ExtractArticles returns the article URLs found in html or among its
// links that were not returned before.
func (e *Extractor) ExtractArticles(html string, links []string) []string {
	out := e.ExtractSlugs(html)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, link := range links {
		u, ok := e.ArticleURL(link)
		if !ok {
			continue
		}
		if _, seen := e.seen[u]; seen {
			continue
		}
		e.seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// SlugFromURL returns the slug captured by the article pattern.
func (e *Extractor) SlugFromURL(rawURL string) (string, bool) {
	m := e.pattern.FindStringSubmatch(rawURL)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// ArticleURL returns the article URL rawURL starts with, dropping any query
// or fragment.
func (e *Extractor) ArticleURL(rawURL string) (string, bool) {
	loc := e.pattern.FindStringIndex(rawURL)
	if loc == nil || loc[0] != 0 {
		return "", false
	}
	return rawURL[:loc[1]], true
}

// ExtractLinks returns the normalized, de-duplicated same-site links in
// html, resolving relative ones against pageURL.
func (e *Extractor) ExtractLinks(html, pageURL string) ([]string, error) {
	page, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || hasSkippedScheme(href) {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := page.ResolveReference(ref)
		if !utils.SameSite(e.base, abs) {
			return
		}
		link := utils.NormalizeURL(abs)
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links, nil
}

func hasSkippedScheme(href string) bool {
	lower := strings.ToLower(href)
	for _, p := range skippedSchemes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
