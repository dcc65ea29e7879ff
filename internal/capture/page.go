// Package capture drives an authenticated article page through expansion,
// validation and per-section screenshot capture.
package capture

import (
	"context"
	"fmt"
	"strings"
)

// Rect is an axis-aligned box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.X + r.Width }
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Empty reports whether the rect has no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Viewport describes the emulated browser window.
type Viewport struct {
	Width  int
	Height int
	Scale  float64
}

// Selector addresses page elements. CSS narrows the candidate set; Text, when
// set, keeps only elements whose rendered text contains it (or equals it when
// Exact). Within scopes the search to the first element matching that CSS.
type Selector struct {
	CSS    string
	Text   string
	Exact  bool
	Within string
}

// CSS selects by CSS query.
func CSS(css string) Selector { return Selector{CSS: css} }

// Text selects the innermost elements whose whole text equals text.
func Text(text string) Selector { return Selector{Text: text, Exact: true} }

// HasText selects css elements whose text contains text, case-insensitively.
func HasText(css, text string) Selector { return Selector{CSS: css, Text: text} }

// In scopes s to the first element matching scope.
func (s Selector) In(scope string) Selector {
	s.Within = scope
	return s
}

func (s Selector) String() string {
	var b strings.Builder
	if s.Within != "" {
		b.WriteString(s.Within)
		b.WriteString(" >> ")
	}
	switch {
	case s.Text == "":
		b.WriteString(s.CSS)
	case s.Exact && s.CSS == "":
		fmt.Fprintf(&b, "text=%q", s.Text)
	case s.Exact:
		fmt.Fprintf(&b, "%s:text-is(%q)", s.CSS, s.Text)
	default:
		fmt.Fprintf(&b, "%s:has-text(%q)", s.CSS, s.Text)
	}
	return b.String()
}

// Element is a snapshot of a matched node. Ref is an opaque handle the Page
// implementation resolves back to the live node.
type Element struct {
	Ref     string
	Visible bool
	Box     Rect // viewport coordinates at query time
	Text    string
}

// Page is the subset of browser-tab behaviour the capture pipeline relies on.
// Coordinates are viewport-relative CSS pixels.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitReady(ctx context.Context) error
	Query(ctx context.Context, sel Selector) ([]Element, error)
	Box(ctx context.Context, el Element) (Rect, error)
	Click(ctx context.Context, el Element) error
	JSClick(ctx context.Context, el Element) error
	Fill(ctx context.Context, el Element, value string) error
	ScrollIntoView(ctx context.Context, el Element) error
	ScrollTo(ctx context.Context, y float64) error
	PressKey(ctx context.Context, key string) error
	// Evaluate runs a JavaScript expression and decodes its result into out
	// (which may be nil).
	Evaluate(ctx context.Context, script string, out any) error
	// Screenshot returns PNG bytes of clip, or of the full page when clip is nil.
	Screenshot(ctx context.Context, clip *Rect) ([]byte, error)
	Viewport() Viewport
	Close() error
}

// Visible filters els down to the visible ones.
func Visible(els []Element) []Element {
	out := els[:0:0]
	for _, el := range els {
		if el.Visible {
			out = append(out, el)
		}
	}
	return out
}

// FirstVisible returns the first visible element matching sel.
func FirstVisible(ctx context.Context, page Page, sel Selector) (Element, bool, error) {
	els, err := page.Query(ctx, sel)
	if err != nil {
		return Element{}, false, err
	}
	for _, el := range els {
		if el.Visible {
			return el, true, nil
		}
	}
	return Element{}, false, nil
}

// CountVisible sums the visible matches of every selector.
func CountVisible(ctx context.Context, page Page, sels []Selector) (int, error) {
	total := 0
	for _, sel := range sels {
		els, err := page.Query(ctx, sel)
		if err != nil {
			return 0, fmt.Errorf("query %s: %w", sel, err)
		}
		total += len(Visible(els))
	}
	return total, nil
}

// Exists reports whether sel matches anything, visible or not.
func Exists(ctx context.Context, page Page, sel Selector) (bool, error) {
	els, err := page.Query(ctx, sel)
	if err != nil {
		return false, err
	}
	return len(els) > 0, nil
}
