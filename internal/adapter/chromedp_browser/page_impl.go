package chromedp_browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/user/article-capture/internal/capture"
)

// refAttr tags nodes returned by Query so later actions can find them again.
const refAttr = "data-capture-ref"

// actionTimeout bounds single element actions; chromedp's element queries
// otherwise wait forever for a node to become visible.
const actionTimeout = 5 * time.Second

// Tab is a capture.Page backed by one Chrome tab.
type Tab struct {
	ctx        context.Context // chromedp tab context; cancelling it closes the tab
	cancel     context.CancelFunc
	viewport   capture.Viewport
	navTimeout time.Duration
	logger     *zap.Logger
}

var _ capture.Page = (*Tab)(nil)

// run executes actions on the tab under the caller's cancellation and
// deadline without tying the tab's own lifetime to ctx.
func (t *Tab) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	callCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		var c context.CancelFunc
		callCtx, c = context.WithDeadline(callCtx, deadline)
		defer c()
	}
	if timeout > 0 {
		var c context.CancelFunc
		callCtx, c = context.WithTimeout(callCtx, timeout)
		defer c()
	}

	err := chromedp.Run(callCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func refSelector(el capture.Element) string {
	return fmt.Sprintf(`[%s=%q]`, refAttr, el.Ref)
}

func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := t.run(ctx, t.navTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (t *Tab) WaitReady(ctx context.Context) error {
	var ready bool
	return t.run(ctx, t.navTimeout,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Poll(`document.readyState !== "loading"`, &ready, chromedp.WithPollingInterval(100*time.Millisecond)),
	)
}

type queryResult struct {
	Ref     string  `json:"ref"`
	Visible bool    `json:"visible"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Text    string  `json:"text"`
}

func (t *Tab) Query(ctx context.Context, sel capture.Selector) ([]capture.Element, error) {
	script, err := queryScript(sel)
	if err != nil {
		return nil, err
	}
	var res []queryResult
	if err := t.run(ctx, actionTimeout, chromedp.Evaluate(script, &res)); err != nil {
		return nil, fmt.Errorf("query %s: %w", sel, err)
	}
	els := make([]capture.Element, 0, len(res))
	for _, r := range res {
		els = append(els, capture.Element{
			Ref:     r.Ref,
			Visible: r.Visible,
			Box:     capture.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height},
			Text:    r.Text,
		})
	}
	return els, nil
}

func (t *Tab) Box(ctx context.Context, el capture.Element) (capture.Rect, error) {
	var box *capture.Rect
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		const r = el.getBoundingClientRect();
		return {x: r.x, y: r.y, width: r.width, height: r.height};
	})()`, jsString(refSelector(el)))
	if err := t.run(ctx, actionTimeout, chromedp.Evaluate(script, &box)); err != nil {
		return capture.Rect{}, err
	}
	if box == nil {
		return capture.Rect{}, fmt.Errorf("element %s detached", el.Ref)
	}
	return *box, nil
}

func (t *Tab) Click(ctx context.Context, el capture.Element) error {
	return t.run(ctx, actionTimeout, chromedp.Click(refSelector(el), chromedp.ByQuery, chromedp.NodeVisible))
}

func (t *Tab) JSClick(ctx context.Context, el capture.Element) error {
	var found bool
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.click();
		return true;
	})()`, jsString(refSelector(el)))
	if err := t.run(ctx, actionTimeout, chromedp.Evaluate(script, &found)); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("element %s detached", el.Ref)
	}
	return nil
}

func (t *Tab) Fill(ctx context.Context, el capture.Element, value string) error {
	sel := refSelector(el)
	return t.run(ctx, actionTimeout,
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	)
}

func (t *Tab) ScrollIntoView(ctx context.Context, el capture.Element) error {
	return t.run(ctx, actionTimeout, chromedp.ScrollIntoView(refSelector(el), chromedp.ByQuery))
}

func (t *Tab) ScrollTo(ctx context.Context, y float64) error {
	script := "window.scrollTo(0, " + strconv.FormatFloat(y, 'f', -1, 64) + ")"
	return t.run(ctx, actionTimeout, chromedp.Evaluate(script, nil))
}

var keys = map[string]string{
	"Escape": kb.Escape,
	"Enter":  kb.Enter,
	"Tab":    kb.Tab,
}

func (t *Tab) PressKey(ctx context.Context, key string) error {
	k, ok := keys[key]
	if !ok {
		k = key
	}
	return t.run(ctx, actionTimeout, chromedp.KeyEvent(k))
}

func (t *Tab) Evaluate(ctx context.Context, script string, out any) error {
	return t.run(ctx, 0, chromedp.Evaluate(script, out))
}

// Screenshot captures clip, given in viewport coordinates, or the whole
// page when clip is nil.
func (t *Tab) Screenshot(ctx context.Context, clip *capture.Rect) ([]byte, error) {
	var buf []byte
	if clip == nil {
		if err := t.run(ctx, t.navTimeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
			return nil, fmt.Errorf("full page screenshot: %w", err)
		}
		return buf, nil
	}

	err := t.run(ctx, t.navTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var scroll struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		}
		if err := chromedp.Evaluate(`({x: window.scrollX, y: window.scrollY})`, &scroll).Do(ctx); err != nil {
			return err
		}
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(true).
			WithClip(&page.Viewport{
				X:      clip.X + scroll.X,
				Y:      clip.Y + scroll.Y,
				Width:  clip.Width,
				Height: clip.Height,
				Scale:  1,
			}).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("clip screenshot: %w", err)
	}
	return buf, nil
}

func (t *Tab) Viewport() capture.Viewport { return t.viewport }

func (t *Tab) Close() error {
	t.cancel()
	return nil
}

// Cookies returns every cookie the tab currently holds.
func (t *Tab) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := t.run(ctx, actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	return cookies, err
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// queryScript renders sel as a self-contained expression that tags every
// match with a ref and returns its geometry.
func queryScript(sel capture.Selector) (string, error) {
	if sel.CSS == "" && sel.Text == "" {
		return "", errors.New("empty selector")
	}
	return fmt.Sprintf(`(() => {
	const scopeCSS = %s, css = %s, text = %s, exact = %t;
	const norm = s => (s || "").replace(/\s+/g, " ").trim();
	const scope = scopeCSS ? document.querySelector(scopeCSS) : document;
	if (!scope) return [];
	let nodes = Array.from(scope.querySelectorAll(css || "body *"));
	if (text) {
		const want = exact ? text : text.toLowerCase();
		const matches = el => {
			const got = norm(el.innerText || el.textContent);
			return exact ? got === want : got.toLowerCase().includes(want);
		};
		nodes = nodes.filter(matches);
		if (!css) nodes = nodes.filter(el => !Array.from(el.children).some(matches));
	}
	window.__captureRefSeq = window.__captureRefSeq || 0;
	return nodes.map(el => {
		if (!el.hasAttribute(%s)) el.setAttribute(%s, String(++window.__captureRefSeq));
		const r = el.getBoundingClientRect();
		const st = window.getComputedStyle(el);
		const visible = r.width > 0 && r.height > 0 && st.visibility !== "hidden" &&
			st.display !== "none" && parseFloat(st.opacity || "1") > 0;
		return {
			ref: el.getAttribute(%s),
			visible,
			x: r.x, y: r.y, width: r.width, height: r.height,
			text: norm(el.innerText || el.textContent).slice(0, 200),
		};
	});
})()`, jsString(sel.Within), jsString(sel.CSS), jsString(sel.Text), sel.Exact,
		jsString(refAttr), jsString(refAttr), jsString(refAttr)), nil
}
