package capture_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/article-capture/internal/capture"
	"github.com/user/article-capture/internal/capture/capturetest"
)

var (
	hiddenMarker  = capture.CSS(`[data-e2e-test-id="section-content-is-hidden"]`)
	shownMarker   = capture.CSS(`[data-e2e-test-id="section-content-is-shown"]`)
	sectionHeader = capture.CSS(`section[data-e2e-test-id="section-with-header"] div[class*="headerContainer"][role="button"]`)
	globalToggle  = capture.CSS(`button[data-e2e-test-id="toggle-all-sections-button"]`)
	modal         = capture.CSS("#ds-modal")
)

func newTestExpander(attempts int) *capture.Expander {
	return capture.NewExpander(capture.ExpanderConfig{
		MaxAttempts: attempts,
		NewBackOff:  func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}, zap.NewNop())
}

func box(y float64) capture.Rect {
	return capture.Rect{X: 400, Y: y, Width: 600, Height: 40}
}

func TestFullyExpandClicksSectionHeaders(t *testing.T) {
	page := capturetest.New()
	page.Set(sectionHeader,
		capturetest.El("hdr-1", box(100), "Definition"),
		capturetest.El("hdr-2", box(300), "Therapie"),
		capturetest.Hidden("hdr-3"),
	)
	page.Set(hiddenMarker, capturetest.El("hid-1", box(140), ""), capturetest.El("hid-2", box(340), ""))

	opened := map[string]bool{}
	page.OnClick = func(p *capturetest.Page, el capture.Element, _ bool) {
		if strings.HasPrefix(el.Ref, "hdr-") {
			opened[el.Ref] = true
		}
		if opened["hdr-1"] && opened["hdr-2"] {
			p.Clear(hiddenMarker)
		}
	}

	err := newTestExpander(4).FullyExpand(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, 1, page.ClickCount("hdr-1"))
	assert.Equal(t, 1, page.ClickCount("hdr-2"))
	assert.Zero(t, page.ClickCount("hdr-3"), "invisible headers are skipped")
	assert.Contains(t, page.Keys, "Escape")
	assert.True(t, page.Ran("parseInt(el.style.zIndex, 10) > 1000"), "overlay removal script runs")
	assert.True(t, page.Ran("offsetParent !== null"), "scripted fallback runs")
}

func TestFullyExpandFallsBackToScriptedClick(t *testing.T) {
	page := capturetest.New()
	page.Set(sectionHeader, capturetest.El("hdr-1", box(100), "Definition"))
	page.Set(hiddenMarker, capturetest.El("hid-1", box(140), ""))
	page.ClickErr["hdr-1"] = errors.New("element not interactable")
	page.OnClick = func(p *capturetest.Page, el capture.Element, scripted bool) {
		if el.Ref == "hdr-1" && scripted {
			p.Clear(hiddenMarker)
		}
	}

	require.NoError(t, newTestExpander(1).FullyExpand(context.Background(), page))
	assert.Equal(t, []string{"hdr-1"}, page.JSClicked[:1])
}

func TestFullyExpandUsesGlobalToggle(t *testing.T) {
	page := capturetest.New()
	page.Set(globalToggle, capturetest.El("toggle", box(60), "Alle aufklappen"))
	page.Set(hiddenMarker, capturetest.El("hid-1", box(140), ""))
	page.OnClick = func(p *capturetest.Page, el capture.Element, scripted bool) {
		if el.Ref == "toggle" && scripted {
			p.Clear(hiddenMarker)
		}
	}

	require.NoError(t, newTestExpander(1).FullyExpand(context.Background(), page))
	assert.Equal(t, 1, page.ClickCount("toggle"))
}

func TestFullyExpandFailsAfterAllAttempts(t *testing.T) {
	page := capturetest.New()
	page.Set(capture.Text("Weiterlesen"), capturetest.El("more", box(500), "Weiterlesen"))

	err := newTestExpander(3).FullyExpand(context.Background(), page)
	require.Error(t, err)

	var expErr *capture.ExpansionError
	require.ErrorAs(t, err, &expErr)
	assert.Equal(t, 1, expErr.Hidden)
	assert.Equal(t, 3, expErr.Attempts)
	assert.Contains(t, err.Error(), "1 sections still hidden")
	assert.Equal(t, 3, page.ClickCount("more"), "clicked once per attempt")
}

func TestFullyExpandIgnoresInvisibleMarkers(t *testing.T) {
	page := capturetest.New()
	page.Set(hiddenMarker, capturetest.Hidden("hid-1"))
	page.Set(capture.Text("Read more"), capturetest.Hidden("rm-1"))

	assert.NoError(t, newTestExpander(1).FullyExpand(context.Background(), page))
}

func TestFullyExpandClosesModal(t *testing.T) {
	page := capturetest.New()
	page.Set(modal, capturetest.El("modal", capture.Rect{Width: 1280, Height: 720}, ""))
	closeBtn := capture.CSS(`button[aria-label*="Close"]`).In("#ds-modal")
	page.Set(closeBtn, capturetest.El("close", capture.Rect{X: 900, Y: 100, Width: 20, Height: 20}, "×"))
	page.OnClick = func(p *capturetest.Page, el capture.Element, _ bool) {
		if el.Ref == "close" {
			p.Clear(modal)
			p.Clear(closeBtn)
		}
	}

	require.NoError(t, newTestExpander(1).FullyExpand(context.Background(), page))
	assert.Equal(t, 1, page.ClickCount("close"))
	assert.False(t, page.Ran("modal.remove()"), "modal closed by click, not removed")
}

func TestFullyExpandRemovesModalWithoutCloseButton(t *testing.T) {
	page := capturetest.New()
	page.Set(modal, capturetest.El("modal", capture.Rect{Width: 1280, Height: 720}, ""))

	require.NoError(t, newTestExpander(1).FullyExpand(context.Background(), page))
	assert.True(t, page.Ran("modal.remove()"))
}

func TestFullyExpandAcceptsCookies(t *testing.T) {
	page := capturetest.New()
	page.Set(capture.HasText("button", "Alle akzeptieren"), capturetest.El("consent", box(650), "Alle akzeptieren"))

	require.NoError(t, newTestExpander(1).FullyExpand(context.Background(), page))
	assert.Equal(t, 1, page.ClickCount("consent"))
}

func TestFullyExpandStopsOnCancelledContext(t *testing.T) {
	page := capturetest.New()
	page.Set(hiddenMarker, capturetest.El("hid-1", box(140), ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestExpander(4).FullyExpand(ctx, page)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerifyContentIsExpanded(t *testing.T) {
	e := newTestExpander(1)
	ctx := context.Background()

	page := capturetest.New()
	ok, err := e.VerifyContentIsExpanded(ctx, page)
	require.NoError(t, err)
	assert.False(t, ok, "no shown sections means the article did not load")

	page.Set(shownMarker, capturetest.El("s1", box(100), ""))
	ok, err = e.VerifyContentIsExpanded(ctx, page)
	require.NoError(t, err)
	assert.True(t, ok)

	page.Set(hiddenMarker, capturetest.Hidden("h1"))
	ok, err = e.VerifyContentIsExpanded(ctx, page)
	require.NoError(t, err)
	assert.False(t, ok, "any collapsed section fails, visible or not")

	full, err := e.IsFullyExpanded(ctx, page)
	require.NoError(t, err)
	assert.True(t, full, "invisible markers do not count as collapsed for IsFullyExpanded")
}

func TestContentMetrics(t *testing.T) {
	page := capturetest.New()
	page.Set(capture.CSS("h1, h2, h3, h4, h5, h6"), capturetest.El("a", box(0), ""), capturetest.El("b", box(0), ""))
	page.Set(capture.CSS("p"), capturetest.El("p", box(0), ""))
	page.OnEvaluate = func(_ *capturetest.Page, script string) (any, error) {
		if script == "document.body.scrollHeight" {
			return 4200, nil
		}
		return nil, nil
	}

	m, err := newTestExpander(1).ContentMetrics(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Headings)
	assert.Equal(t, 1, m.Paragraphs)
	assert.Equal(t, 0, m.Tables)
	assert.Equal(t, float64(4200), m.PageHeight)
}
