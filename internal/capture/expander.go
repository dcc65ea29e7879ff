package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/user/article-capture/pkg/metrics"
	"github.com/user/article-capture/pkg/telemetry"
	"go.uber.org/zap"
)

const loadingPollInterval = 250 * time.Millisecond

// ExpanderConfig tunes the expansion sequence. Zero waits are valid and make
// every step run back to back.
type ExpanderConfig struct {
	MaxAttempts    int
	ClickDelay     time.Duration // pause after each expand click
	ShortWait      time.Duration // after key presses, scrolls and section clicks
	LongWait       time.Duration // after modal dismissal and bulk toggles
	LoadingTimeout time.Duration
	// NewBackOff builds the policy between attempts; nil means exponential.
	NewBackOff func() backoff.BackOff
}

// DefaultExpanderConfig returns the production timings.
func DefaultExpanderConfig() ExpanderConfig {
	return ExpanderConfig{
		MaxAttempts:    4,
		ClickDelay:     400 * time.Millisecond,
		ShortWait:      500 * time.Millisecond,
		LongWait:       2 * time.Second,
		LoadingTimeout: 10 * time.Second,
	}
}

func (c ExpanderConfig) backOff() backoff.BackOff {
	if c.NewBackOff != nil {
		return c.NewBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 16 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Expander forces every collapsible section of an article open.
type Expander struct {
	cfg    ExpanderConfig
	logger *zap.Logger
}

func NewExpander(cfg ExpanderConfig, logger *zap.Logger) *Expander {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Expander{cfg: cfg, logger: logger}
}

// FullyExpand runs the expansion sequence until no collapsed section is
// visible, retrying with backoff up to MaxAttempts times. The returned error
// is an *ExpansionError unless ctx ended first.
func (e *Expander) FullyExpand(ctx context.Context, page Page) error {
	ctx, span := telemetry.Tracer().Start(ctx, "capture.FullyExpand")
	defer span.End()

	attempt := 0
	op := func() error {
		attempt++
		err := e.expandOnce(ctx, page)
		if err == nil {
			metrics.ExpansionAttempts.WithLabelValues("ok").Inc()
			return nil
		}
		metrics.ExpansionAttempts.WithLabelValues("failed").Inc()
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		e.logger.Warn("expansion attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(e.cfg.backOff(), uint64(e.cfg.MaxAttempts-1)), ctx)
	err := backoff.RetryNotify(op, policy, notify)
	if err == nil {
		e.logger.Info("content expansion completed", zap.Int("attempts", attempt))
		return nil
	}
	span.RecordError(err)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var expErr *ExpansionError
	if errors.As(err, &expErr) {
		expErr.Attempts = attempt
		return expErr
	}
	return &ExpansionError{Attempts: attempt, Err: err}
}

func (e *Expander) expandOnce(ctx context.Context, page Page) error {
	e.dismissPopups(ctx, page)
	if err := ctx.Err(); err != nil {
		return err
	}

	e.expandSections(ctx, page)
	e.clickExpandSelectors(ctx, page)
	e.scriptedFallback(ctx, page)
	e.waitForDynamicContent(ctx, page)
	if err := ctx.Err(); err != nil {
		return err
	}

	hidden, err := CountVisible(ctx, page, collapsedIndicators)
	if err != nil {
		return &ExpansionError{Err: fmt.Errorf("verify expansion: %w", err)}
	}
	metrics.HiddenSections.Observe(float64(hidden))
	if hidden > 0 {
		return &ExpansionError{Hidden: hidden}
	}
	return nil
}

// dismissPopups clears consent banners and modals. Nothing here is fatal: a
// popup that survives will show up as a verification failure later.
func (e *Expander) dismissPopups(ctx context.Context, page Page) {
	e.pressEscape(ctx, page)
	_ = sleep(ctx, e.cfg.ShortWait)

	e.closeModal(ctx, page)
	if e.clickFirstVisible(ctx, page, popupSelectors) {
		_ = sleep(ctx, e.cfg.ShortWait)
	}
	if e.clickFirstVisible(ctx, page, cookieConsentSelectors) {
		_ = sleep(ctx, e.cfg.ShortWait)
	}

	for round := 0; round < 3 && ctx.Err() == nil; round++ {
		e.pressEscape(ctx, page)
		_ = sleep(ctx, e.cfg.ShortWait)
		for _, sel := range aggressiveCloseSelectors {
			els, err := page.Query(ctx, sel)
			if err != nil {
				continue
			}
			for _, el := range Visible(els) {
				if err := page.Click(ctx, el); err == nil {
					e.logger.Debug("closed popup", zap.Stringer("selector", sel))
				}
			}
		}
		present, err := Exists(ctx, page, CSS(modalCSS))
		if err != nil || !present {
			break
		}
		_ = sleep(ctx, e.cfg.ShortWait)
	}

	if err := page.Evaluate(ctx, removeOverlaysScript, nil); err != nil {
		e.logger.Warn("overlay removal failed", zap.Error(err))
	}
	_ = sleep(ctx, e.cfg.ShortWait)

	e.pressEscape(ctx, page)
}

func (e *Expander) closeModal(ctx context.Context, page Page) {
	present, err := Exists(ctx, page, CSS(modalCSS))
	if err != nil || !present {
		return
	}
	e.logger.Info("modal present, closing")

	var (
		button Element
		found  bool
	)
	for _, sel := range modalCloseSelectors {
		if button, found, _ = FirstVisible(ctx, page, sel.In(modalCSS)); found {
			break
		}
		if button, found, _ = FirstVisible(ctx, page, sel); found {
			break
		}
	}

	if !found {
		if err := page.Evaluate(ctx, removeModalScript, nil); err != nil {
			e.logger.Warn("modal removal failed", zap.Error(err))
		}
		_ = sleep(ctx, e.cfg.ShortWait)
		return
	}

	if err := page.Click(ctx, button); err != nil {
		e.logger.Warn("modal close click failed, using script", zap.Error(err))
		if err := page.JSClick(ctx, button); err != nil {
			e.logger.Warn("modal close script click failed", zap.Error(err))
		}
	}
	_ = sleep(ctx, e.cfg.LongWait)
}

func (e *Expander) expandSections(ctx context.Context, page Page) {
	headers, err := page.Query(ctx, CSS(sectionHeaderCSS))
	if err != nil {
		e.logger.Warn("section header query failed", zap.Error(err))
	}
	for i, header := range headers {
		if !header.Visible || ctx.Err() != nil {
			continue
		}
		if err := page.ScrollIntoView(ctx, header); err != nil {
			e.logger.Debug("scroll to section failed", zap.Int("section", i), zap.Error(err))
		}
		_ = sleep(ctx, e.cfg.ShortWait)

		if err := page.Click(ctx, header); err != nil {
			e.logger.Warn("section click failed, using script", zap.Int("section", i), zap.Error(err))
			if err := page.JSClick(ctx, header); err != nil {
				e.logger.Warn("section script click failed", zap.Int("section", i), zap.Error(err))
				continue
			}
		}
		_ = sleep(ctx, e.cfg.ShortWait)
	}

	if toggles, err := page.Query(ctx, CSS(globalToggleCSS)); err == nil && len(toggles) > 0 {
		if err := page.JSClick(ctx, toggles[0]); err != nil {
			e.logger.Warn("global toggle click failed", zap.Error(err))
		} else {
			_ = sleep(ctx, e.cfg.LongWait)
		}
	}

	for _, sel := range genericExpanders {
		els, err := page.Query(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range Visible(els) {
			if err := page.JSClick(ctx, el); err != nil {
				e.logger.Debug("expander script click failed", zap.Stringer("selector", sel), zap.Error(err))
				continue
			}
			_ = sleep(ctx, e.cfg.ClickDelay)
		}
	}

	_ = sleep(ctx, e.cfg.LongWait)
}

func (e *Expander) clickExpandSelectors(ctx context.Context, page Page) {
	for _, sel := range expandSelectors {
		els, err := page.Query(ctx, sel)
		if err != nil {
			e.logger.Warn("expand selector query failed", zap.Stringer("selector", sel), zap.Error(err))
			continue
		}
		for _, el := range Visible(els) {
			if ctx.Err() != nil {
				return
			}
			if err := page.Click(ctx, el); err != nil {
				e.logger.Warn("expand click failed", zap.Stringer("selector", sel), zap.Error(err))
				continue
			}
			_ = sleep(ctx, e.cfg.ClickDelay)
		}
	}
}

func (e *Expander) scriptedFallback(ctx context.Context, page Page) {
	var clicked int
	if err := page.Evaluate(ctx, fallbackExpandScript, &clicked); err != nil {
		e.logger.Warn("scripted expansion failed", zap.Error(err))
		return
	}
	if clicked > 0 {
		e.logger.Info("scripted expansion clicked elements", zap.Int("count", clicked))
		_ = sleep(ctx, 2*e.cfg.ClickDelay)
	}
}

func (e *Expander) waitForDynamicContent(ctx context.Context, page Page) {
	if err := page.WaitReady(ctx); err != nil {
		e.logger.Warn("waiting for document failed", zap.Error(err))
	}
	_ = sleep(ctx, e.cfg.ShortWait)

	for _, sel := range loadingSelectors {
		deadline := time.Now().Add(e.cfg.LoadingTimeout)
		for ctx.Err() == nil {
			n, err := CountVisible(ctx, page, []Selector{sel})
			if err != nil || n == 0 {
				break
			}
			if !time.Now().Before(deadline) {
				e.logger.Warn("loading indicator still visible", zap.Stringer("selector", sel))
				break
			}
			_ = sleep(ctx, loadingPollInterval)
		}
	}
}

func (e *Expander) pressEscape(ctx context.Context, page Page) {
	if err := page.PressKey(ctx, "Escape"); err != nil {
		e.logger.Debug("escape key failed", zap.Error(err))
	}
}

func (e *Expander) clickFirstVisible(ctx context.Context, page Page, sels []Selector) bool {
	for _, sel := range sels {
		el, ok, err := FirstVisible(ctx, page, sel)
		if err != nil || !ok {
			continue
		}
		if err := page.Click(ctx, el); err != nil {
			continue
		}
		e.logger.Info("dismissed popup", zap.Stringer("selector", sel))
		return true
	}
	return false
}

// IsFullyExpanded reports whether no hidden-section marker is visible.
func (e *Expander) IsFullyExpanded(ctx context.Context, page Page) (bool, error) {
	n, err := CountVisible(ctx, page, []Selector{CSS(hiddenContentCSS)})
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// VerifyContentIsExpanded requires no collapsed section at all and at least
// one expanded one; an article with neither has probably not loaded.
func (e *Expander) VerifyContentIsExpanded(ctx context.Context, page Page) (bool, error) {
	collapsed, err := page.Query(ctx, CSS(hiddenContentCSS))
	if err != nil {
		return false, err
	}
	shown, err := page.Query(ctx, CSS(shownContentCSS))
	if err != nil {
		return false, err
	}
	if len(collapsed) > 0 {
		e.logger.Warn("collapsed sections remain", zap.Int("count", len(collapsed)))
		return false, nil
	}
	if len(shown) == 0 {
		e.logger.Warn("no expanded sections found")
		return false, nil
	}
	return true, nil
}

// ContentMetrics counts structural elements of the loaded article.
type ContentMetrics struct {
	Headings               int     `json:"headings"`
	Paragraphs             int     `json:"paragraphs"`
	Lists                  int     `json:"lists"`
	Tables                 int     `json:"tables"`
	Images                 int     `json:"images"`
	RemainingExpandButtons int     `json:"remaining_expand_buttons"`
	PageHeight             float64 `json:"page_height"`
}

func (e *Expander) ContentMetrics(ctx context.Context, page Page) (ContentMetrics, error) {
	var m ContentMetrics
	counts := []struct {
		css string
		dst *int
	}{
		{"h1, h2, h3, h4, h5, h6", &m.Headings},
		{"p", &m.Paragraphs},
		{"ul, ol", &m.Lists},
		{"table", &m.Tables},
		{"img", &m.Images},
		{hiddenContentCSS, &m.RemainingExpandButtons},
	}
	for _, c := range counts {
		els, err := page.Query(ctx, CSS(c.css))
		if err != nil {
			return m, fmt.Errorf("count %s: %w", c.css, err)
		}
		*c.dst = len(els)
	}
	if err := page.Evaluate(ctx, pageHeightScript, &m.PageHeight); err != nil {
		return m, fmt.Errorf("page height: %w", err)
	}
	return m, nil
}
