// Package chromedp_browser runs the authenticated headless Chrome session the
// capture pipeline works in.
package chromedp_browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/article-capture/internal/capture"
	"github.com/user/article-capture/internal/repository"
)

// Config controls the browser and the session it restores.
type Config struct {
	BaseURL           string
	CookiePath        string
	CredentialsPath   string
	Viewport          capture.Viewport
	UserAgent         string
	Headless          bool
	ChromePath        string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	// NewBackOff builds the retry policy for auth checks; nil means three
	// attempts with exponential backoff.
	NewBackOff func() backoff.BackOff
}

func (c Config) backOff() backoff.BackOff {
	if c.NewBackOff != nil {
		return c.NewBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	return backoff.WithMaxRetries(b, 2)
}

// Browser owns one Chrome process; every page is a tab in it.
type Browser struct {
	cfg    Config
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu      sync.Mutex
	cookies []Cookie
}

var _ repository.BrowserRepository = (*Browser)(nil)

// NewBrowser starts Chrome and loads the stored session. A missing cookie
// file is not fatal: pages open unauthenticated and VerifyAuth reports it.
func NewBrowser(ctx context.Context, cfg Config, logger *zap.Logger) (*Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-zygote", true),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height),
	)
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}

	// The browser outlives the ctx of the call that started it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	sugar := logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)
	b := &Browser{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}

	startCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(startCtx); err != nil {
		b.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	if err := b.loadSession(); err != nil {
		logger.Warn("no stored session, continuing unauthenticated", zap.Error(err))
	}
	logger.Info("browser started", zap.Bool("headless", cfg.Headless), zap.Int("cookies", len(b.cookies)))
	return b, nil
}

func (b *Browser) loadSession() error {
	cookies, err := LoadCookies(b.cfg.CookiePath)
	if err != nil {
		return err
	}
	if len(cookies) == 0 {
		b.logger.Warn("cookie file holds no cookies", zap.String("path", b.cfg.CookiePath))
	}
	b.mu.Lock()
	b.cookies = cookies
	b.mu.Unlock()
	return nil
}

// NewPage opens a tab with the viewport, scale factor and cookies applied.
func (b *Browser) NewPage(ctx context.Context) (capture.Page, error) {
	return b.newTab(ctx)
}

func (b *Browser) newTab(ctx context.Context) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	t := &Tab{
		ctx:        tabCtx,
		cancel:     cancel,
		viewport:   b.cfg.Viewport,
		navTimeout: b.cfg.NavigationTimeout,
		logger:     b.logger,
	}

	b.mu.Lock()
	params := cookieParams(b.cookies, time.Now())
	b.mu.Unlock()

	err := t.run(ctx, 30*time.Second,
		network.Enable(),
		chromedp.EmulateViewport(int64(b.cfg.Viewport.Width), int64(b.cfg.Viewport.Height),
			chromedp.EmulateScale(b.cfg.Viewport.Scale)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if len(params) == 0 {
				return nil
			}
			return network.SetCookies(params).Do(ctx)
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return t, nil
}

// Close shuts the tabs and the browser process down.
func (b *Browser) Close() {
	b.browserCancel()
	b.allocCancel()
}

// CookieFileExists reports whether a stored session is present.
func (b *Browser) CookieFileExists() bool {
	_, err := os.Stat(b.cfg.CookiePath)
	return !errors.Is(err, os.ErrNotExist)
}
