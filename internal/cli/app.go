package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/article-capture/internal/adapter/chromedp_browser"
	"github.com/user/article-capture/internal/adapter/memory"
	"github.com/user/article-capture/internal/adapter/postgres"
	redisadapter "github.com/user/article-capture/internal/adapter/redis"
	"github.com/user/article-capture/internal/adapter/sqlite"
	"github.com/user/article-capture/internal/capture"
	"github.com/user/article-capture/internal/discovery"
	"github.com/user/article-capture/internal/repository"
	"github.com/user/article-capture/internal/usecase"
	"github.com/user/article-capture/pkg/config"
	"github.com/user/article-capture/pkg/logger"
	"github.com/user/article-capture/pkg/telemetry"
)

const (
	serviceName        = "article-capture"
	visitedTTL         = 24 * time.Hour
	navigationAttempts = 3
)

// app is the wiring shared by the commands. Redis replaces the in-process
// throttle, lock, queue and visited set when configured.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store     repository.JobStore
	rdb       *goredis.Client
	throttle  repository.Throttle
	locker    repository.Locker
	queue     repository.QueueRepository
	visited   repository.VisitedRepository
	extractor *discovery.Extractor

	browser         *chromedp_browser.Browser
	shutdownTracing telemetry.Shutdown
}

func newApp(ctx context.Context, cfg *config.Config, l *zap.Logger) (*app, error) {
	extractor, err := discovery.NewExtractor(cfg.ArticlePattern, cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, logger.Component(l, "store"))
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: l, store: store, extractor: extractor}

	if cfg.RedisAddr != "" {
		rdb, err := redisadapter.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.rdb = rdb
		a.throttle = redisadapter.NewThrottle(rdb, cfg.RequestsPerMinute, logger.Component(l, "throttle"))
		a.locker = redisadapter.NewLocker(rdb)
		a.queue = redisadapter.NewQueueRepo(rdb)
		a.visited = redisadapter.NewVisitedRepo(rdb)
		l.Info("redis coordination enabled", zap.String("addr", cfg.RedisAddr))
	} else {
		a.throttle = memory.NewThrottle(cfg.RequestsPerMinute)
		a.locker = memory.NewLocker()
		a.queue = memory.NewQueue()
		a.visited = memory.NewVisited()
	}

	shutdown, err := telemetry.Setup(ctx, serviceName, cfg.OTLPEndpoint, l)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	a.shutdownTracing = shutdown
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, l *zap.Logger) (repository.JobStore, error) {
	switch cfg.DBDriver {
	case "postgres":
		return postgres.Open(ctx, cfg.PostgresURL, l)
	case "sqlite":
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." && !sqlite.IsMemory(cfg.DatabasePath) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		return sqlite.Open(cfg.DatabasePath, l)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
}

func (a *app) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", zap.Error(err))
	}
}

func (a *app) openBrowser(ctx context.Context) (*chromedp_browser.Browser, error) {
	if a.browser != nil {
		return a.browser, nil
	}
	if err := a.cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	b, err := chromedp_browser.NewBrowser(ctx, chromedp_browser.Config{
		BaseURL:         a.cfg.BaseURL,
		CookiePath:      a.cfg.CookiePath,
		CredentialsPath: a.cfg.CredentialsFile(),
		Viewport: capture.Viewport{
			Width:  a.cfg.ViewportWidth,
			Height: a.cfg.ViewportHeight,
			Scale:  a.cfg.DeviceScaleFactor,
		},
		UserAgent:         a.cfg.UserAgent,
		Headless:          a.cfg.Headless,
		ChromePath:        a.cfg.ChromePath,
		NavigationTimeout: a.cfg.NavigationTimeout,
		SettleDelay:       a.cfg.SettleDelay,
	}, logger.Component(a.logger, "browser"))
	if err != nil {
		return nil, err
	}
	a.browser = b
	return b, nil
}

func (a *app) discoverer(maxPages int) *discovery.Discoverer {
	l := logger.Component(a.logger, "discovery")
	fcfg := discovery.DefaultFetcherConfig()
	fcfg.UserAgent = a.cfg.UserAgent
	fcfg.Delay = a.cfg.DiscoveryDelay

	cookies, err := chromedp_browser.LoadCookies(a.cfg.CookiePath)
	switch {
	case err == nil:
		fcfg.Cookies = chromedp_browser.HTTPCookies(cookies)
	case errors.Is(err, os.ErrNotExist):
		l.Warn("no session cookies, discovering anonymously", zap.String("path", a.cfg.CookiePath))
	default:
		l.Warn("could not load session cookies", zap.Error(err))
	}

	return discovery.NewDiscoverer(
		discovery.NewHTTPFetcher(fcfg, l),
		a.extractor,
		a.store,
		l,
		discovery.WithVisited(a.visited, visitedTTL),
		discovery.WithMaxPages(maxPages),
	)
}

// capturer wires the capture workflows. browser may be nil for commands
// that only discover or read the store.
func (a *app) capturer(browser repository.BrowserRepository, disc usecase.Discoverer) usecase.Capturer {
	l := logger.Component(a.logger, "capture")

	expCfg := capture.DefaultExpanderConfig()
	expCfg.MaxAttempts = a.cfg.MaxExpansionAttempts
	expCfg.ClickDelay = a.cfg.ExpansionDelay

	valCfg := capture.DefaultValidatorConfig()
	valCfg.MinDensity = a.cfg.MinDensity
	valCfg.DensityCheck = a.cfg.DensityCheck

	shotCfg := capture.DefaultShooterConfig()
	shotCfg.ContentArea = capture.Rect{
		X:      a.cfg.ContentAreaX,
		Y:      a.cfg.ContentAreaY,
		Width:  a.cfg.ContentAreaWidth,
		Height: a.cfg.ContentAreaHeight,
	}
	shotCfg.DeviceScaleFactor = a.cfg.DeviceScaleFactor

	return usecase.NewCapturer(usecase.CaptureDeps{
		Store:      a.store,
		Browser:    browser,
		Throttle:   a.throttle,
		Locker:     a.locker,
		Discoverer: disc,
		Expander:   capture.NewExpander(expCfg, l),
		Validator:  capture.NewValidator(valCfg, l),
		Shooter:    capture.NewShooter(shotCfg, l),
	}, usecase.CaptureConfig{
		OutputDir:          a.cfg.OutputDir,
		MinDelay:           a.cfg.MinDelay,
		MaxDelay:           a.cfg.MaxDelay,
		MaxRetries:         a.cfg.MaxRetries,
		SettleDelay:        a.cfg.SettleDelay,
		NavigationAttempts: navigationAttempts,
		StaleAfter:         a.cfg.StaleAfter,
		LockTTL:            a.cfg.LockTTL,
	}, l)
}

// browserCapturer starts Chrome and wires a capturer on top of it.
func (a *app) browserCapturer(ctx context.Context) (usecase.Capturer, error) {
	b, err := a.openBrowser(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(a.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return a.capturer(b, a.discoverer(0)), nil
}

func (a *app) urlManager() usecase.URLManager {
	return usecase.NewURLManager(a.extractor, a.store, a.queue, logger.Component(a.logger, "urls"))
}

// withApp wires an app for the duration of fn.
func (o *rootOptions) withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx, o.cfg, o.logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
