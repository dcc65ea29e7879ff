package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/user/article-capture/internal/capture"
	"github.com/user/article-capture/internal/entity"
	"github.com/user/article-capture/internal/repository"
	"github.com/user/article-capture/pkg/metrics"
	"github.com/user/article-capture/pkg/telemetry"
)

// Discoverer finds new article URLs and stores them.
type Discoverer interface {
	Discover(ctx context.Context, startURLs []string) ([]string, error)
}

// Capturer defines the capture workflows run over the job store.
type Capturer interface {
	Discover(ctx context.Context, startURLs []string) ([]string, error)
	ProcessPending(ctx context.Context, limit int, runID string) (*entity.BatchResult, error)
	ProcessSlug(ctx context.Context, slug, url, runID string) error
	RetryFailed(ctx context.Context, runID string) (*entity.BatchResult, error)
	Stats(ctx context.Context) (*entity.Stats, error)
	RunImages(ctx context.Context, runID, slug string) ([]entity.ImageRecord, error)
}

// CaptureConfig holds the pacing and retry settings of the capture workflows.
type CaptureConfig struct {
	OutputDir   string
	MinDelay    time.Duration
	MaxDelay    time.Duration
	MaxRetries  int
	SettleDelay time.Duration
	// NavigationAttempts bounds page loads per article.
	NavigationAttempts int
	// StaleAfter is how long a URL may sit in processing before a new batch
	// treats it as abandoned.
	StaleAfter time.Duration
	LockTTL    time.Duration
	// NewBackOff builds the navigation retry policy; nil means exponential.
	NewBackOff func() backoff.BackOff
}

func (c CaptureConfig) backOff() backoff.BackOff {
	attempts := c.NavigationAttempts
	if attempts < 1 {
		attempts = 3
	}
	var b backoff.BackOff
	if c.NewBackOff != nil {
		b = c.NewBackOff()
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 2 * time.Second
		b = exp
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}

// CaptureDeps are the collaborators of the capture workflows. Locker and
// Discoverer may be nil.
type CaptureDeps struct {
	Store      repository.JobStore
	Browser    repository.BrowserRepository
	Throttle   repository.Throttle
	Locker     repository.Locker
	Discoverer Discoverer
	Expander   *capture.Expander
	Validator  *capture.Validator
	Shooter    *capture.Shooter
}

type captureUseCase struct {
	CaptureDeps
	cfg    CaptureConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	rand   *rand.Rand
}

// NewCapturer creates the capture use case.
func NewCapturer(deps CaptureDeps, cfg CaptureConfig, logger *zap.Logger) Capturer {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	return &captureUseCase{
		CaptureDeps: deps,
		cfg:         cfg,
		logger:      logger,
		sleep:       sleepCtx,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (uc *captureUseCase) Discover(ctx context.Context, startURLs []string) ([]string, error) {
	if uc.Discoverer == nil {
		return nil, errors.New("discovery is not configured")
	}
	ctx, span := telemetry.Tracer().Start(ctx, "usecase.Discover")
	defer span.End()

	found, err := uc.Discoverer.Discover(ctx, startURLs)
	span.SetAttributes(attribute.Int("discovered", len(found)))
	if err != nil {
		span.RecordError(err)
		return found, err
	}
	uc.refreshStatusGauge(ctx)
	return found, nil
}

// ProcessPending processes up to limit pending URLs (all when limit <= 0)
// under runID, generating one when empty.
func (uc *captureUseCase) ProcessPending(ctx context.Context, limit int, runID string) (*entity.BatchResult, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	if n, err := uc.Store.RequeueInterrupted(ctx, time.Now().Add(-uc.cfg.StaleAfter)); err != nil {
		return nil, fmt.Errorf("requeue interrupted: %w", err)
	} else if n > 0 {
		uc.logger.Warn("requeued interrupted urls", zap.Int("count", n))
	}

	pending, err := uc.Store.PendingURLs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return uc.processBatch(ctx, pending, runID)
}

// RetryFailed resets failed URLs below the retry cap and processes exactly
// those.
func (uc *captureUseCase) RetryFailed(ctx context.Context, runID string) (*entity.BatchResult, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	failed, err := uc.Store.FailedURLs(ctx, uc.cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}

	batch := make([]entity.URLRecord, 0, len(failed))
	for _, rec := range failed {
		if err := uc.Store.Transition(ctx, rec.Slug, entity.StatusPending, ""); err != nil {
			uc.logger.Warn("could not reset failed url", zap.String("slug", rec.Slug), zap.Error(err))
			continue
		}
		rec.Status = entity.StatusPending
		batch = append(batch, rec)
	}
	uc.logger.Info("retrying failed urls", zap.String("run_id", runID), zap.Int("count", len(batch)))
	return uc.processBatch(ctx, batch, runID)
}

func (uc *captureUseCase) processBatch(ctx context.Context, urls []entity.URLRecord, runID string) (*entity.BatchResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "usecase.ProcessBatch")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID), attribute.Int("urls", len(urls)))

	log := uc.logger.With(zap.String("run_id", runID))
	log.Info("starting batch", zap.Int("urls", len(urls)))

	res := &entity.BatchResult{RunID: runID}
	for i, rec := range urls {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		ok, err := uc.processRecord(ctx, rec, runID)
		switch {
		case errors.Is(err, errSkipped):
			res.Skipped++
			continue
		case err != nil:
			span.RecordError(err)
			return res, err
		}
		res.Processed++
		if ok {
			res.Successful++
		} else {
			res.Failed++
		}

		if i < len(urls)-1 {
			if err := uc.sleep(ctx, uc.randomDelay()); err != nil {
				return res, err
			}
		}
	}

	uc.refreshStatusGauge(ctx)
	log.Info("batch completed",
		zap.Int("processed", res.Processed),
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

var errSkipped = errors.New("skipped")

const interruptedLabel = "interrupted"

// processRecord claims one URL, runs it and records the outcome. A store
// failure is returned as an error; a capture failure is reported as !ok.
func (uc *captureUseCase) processRecord(ctx context.Context, rec entity.URLRecord, runID string) (bool, error) {
	log := uc.logger.With(zap.String("slug", rec.Slug), zap.String("run_id", runID))

	if uc.Locker != nil {
		release, err := uc.Locker.Acquire(ctx, "slug:"+rec.Slug, uc.cfg.LockTTL)
		if errors.Is(err, repository.ErrLockHeld) {
			log.Info("slug locked by another worker, skipping")
			return false, errSkipped
		}
		if err != nil {
			return false, fmt.Errorf("lock %s: %w", rec.Slug, err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("release lock failed", zap.Error(err))
			}
		}()
	}

	err := uc.Store.Transition(ctx, rec.Slug, entity.StatusProcessing, "")
	if errors.Is(err, repository.ErrInvalidTransition) || errors.Is(err, repository.ErrNotFound) {
		log.Info("url claimed elsewhere, skipping")
		return false, errSkipped
	}
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", rec.Slug, err)
	}

	if err := uc.Store.StartRun(ctx, runID, rec.Slug); err != nil {
		// Undo the claim so the URL is not stuck in processing.
		if terr := uc.Store.Transition(context.WithoutCancel(ctx), rec.Slug, entity.StatusPending, ""); terr != nil {
			log.Error("could not release claim", zap.Error(terr))
		}
		if errors.Is(err, repository.ErrActiveRun) {
			log.Warn("slug already has an active run, skipping")
			return false, errSkipped
		}
		return false, fmt.Errorf("start run %s: %w", rec.Slug, err)
	}

	start := time.Now()
	procErr := uc.ProcessSlug(ctx, rec.Slug, rec.URL, runID)
	// Record the outcome even when the batch is being cancelled.
	storeCtx := context.WithoutCancel(ctx)

	if procErr != nil && ctx.Err() != nil {
		return false, uc.releaseInterrupted(storeCtx, log, rec.Slug, runID, ctx.Err())
	}

	status := entity.StatusDone
	if procErr != nil {
		status = FailureStatus(procErr)
	}
	metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	metrics.RunDuration.WithLabelValues(string(status)).Observe(time.Since(start).Seconds())

	if procErr == nil {
		if err := uc.Store.Transition(storeCtx, rec.Slug, entity.StatusDone, ""); err != nil {
			return false, fmt.Errorf("mark %s done: %w", rec.Slug, err)
		}
		if err := uc.Store.FinishRun(storeCtx, runID, rec.Slug, true, ""); err != nil {
			return false, fmt.Errorf("finish run %s: %w", rec.Slug, err)
		}
		log.Info("article captured", zap.Duration("took", time.Since(start)))
		return true, nil
	}

	msg := procErr.Error()
	log.Error("article failed", zap.String("status", string(status)), zap.Error(procErr))
	if err := uc.Store.Transition(storeCtx, rec.Slug, status, msg); err != nil {
		return false, fmt.Errorf("mark %s failed: %w", rec.Slug, err)
	}
	if err := uc.Store.FinishRun(storeCtx, runID, rec.Slug, false, msg); err != nil {
		return false, fmt.Errorf("finish run %s: %w", rec.Slug, err)
	}
	return false, nil
}

// releaseInterrupted hands a cancelled article back to pending and closes its
// run without counting a retry. It returns cause unless the store fails.
func (uc *captureUseCase) releaseInterrupted(ctx context.Context, log *zap.Logger, slug, runID string, cause error) error {
	log.Warn("article interrupted, returning to pending", zap.Error(cause))
	metrics.RunsTotal.WithLabelValues(interruptedLabel).Inc()
	if err := uc.Store.Transition(ctx, slug, entity.StatusPending, ""); err != nil {
		return fmt.Errorf("release %s: %w", slug, err)
	}
	if err := uc.Store.FinishRun(ctx, runID, slug, false, interruptedLabel); err != nil {
		return fmt.Errorf("finish run %s: %w", slug, err)
	}
	return cause
}

// FailureStatus maps a processing error to the status it leaves the URL in.
func FailureStatus(err error) entity.Status {
	var valErr *capture.ValidationError
	if errors.As(err, &valErr) {
		return entity.StatusFailedValidation
	}
	return entity.StatusFailedExpansion
}

// ProcessSlug captures one article: throttle, open a tab, check the session,
// load the article, expand, validate, shoot and record the images. It does
// not touch the URL status.
func (uc *captureUseCase) ProcessSlug(ctx context.Context, slug, url, runID string) error {
	ctx, span := telemetry.Tracer().Start(ctx, "usecase.ProcessSlug")
	defer span.End()
	span.SetAttributes(attribute.String("slug", slug), attribute.String("run_id", runID))

	err := uc.processSlug(ctx, slug, url, runID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (uc *captureUseCase) processSlug(ctx context.Context, slug, url, runID string) error {
	log := uc.logger.With(zap.String("slug", slug), zap.String("run_id", runID))

	if err := uc.Throttle.Wait(ctx); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}

	page, err := uc.Browser.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Debug("close page failed", zap.Error(err))
		}
	}()

	authed, err := uc.Browser.VerifyAuth(ctx, page)
	if err != nil {
		return err
	}
	if !authed {
		return repository.ErrNotAuthenticated
	}

	if err := uc.navigate(ctx, page, url); err != nil {
		return err
	}

	if err := uc.Expander.FullyExpand(ctx, page); err != nil {
		return err
	}
	if log.Core().Enabled(zap.DebugLevel) {
		uc.logPageMetrics(ctx, log, page)
	}

	validation := uc.Validator.ValidatePage(ctx, page)
	if err := validation.Err(); err != nil {
		return err
	}

	shots, err := uc.Shooter.ShootSections(ctx, page, slug, runID, uc.cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("capture screenshots: %w", err)
	}
	if len(shots) == 0 {
		return errors.New("no screenshots captured")
	}

	paths := make([]string, len(shots))
	for i, s := range shots {
		paths[i] = s.Path
	}
	summary := capture.Summarize(uc.Validator.ValidateScreenshots(paths))
	if summary.FailedFiles > 0 {
		log.Warn("some screenshots failed validation",
			zap.Int("failed", summary.FailedFiles),
			zap.Int("total", summary.TotalFiles),
			zap.Strings("errors", summary.Errors),
		)
	}

	for _, s := range shots {
		img := entity.ImageRecord{
			RunID:        runID,
			Slug:         slug,
			Index:        s.Index,
			Filename:     s.Filename,
			SectionTitle: s.Title,
		}
		if err := uc.Store.AddImage(ctx, img); err != nil {
			return fmt.Errorf("record image %s: %w", s.Filename, err)
		}
	}
	log.Info("screenshots recorded", zap.Int("images", len(shots)), zap.Float64("avg_density", summary.AverageDensity))
	return nil
}

func (uc *captureUseCase) logPageMetrics(ctx context.Context, log *zap.Logger, page capture.Page) {
	content, err := uc.Expander.ContentMetrics(ctx, page)
	if err != nil {
		log.Debug("content metrics unavailable", zap.Error(err))
		return
	}
	plan, err := uc.Shooter.ScreenshotMetrics(ctx, page)
	if err != nil {
		log.Debug("screenshot plan unavailable", zap.Error(err))
		return
	}
	log.Debug("page expanded",
		zap.Int("headings", content.Headings),
		zap.Int("paragraphs", content.Paragraphs),
		zap.Int("remaining_expand_buttons", content.RemainingExpandButtons),
		zap.Float64("page_height", plan.PageHeight),
		zap.Int("sections", plan.SectionCount),
		zap.Int("estimated_screenshots", plan.EstimatedScreenshots),
	)
}

// navigate loads url with retries and waits for the page to settle.
func (uc *captureUseCase) navigate(ctx context.Context, page capture.Page, url string) error {
	op := func() error {
		if err := page.Navigate(ctx, url); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		return page.WaitReady(ctx)
	}
	notify := func(err error, d time.Duration) {
		uc.logger.Warn("navigation failed, retrying", zap.String("url", url), zap.Duration("backoff", d), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(uc.cfg.backOff(), ctx), notify); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return uc.sleep(ctx, uc.cfg.SettleDelay)
}

func (uc *captureUseCase) randomDelay() time.Duration {
	lo, hi := uc.cfg.MinDelay, uc.cfg.MaxDelay
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(uc.rand.Int63n(int64(hi-lo)+1))
}

func (uc *captureUseCase) Stats(ctx context.Context) (*entity.Stats, error) {
	return uc.Store.Stats(ctx)
}

func (uc *captureUseCase) RunImages(ctx context.Context, runID, slug string) ([]entity.ImageRecord, error) {
	return uc.Store.RunImages(ctx, runID, slug)
}

// refreshStatusGauge mirrors the status counts into metrics; failures are
// only logged.
func (uc *captureUseCase) refreshStatusGauge(ctx context.Context) {
	stats, err := uc.Store.Stats(ctx)
	if err != nil {
		uc.logger.Warn("metrics refresh failed", zap.Error(err))
		return
	}
	for _, st := range entity.AllStatuses {
		metrics.URLsByStatus.WithLabelValues(string(st)).Set(float64(stats.Count(st)))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
