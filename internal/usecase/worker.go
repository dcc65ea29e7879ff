package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker periodically moves queued submissions into the job store and runs
// a batch over the pending URLs.
type Worker struct {
	capturer  Capturer
	urls      URLManager
	interval  time.Duration
	batchSize int
	logger    *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	trigger chan struct{}
}

func NewWorker(capturer Capturer, urls URLManager, interval time.Duration, batchSize int, logger *zap.Logger) *Worker {
	return &Worker{
		capturer:  capturer,
		urls:      urls,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		trigger:   make(chan struct{}, 1),
	}
}

// Start runs the loop until Stop is called or ctx ends. A second Start
// while running is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Info("worker started", zap.Duration("interval", w.interval), zap.Int("batch_size", w.batchSize))
}

// Stop cancels the running batch and waits for the loop to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// Trigger asks for a batch now instead of at the next tick.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.trigger:
		}
		w.tick(ctx)
	}
}

func (w *Worker) tick(ctx context.Context) {
	if n, err := w.urls.DrainQueue(ctx); err != nil {
		w.logger.Error("drain queue failed", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("queued urls stored", zap.Int("count", n))
	}

	res, err := w.capturer.ProcessPending(ctx, w.batchSize, "")
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("batch failed", zap.Error(err))
		}
		return
	}
	if res.Processed > 0 || res.Skipped > 0 {
		w.logger.Info("batch finished",
			zap.String("run_id", res.RunID),
			zap.Int("processed", res.Processed),
			zap.Int("successful", res.Successful),
			zap.Int("failed", res.Failed),
		)
	}
}
