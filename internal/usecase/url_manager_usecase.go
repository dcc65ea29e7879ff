package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/user/article-capture/internal/entity"
	"github.com/user/article-capture/internal/repository"
)

var (
	ErrInvalidURL = errors.New("url does not match the article pattern")
)

// ArticleMatcher recognises article URLs.
type ArticleMatcher interface {
	ArticleURL(rawURL string) (string, bool)
	SlugFromURL(rawURL string) (string, bool)
}

// URLManager defines the interface for submitting URLs and checking them.
type URLManager interface {
	// AddURL stores url as pending. added is false when the slug was
	// already tracked.
	AddURL(ctx context.Context, url string) (slug string, added bool, err error)
	// Submit validates url and queues it for the next DrainQueue.
	Submit(ctx context.Context, url string) (string, error)
	// DrainQueue moves every queued URL into the job store.
	DrainQueue(ctx context.Context) (int, error)
	Status(ctx context.Context, slug string) (*entity.URLStatus, error)
}

type urlManagerUseCase struct {
	matcher ArticleMatcher
	store   repository.JobStore
	queue   repository.QueueRepository
	logger  *zap.Logger
}

// NewURLManager creates a new URLManager use case.
func NewURLManager(
	matcher ArticleMatcher,
	store repository.JobStore,
	queue repository.QueueRepository,
	logger *zap.Logger,
) URLManager {
	return &urlManagerUseCase{
		matcher: matcher,
		store:   store,
		queue:   queue,
		logger:  logger,
	}
}

func (uc *urlManagerUseCase) parse(rawURL string) (string, string, error) {
	u, ok := uc.matcher.ArticleURL(strings.TrimSpace(rawURL))
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	slug, ok := uc.matcher.SlugFromURL(u)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return slug, u, nil
}

func (uc *urlManagerUseCase) AddURL(ctx context.Context, rawURL string) (string, bool, error) {
	slug, u, err := uc.parse(rawURL)
	if err != nil {
		return "", false, err
	}
	added, err := uc.store.AddURL(ctx, slug, u)
	if err != nil {
		return slug, false, err
	}
	if added {
		uc.logger.Info("url added", zap.String("slug", slug), zap.String("url", u))
	} else {
		uc.logger.Info("url already tracked", zap.String("slug", slug))
	}
	return slug, added, nil
}

func (uc *urlManagerUseCase) Submit(ctx context.Context, rawURL string) (string, error) {
	slug, u, err := uc.parse(rawURL)
	if err != nil {
		return "", err
	}
	if err := uc.queue.Push(ctx, u); err != nil {
		return "", fmt.Errorf("queue %s: %w", slug, err)
	}
	return slug, nil
}

func (uc *urlManagerUseCase) DrainQueue(ctx context.Context) (int, error) {
	added := 0
	for {
		u, err := uc.queue.Pop(ctx)
		if errors.Is(err, repository.ErrQueueEmpty) {
			return added, nil
		}
		if err != nil {
			return added, fmt.Errorf("pop queue: %w", err)
		}
		_, ok, err := uc.AddURL(ctx, u)
		if errors.Is(err, ErrInvalidURL) {
			uc.logger.Warn("dropping invalid queued url", zap.String("url", u))
			continue
		}
		if err != nil {
			// Put it back for the next drain.
			if perr := uc.queue.Push(context.WithoutCancel(ctx), u); perr != nil {
				uc.logger.Error("requeue failed, url lost", zap.String("url", u), zap.Error(perr))
			}
			return added, err
		}
		if ok {
			added++
		}
	}
}

func (uc *urlManagerUseCase) Status(ctx context.Context, slug string) (*entity.URLStatus, error) {
	rec, err := uc.store.GetURL(ctx, slug)
	if err != nil {
		return nil, err
	}
	runs, err := uc.store.Runs(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("runs of %s: %w", slug, err)
	}
	return &entity.URLStatus{URLRecord: *rec, Runs: runs}, nil
}
