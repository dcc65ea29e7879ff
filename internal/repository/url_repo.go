package repository

import (
	"context"
	"time"

	"github.com/user/article-capture/internal/entity"
)

// URLRepository tracks article URLs and their lifecycle status.
type URLRepository interface {
	// AddURL inserts a pending URL. It reports false when the slug is
	// already tracked, in which case the existing row is left untouched.
	AddURL(ctx context.Context, slug, url string) (bool, error)
	// GetURL returns the record for slug or ErrNotFound.
	GetURL(ctx context.Context, slug string) (*entity.URLRecord, error)
	// PendingURLs returns pending URLs in discovery order. A limit <= 0
	// returns all of them.
	PendingURLs(ctx context.Context, limit int) ([]entity.URLRecord, error)
	// FailedURLs returns failed URLs whose retry count is below maxRetries.
	FailedURLs(ctx context.Context, maxRetries int) ([]entity.URLRecord, error)
	// Transition moves slug to status `to` if its current status allows it.
	// Entering a failure status stores errMsg and increments the retry
	// count. It returns ErrInvalidTransition when the current status does
	// not allow the move and ErrNotFound when the slug is unknown.
	Transition(ctx context.Context, slug string, to entity.Status, errMsg string) error
	// RequeueInterrupted resets URLs left in processing since before
	// olderThan to pending and closes their open runs as failed.
	RequeueInterrupted(ctx context.Context, olderThan time.Time) (int, error)
}
