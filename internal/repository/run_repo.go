package repository

import (
	"context"

	"github.com/user/article-capture/internal/entity"
)

// RunRepository records processing attempts.
type RunRepository interface {
	// StartRun opens a run. It fails with ErrActiveRun when the slug
	// already has an unfinished run and ErrNotFound when the slug is not
	// tracked.
	StartRun(ctx context.Context, runID, slug string) error
	// FinishRun closes an open run with its outcome. It fails with
	// ErrRunFinished when the run was already closed and ErrRunNotFound when
	// it does not exist.
	FinishRun(ctx context.Context, runID, slug string, ok bool, errMsg string) error
	// Runs lists every run of slug, newest first.
	Runs(ctx context.Context, slug string) ([]entity.RunRecord, error)
}

// ImageRepository records the screenshots produced by a run.
type ImageRepository interface {
	// AddImage stores an image record; ErrRunNotFound when its run does
	// not exist.
	AddImage(ctx context.Context, img entity.ImageRecord) error
	// RunImages lists the images of one run in capture order.
	RunImages(ctx context.Context, runID, slug string) ([]entity.ImageRecord, error)
}
