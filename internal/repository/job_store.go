package repository

import (
	"context"

	"github.com/user/article-capture/internal/entity"
)

// JobStore is the durable job queue: URLs, runs and images in one
// relational store.
type JobStore interface {
	URLRepository
	RunRepository
	ImageRepository

	// Stats counts URLs by status plus the total runs and images.
	Stats(ctx context.Context) (*entity.Stats, error)
	// Purge deletes every row.
	Purge(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
