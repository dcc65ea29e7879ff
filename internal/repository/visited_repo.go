package repository

import (
	"context"
	"time"
)

// VisitedRepository remembers which listing pages the discoverer has
// already fetched so that concurrent discoverers do not refetch them.
type VisitedRepository interface {
	// MarkVisited marks a page as visited for expiry.
	MarkVisited(ctx context.Context, url string, expiry time.Duration) error
	// IsVisited checks if a page has been visited recently.
	IsVisited(ctx context.Context, url string) (bool, error)
	// RemoveVisited forgets a page so it is fetched again.
	RemoveVisited(ctx context.Context, url string) error
}
