package repository

import (
	"context"
	"time"
)

// Throttle limits how often article pages are requested.
type Throttle interface {
	// Wait blocks until another request is allowed or ctx is done.
	Wait(ctx context.Context) error
}

// Locker provides short-lived exclusive locks keyed by slug.
type Locker interface {
	// Acquire takes the lock for key or returns ErrLockHeld. The returned
	// release func frees it only if this caller still owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}
