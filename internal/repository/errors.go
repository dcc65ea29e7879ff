package repository

import "errors"

var (
	// ErrNotFound is returned when no URL record exists for a slug.
	ErrNotFound = errors.New("url not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the record's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrActiveRun is returned when a slug already has an unfinished run.
	ErrActiveRun = errors.New("slug already has an active run")
	// ErrRunNotFound is returned when a run referenced by an image or a
	// finish call does not exist.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunFinished is returned when finishing a run that is already closed.
	ErrRunFinished = errors.New("run already finished")
	// ErrLockHeld is returned when another worker holds the slug lock.
	ErrLockHeld = errors.New("lock held by another worker")
	// ErrQueueEmpty is returned by Pop when nothing is queued.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrNotAuthenticated is returned when the browser session is logged out.
	ErrNotAuthenticated = errors.New("authentication failed: session is not logged in")
)
