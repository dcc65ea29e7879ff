package repository

import "context"

// QueueRepository is a FIFO queue of article URLs submitted for capture
// outside a batch, e.g. through the HTTP API.
type QueueRepository interface {
	// Push adds a URL to the end of the queue.
	Push(ctx context.Context, url string) error
	// Pop removes and returns the URL at the front of the queue, or
	// ErrQueueEmpty.
	Pop(ctx context.Context) (string, error)
	// Size returns the current number of items in the queue.
	Size(ctx context.Context) (int64, error)
}
