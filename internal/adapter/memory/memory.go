// Package memory provides in-process implementations of the coordination
// repositories, used when no Redis is configured.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/article-capture/internal/repository"
	"github.com/user/article-capture/pkg/metrics"
)

// Throttle is a sliding-window rate limiter for a single process.
type Throttle struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	recent []time.Time
	now    func() time.Time
}

func NewThrottle(requestsPerMinute int) *Throttle {
	return &Throttle{limit: requestsPerMinute, window: time.Minute, now: time.Now}
}

// Wait blocks until fewer than limit requests happened in the last window.
func (t *Throttle) Wait(ctx context.Context) error {
	start := t.now()
	for {
		wait := t.reserve()
		if wait <= 0 {
			metrics.ThrottleWait.Observe(t.now().Sub(start).Seconds())
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve records a request and returns 0, or returns how long to wait.
func (t *Throttle) reserve() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-t.window)
	kept := t.recent[:0]
	for _, ts := range t.recent {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.recent = kept

	if len(t.recent) < t.limit {
		t.recent = append(t.recent, now)
		return 0
	}
	return t.recent[0].Add(t.window).Sub(now)
}

// Locker is a process-local repository.Locker.
type Locker struct {
	mu    sync.Mutex
	locks map[string]lease
	now   func() time.Time
}

type lease struct {
	token   string
	expires time.Time
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]lease), now: time.Now}
}

func (l *Locker) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.locks[key]; ok && l.now().Before(cur.expires) {
		return nil, fmt.Errorf("%w: %s", repository.ErrLockHeld, key)
	}
	token := uuid.NewString()
	l.locks[key] = lease{token: token, expires: l.now().Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.locks[key]; ok && cur.token == token {
			delete(l.locks, key)
		}
		return nil
	}, nil
}

// Queue is a process-local FIFO queue.
type Queue struct {
	mu    sync.Mutex
	items []string
}

func NewQueue() *Queue { return &Queue{} }

func (q *Queue) Push(_ context.Context, url string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, url)
	return nil
}

func (q *Queue) Pop(_ context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", repository.ErrQueueEmpty
	}
	url := q.items[0]
	q.items = q.items[1:]
	return url, nil
}

func (q *Queue) Size(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// Visited is a process-local repository.VisitedRepository.
type Visited struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewVisited() *Visited {
	return &Visited{entries: make(map[string]time.Time), now: time.Now}
}

func (v *Visited) MarkVisited(_ context.Context, url string, expiry time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[url] = v.now().Add(expiry)
	return nil
}

func (v *Visited) IsVisited(_ context.Context, url string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	exp, ok := v.entries[url]
	if !ok {
		return false, nil
	}
	if !v.now().Before(exp) {
		delete(v.entries, url)
		return false, nil
	}
	return true, nil
}

func (v *Visited) RemoveVisited(_ context.Context, url string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, url)
	return nil
}

var (
	_ repository.Throttle          = (*Throttle)(nil)
	_ repository.Locker            = (*Locker)(nil)
	_ repository.QueueRepository   = (*Queue)(nil)
	_ repository.VisitedRepository = (*Visited)(nil)
)
