package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/article-capture/internal/repository"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestThrottleSlidingWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	th := NewThrottle(2)
	th.now = clock.now

	assert.Zero(t, th.reserve())
	clock.t = clock.t.Add(10 * time.Second)
	assert.Zero(t, th.reserve())

	clock.t = clock.t.Add(10 * time.Second)
	assert.Equal(t, 40*time.Second, th.reserve(), "wait until the oldest request leaves the window")

	clock.t = clock.t.Add(41 * time.Second)
	assert.Zero(t, th.reserve())
}

func TestThrottleWaitHonoursContext(t *testing.T) {
	th := NewThrottle(1)
	ctx := context.Background()
	require.NoError(t, th.Wait(ctx))

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, th.Wait(ctx), context.DeadlineExceeded)
}

func TestLocker(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	l := NewLocker()
	l.now = clock.now
	ctx := context.Background()

	release, err := l.Acquire(ctx, "herz", time.Minute)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "herz", time.Minute)
	assert.ErrorIs(t, err, repository.ErrLockHeld)

	_, err = l.Acquire(ctx, "lunge", time.Minute)
	assert.NoError(t, err, "locks are per key")

	clock.t = clock.t.Add(2 * time.Minute)
	release2, err := l.Acquire(ctx, "herz", time.Minute)
	require.NoError(t, err, "expired lease can be taken over")

	require.NoError(t, release(ctx))
	_, err = l.Acquire(ctx, "herz", time.Minute)
	assert.ErrorIs(t, err, repository.ErrLockHeld, "stale release keeps the new lease")

	require.NoError(t, release2(ctx))
	_, err = l.Acquire(ctx, "herz", time.Minute)
	assert.NoError(t, err)
}

func TestQueue(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, repository.ErrQueueEmpty)

	require.NoError(t, q.Push(ctx, "a"))
	require.NoError(t, q.Push(ctx, "b"))
	n, _ := q.Size(ctx)
	assert.Equal(t, int64(2), n)

	v, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestVisitedExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	v := NewVisited()
	v.now = clock.now
	ctx := context.Background()

	require.NoError(t, v.MarkVisited(ctx, "u", time.Hour))
	seen, _ := v.IsVisited(ctx, "u")
	assert.True(t, seen)

	clock.t = clock.t.Add(2 * time.Hour)
	seen, _ = v.IsVisited(ctx, "u")
	assert.False(t, seen)

	require.NoError(t, v.MarkVisited(ctx, "u", time.Hour))
	require.NoError(t, v.RemoveVisited(ctx, "u"))
	seen, _ = v.IsVisited(ctx, "u")
	assert.False(t, seen)
}
