package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/article-capture/internal/adapter/memory"
	"github.com/user/article-capture/internal/adapter/sqlite"
	"github.com/user/article-capture/internal/discovery"
	"github.com/user/article-capture/internal/entity"
	"github.com/user/article-capture/internal/repository"
)

func newURLManager(t *testing.T) (URLManager, *sqlite.Store, *memory.Queue) {
	t.Helper()
	store, err := sqlite.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	matcher, err := discovery.NewExtractor(`https://next\.amboss\.com/de/(?:article|knowledge)/([a-z0-9-]+)`, "https://next.amboss.com")
	require.NoError(t, err)
	queue := memory.NewQueue()
	return NewURLManager(matcher, store, queue, zap.NewNop()), store, queue
}

func TestAddURL(t *testing.T) {
	m, _, _ := newURLManager(t)
	ctx := context.Background()

	slug, added, err := m.AddURL(ctx, " https://next.amboss.com/de/article/pneumonie?x=1#top ")
	require.NoError(t, err)
	assert.Equal(t, "pneumonie", slug)
	assert.True(t, added)

	_, added, err = m.AddURL(ctx, "https://next.amboss.com/de/article/pneumonie")
	require.NoError(t, err)
	assert.False(t, added)

	_, _, err = m.AddURL(ctx, "https://example.com/de/article/pneumonie")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestSubmitAndDrainQueue(t *testing.T) {
	m, store, queue := newURLManager(t)
	ctx := context.Background()

	_, err := m.Submit(ctx, "https://next.amboss.com/de/search")
	assert.ErrorIs(t, err, ErrInvalidURL)

	slug, err := m.Submit(ctx, "https://next.amboss.com/de/article/sepsis")
	require.NoError(t, err)
	assert.Equal(t, "sepsis", slug)
	_, err = m.Submit(ctx, "https://next.amboss.com/de/article/sepsis")
	require.NoError(t, err)
	require.NoError(t, queue.Push(ctx, "garbage"))

	n, err := m.DrainQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "duplicates and invalid entries are not counted")

	size, err := queue.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	rec, err := store.GetURL(ctx, "sepsis")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, rec.Status)
}

func TestStatus(t *testing.T) {
	m, store, _ := newURLManager(t)
	ctx := context.Background()

	_, err := m.Status(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, _, err = m.AddURL(ctx, "https://next.amboss.com/de/article/asthma")
	require.NoError(t, err)
	require.NoError(t, store.Transition(ctx, "asthma", entity.StatusProcessing, ""))
	require.NoError(t, store.StartRun(ctx, "r1", "asthma"))

	st, err := m.Status(ctx, "asthma")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusProcessing, st.Status)
	require.Len(t, st.Runs, 1)
	assert.True(t, st.Runs[0].Active())
}

type countingCapturer struct {
	Capturer
	calls chan int
	n     int
}

func (c *countingCapturer) ProcessPending(ctx context.Context, limit int, runID string) (*entity.BatchResult, error) {
	c.n++
	c.calls <- limit
	if c.n == 2 {
		return nil, errors.New("store down")
	}
	return &entity.BatchResult{RunID: "r"}, nil
}

func TestWorkerRunsOnStartAndTrigger(t *testing.T) {
	m, store, _ := newURLManager(t)
	ctx := context.Background()
	_, err := m.Submit(ctx, "https://next.amboss.com/de/article/queued")
	require.NoError(t, err)

	c := &countingCapturer{calls: make(chan int, 10)}
	w := NewWorker(c, m, time.Hour, 5, zap.NewNop())
	w.Start(ctx)
	w.Start(ctx)

	select {
	case limit := <-c.calls:
		assert.Equal(t, 5, limit)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not run on start")
	}
	_, err = store.GetURL(ctx, "queued")
	require.NoError(t, err, "queue drained before the batch")

	w.Trigger()
	select {
	case <-c.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not run a batch")
	}

	w.Stop()
	w.Stop()
	assert.Len(t, c.calls, 0, "single loop despite double start")
}
