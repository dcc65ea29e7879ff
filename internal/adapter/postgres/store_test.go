package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/article-capture/internal/entity"
	"github.com/user/article-capture/internal/repository"
)

// setup connects to the database named by CAPTURE_TEST_POSTGRES_URL. The
// tests purge every table, so never point it at a real deployment.
func setup(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("CAPTURE_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("CAPTURE_TEST_POSTGRES_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Open(ctx, url, zap.NewNop())
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	require.NoError(t, s.Purge(ctx))
	t.Cleanup(func() {
		_ = s.Purge(context.Background())
		s.Close()
	})
	return s
}

func TestLifecycle(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	added, err := s.AddURL(ctx, "x", "https://next.amboss.com/de/article/x")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddURL(ctx, "x", "https://dup")
	require.NoError(t, err)
	assert.False(t, added)

	err = s.Transition(ctx, "x", entity.StatusDone, "")
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)

	require.NoError(t, s.Transition(ctx, "x", entity.StatusProcessing, ""))
	require.NoError(t, s.StartRun(ctx, "r1", "x"))
	assert.ErrorIs(t, s.StartRun(ctx, "r2", "x"), repository.ErrActiveRun)
	assert.ErrorIs(t, s.StartRun(ctx, "r1", "missing"), repository.ErrNotFound)

	require.NoError(t, s.AddImage(ctx, entity.ImageRecord{RunID: "r1", Slug: "x", Index: 0, Filename: "sec_000_a.png"}))
	assert.ErrorIs(t, s.AddImage(ctx, entity.ImageRecord{RunID: "nope", Slug: "x"}), repository.ErrRunNotFound)

	require.NoError(t, s.Transition(ctx, "x", entity.StatusFailedValidation, "blank"))
	require.NoError(t, s.FinishRun(ctx, "r1", "x", false, "blank"))
	assert.ErrorIs(t, s.FinishRun(ctx, "r1", "x", true, ""), repository.ErrRunFinished)
	assert.ErrorIs(t, s.FinishRun(ctx, "r9", "x", true, ""), repository.ErrRunNotFound)

	failed, err := s.FailedURLs(ctx, 3)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].RetryCount)
	assert.Equal(t, "blank", failed[0].LastError)

	runs, err := s.Runs(ctx, "x")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].OK)
	assert.False(t, *runs[0].OK)

	images, err := s.RunImages(ctx, "r1", "x")
	require.NoError(t, err)
	assert.Len(t, images, 1)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count(entity.StatusFailedValidation))
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.TotalImages)
}

func TestRequeueInterrupted(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	_, err := s.AddURL(ctx, "stale", "https://x/stale")
	require.NoError(t, err)
	require.NoError(t, s.Transition(ctx, "stale", entity.StatusProcessing, ""))
	require.NoError(t, s.StartRun(ctx, "r1", "stale"))

	n, err := s.RequeueInterrupted(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := s.PendingURLs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, s.StartRun(ctx, "r2", "stale"))
}
