package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/article-capture/internal/entity"
	"github.com/user/article-capture/internal/repository"
)

func setup(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// clock returns a store clock that advances one second per call.
func clock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestAddURLIsIdempotent(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	added, err := s.AddURL(ctx, "herzinsuffizienz", "https://next.amboss.com/de/article/herzinsuffizienz")
	require.NoError(t, err)
	assert.True(t, added)

	require.NoError(t, s.Transition(ctx, "herzinsuffizienz", entity.StatusProcessing, ""))

	added, err = s.AddURL(ctx, "herzinsuffizienz", "https://other")
	require.NoError(t, err)
	assert.False(t, added)

	rec, err := s.GetURL(ctx, "herzinsuffizienz")
	require.NoError(t, err)
	assert.Equal(t, "https://next.amboss.com/de/article/herzinsuffizienz", rec.URL)
	assert.Equal(t, entity.StatusProcessing, rec.Status, "re-adding does not reset the status")
}

func TestGetURLNotFound(t *testing.T) {
	s := setup(t)
	_, err := s.GetURL(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPendingURLsOrderAndLimit(t *testing.T) {
	s := setup(t)
	s.now = clock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for _, slug := range []string{"c", "a", "b"} {
		_, err := s.AddURL(ctx, slug, "https://x/"+slug)
		require.NoError(t, err)
	}
	require.NoError(t, s.Transition(ctx, "a", entity.StatusProcessing, ""))

	all, err := s.PendingURLs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c", all[0].Slug)
	assert.Equal(t, "b", all[1].Slug)

	one, err := s.PendingURLs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "c", one[0].Slug)
}

func TestTransitionStateMachine(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	_, err := s.AddURL(ctx, "x", "https://x")
	require.NoError(t, err)

	err = s.Transition(ctx, "x", entity.StatusDone, "")
	assert.ErrorIs(t, err, repository.ErrInvalidTransition, "pending cannot jump to done")

	require.NoError(t, s.Transition(ctx, "x", entity.StatusProcessing, ""))
	err = s.Transition(ctx, "x", entity.StatusProcessing, "")
	assert.ErrorIs(t, err, repository.ErrInvalidTransition, "a second claim fails")

	require.NoError(t, s.Transition(ctx, "x", entity.StatusFailedExpansion, "3 sections still hidden"))
	rec, err := s.GetURL(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailedExpansion, rec.Status)
	assert.Equal(t, "3 sections still hidden", rec.LastError)
	assert.Equal(t, 1, rec.RetryCount)

	require.NoError(t, s.Transition(ctx, "x", entity.StatusPending, ""))
	require.NoError(t, s.Transition(ctx, "x", entity.StatusProcessing, ""))
	require.NoError(t, s.Transition(ctx, "x", entity.StatusDone, ""))

	rec, err = s.GetURL(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDone, rec.Status)
	assert.Empty(t, rec.LastError)
	assert.Equal(t, 1, rec.RetryCount)

	err = s.Transition(ctx, "x", entity.StatusPending, "")
	assert.ErrorIs(t, err, repository.ErrInvalidTransition, "done is terminal")

	err = s.Transition(ctx, "missing", entity.StatusProcessing, "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestFailedURLsRespectsRetryCap(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	fail := func(slug string, times int, to entity.Status) {
		_, err := s.AddURL(ctx, slug, "https://x/"+slug)
		require.NoError(t, err)
		for i := 0; i < times; i++ {
			if i > 0 {
				require.NoError(t, s.Transition(ctx, slug, entity.StatusPending, ""))
			}
			require.NoError(t, s.Transition(ctx, slug, entity.StatusProcessing, ""))
			require.NoError(t, s.Transition(ctx, slug, to, "boom"))
		}
	}
	fail("once", 1, entity.StatusFailedExpansion)
	fail("twice", 2, entity.StatusFailedValidation)
	fail("thrice", 3, entity.StatusFailedExpansion)

	retryable, err := s.FailedURLs(ctx, 3)
	require.NoError(t, err)
	var slugs []string
	for _, r := range retryable {
		slugs = append(slugs, r.Slug)
	}
	assert.ElementsMatch(t, []string{"once", "twice"}, slugs)

	all, err := s.FailedURLs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRunsAndImages(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	_, err := s.AddURL(ctx, "x", "https://x")
	require.NoError(t, err)

	err = s.StartRun(ctx, "run-1", "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, s.StartRun(ctx, "run-1", "x"))
	err = s.StartRun(ctx, "run-2", "x")
	assert.ErrorIs(t, err, repository.ErrActiveRun)

	err = s.AddImage(ctx, entity.ImageRecord{RunID: "run-9", Slug: "x", Index: 0, Filename: "a.png"})
	assert.ErrorIs(t, err, repository.ErrRunNotFound)

	for i, name := range []string{"sec_000_Intro.png", "sec_001_Therapie.png"} {
		require.NoError(t, s.AddImage(ctx, entity.ImageRecord{RunID: "run-1", Slug: "x", Index: i, Filename: name, SectionTitle: name[8:]}))
	}
	err = s.AddImage(ctx, entity.ImageRecord{RunID: "run-1", Slug: "x", Index: 0, Filename: "dup.png"})
	assert.Error(t, err, "image index is unique per run")

	require.NoError(t, s.FinishRun(ctx, "run-1", "x", true, ""))
	require.NoError(t, s.StartRun(ctx, "run-2", "x"), "a finished run frees the slug")
	require.NoError(t, s.FinishRun(ctx, "run-2", "x", false, "navigation timeout"))

	err = s.FinishRun(ctx, "run-3", "x", true, "")
	assert.ErrorIs(t, err, repository.ErrRunNotFound)
	err = s.FinishRun(ctx, "run-2", "x", true, "")
	assert.ErrorIs(t, err, repository.ErrRunFinished)

	images, err := s.RunImages(ctx, "run-1", "x")
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "sec_000_Intro.png", images[0].Filename)
	assert.Equal(t, 1, images[1].Index)
	assert.False(t, images[0].Created.IsZero())

	runs, err := s.Runs(ctx, "x")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		require.NotNil(t, r.OK)
		require.NotNil(t, r.Finished)
		assert.False(t, r.Active())
		if r.RunID == "run-2" {
			assert.False(t, *r.OK)
			assert.Equal(t, "navigation timeout", r.ErrorMsg)
		} else {
			assert.True(t, *r.OK)
		}
	}
}

func TestRequeueInterrupted(t *testing.T) {
	s := setup(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = clock(start)
	ctx := context.Background()

	for _, slug := range []string{"stale", "fresh", "waiting"} {
		_, err := s.AddURL(ctx, slug, "https://x/"+slug)
		require.NoError(t, err)
	}
	require.NoError(t, s.Transition(ctx, "stale", entity.StatusProcessing, ""))
	require.NoError(t, s.StartRun(ctx, "run-1", "stale"))

	cutoff := s.now()
	require.NoError(t, s.Transition(ctx, "fresh", entity.StatusProcessing, ""))

	n, err := s.RequeueInterrupted(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := s.GetURL(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, rec.Status)

	rec, err = s.GetURL(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusProcessing, rec.Status)

	runs, err := s.Runs(ctx, "stale")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Active())
	assert.False(t, *runs[0].OK)
	assert.Contains(t, runs[0].ErrorMsg, "interrupted")

	err = s.FinishRun(ctx, "run-1", "stale", true, "")
	assert.ErrorIs(t, err, repository.ErrRunFinished, "a late finish keeps the interrupted outcome")
	runs, err = s.Runs(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, *runs[0].OK)
	assert.Contains(t, runs[0].ErrorMsg, "interrupted")

	require.NoError(t, s.StartRun(ctx, "run-2", "stale"), "interrupted run no longer blocks the slug")
}

func TestStatsAndPurge(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	for _, slug := range []string{"a", "b", "c"} {
		_, err := s.AddURL(ctx, slug, "https://x/"+slug)
		require.NoError(t, err)
	}
	require.NoError(t, s.Transition(ctx, "a", entity.StatusProcessing, ""))
	require.NoError(t, s.StartRun(ctx, "r", "a"))
	require.NoError(t, s.AddImage(ctx, entity.ImageRecord{RunID: "r", Slug: "a", Filename: "f.png"}))
	require.NoError(t, s.Transition(ctx, "a", entity.StatusDone, ""))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalURLs)
	assert.Equal(t, 2, stats.Count(entity.StatusPending))
	assert.Equal(t, 1, stats.Count(entity.StatusDone))
	assert.Equal(t, 0, stats.Count(entity.StatusFailedValidation))
	assert.Contains(t, stats.ByStatus, entity.StatusFailedValidation)
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.TotalImages)

	require.NoError(t, s.Purge(ctx))
	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalURLs)
	assert.Zero(t, stats.TotalRuns)
	assert.Zero(t, stats.TotalImages)
	assert.NoError(t, s.Ping(ctx))
}

func TestOpenFile(t *testing.T) {
	path := t.TempDir() + "/capture.db"
	s, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	_, err = s.AddURL(context.Background(), "x", "https://x")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.GetURL(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, rec.Status)

	assert.True(t, IsMemory(":memory:"))
	assert.False(t, IsMemory(path))
}
