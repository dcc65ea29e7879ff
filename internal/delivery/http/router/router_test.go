package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/article-capture/internal/adapter/memory"
	"github.com/user/article-capture/internal/adapter/sqlite"
	"github.com/user/article-capture/internal/delivery/http/handler"
	"github.com/user/article-capture/internal/delivery/http/response"
	"github.com/user/article-capture/internal/discovery"
	"github.com/user/article-capture/internal/entity"
	"github.com/user/article-capture/internal/usecase"
)

type stubCapturer struct {
	usecase.Capturer
	store *sqlite.Store
}

func (c *stubCapturer) Stats(ctx context.Context) (*entity.Stats, error) {
	return c.store.Stats(ctx)
}

func (c *stubCapturer) RunImages(ctx context.Context, runID, slug string) ([]entity.ImageRecord, error) {
	return c.store.RunImages(ctx, runID, slug)
}

type testServer struct {
	handler http.Handler
	store   *sqlite.Store
	queue   *memory.Queue
	urls    usecase.URLManager
}

func newTestServer(t *testing.T, opts ...handler.Option) *testServer {
	t.Helper()
	store, err := sqlite.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	matcher, err := discovery.NewExtractor(`https://next\.amboss\.com/de/(?:article|knowledge)/([a-z0-9-]+)`, "https://next.amboss.com")
	require.NoError(t, err)

	ts := &testServer{store: store, queue: memory.NewQueue()}
	ts.urls = usecase.NewURLManager(matcher, store, ts.queue, zap.NewNop())
	opts = append([]handler.Option{handler.WithHealthCheck("store", store)}, opts...)
	h := handler.NewHandler(ts.urls, &stubCapturer{store: store}, zap.NewNop(), opts...)
	ts.handler = New(h, zap.NewNop())
	return ts
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitURL(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/urls", `{"url":"https://next.amboss.com/de/article/sepsis?tab=1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp response.SubmitURLResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "sepsis", resp.Slug)

	size, err := ts.queue.Size(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"url":`},
		{"missing url", `{}`},
		{"not an article", `{"url":"https://next.amboss.com/de/search"}`},
		{"foreign host", `{"url":"https://example.com/de/article/sepsis"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/urls", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestGetURLStatus(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	rec := ts.do(http.MethodGet, "/api/urls/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, _, err := ts.urls.AddURL(ctx, "https://next.amboss.com/de/article/asthma")
	require.NoError(t, err)
	require.NoError(t, ts.store.Transition(ctx, "asthma", entity.StatusProcessing, ""))
	require.NoError(t, ts.store.StartRun(ctx, "run-1", "asthma"))

	rec = ts.do(http.MethodGet, "/api/urls/asthma", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st entity.URLStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, "asthma", st.Slug)
	assert.Equal(t, entity.StatusProcessing, st.Status)
	require.Len(t, st.Runs, 1)
	assert.Equal(t, "run-1", st.Runs[0].RunID)
}

func TestStatsAndRunImages(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, _, err := ts.urls.AddURL(ctx, "https://next.amboss.com/de/article/asthma")
	require.NoError(t, err)
	require.NoError(t, ts.store.Transition(ctx, "asthma", entity.StatusProcessing, ""))
	require.NoError(t, ts.store.StartRun(ctx, "run-1", "asthma"))
	for i := 0; i < 2; i++ {
		require.NoError(t, ts.store.AddImage(ctx, entity.ImageRecord{
			RunID:        "run-1",
			Slug:         "asthma",
			Index:        i,
			Filename:     "asthma.png",
			SectionTitle: "Therapie",
		}))
	}

	rec := ts.do(http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats entity.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalURLs)
	assert.Equal(t, 1, stats.Count(entity.StatusProcessing))
	assert.Equal(t, 2, stats.TotalImages)

	rec = ts.do(http.MethodGet, "/api/runs/run-1/images?slug=asthma", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var imgs response.RunImagesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&imgs))
	assert.Equal(t, "run-1", imgs.RunID)
	assert.Equal(t, 2, imgs.Count)

	rec = ts.do(http.MethodGet, "/api/runs/other/images", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&imgs))
	assert.Zero(t, imgs.Count)
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health response.HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "healthy", health.Dependencies["store"])

	down := handler.PingFunc(func(context.Context) error { return errors.New("connection refused") })
	ts = newTestServer(t, handler.WithHealthCheck("redis", down))
	rec = ts.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "unhealthy", health.Dependencies["redis"])
	assert.Equal(t, "healthy", health.Dependencies["store"])
}

func TestProcessTrigger(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/api/process", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	called := make(chan struct{}, 1)
	ts = newTestServer(t, handler.WithTrigger(func() { called <- struct{}{} }))
	rec = ts.do(http.MethodPost, "/api/process", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("trigger not called")
	}
}

func TestMetricsEndpointAndRouting(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodGet, "/api/urls/anything", "")

	rec := ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "article_capture_http_requests_total")
	assert.Contains(t, body, `path="/api/urls/{slug}"`)

	rec = ts.do(http.MethodDelete, "/api/urls/anything", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	rec = ts.do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
