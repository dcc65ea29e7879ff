package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/article-capture/internal/delivery/http/request"
	"github.com/user/article-capture/internal/delivery/http/response"
	"github.com/user/article-capture/internal/repository"
	"github.com/user/article-capture/internal/usecase"
)

const healthTimeout = 2 * time.Second

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Handler struct {
	urlManager usecase.URLManager
	capturer   usecase.Capturer
	checks     map[string]Pinger
	trigger    func()
	logger     *zap.Logger
}

// Option customises a Handler.
type Option func(*Handler)

// WithHealthCheck adds a named dependency to GET /api/health.
func WithHealthCheck(name string, p Pinger) Option {
	return func(h *Handler) { h.checks[name] = p }
}

// WithTrigger enables POST /api/process, which calls fn.
func WithTrigger(fn func()) Option {
	return func(h *Handler) { h.trigger = fn }
}

func NewHandler(urlManager usecase.URLManager, capturer usecase.Capturer, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		urlManager: urlManager,
		capturer:   capturer,
		checks:     make(map[string]Pinger),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) HandleSubmitURL(w http.ResponseWriter, r *http.Request) {
	var req request.SubmitURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		h.writeJSONError(w, "url is required", http.StatusBadRequest)
		return
	}

	slug, err := h.urlManager.Submit(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidURL) {
			h.writeJSONError(w, "URL is not an article URL", http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to submit url", zap.String("url", req.URL), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, response.SubmitURLResponse{
		Status:  "queued",
		Message: "URL queued for capture",
		Slug:    slug,
	})
}

func (h *Handler) HandleGetURLStatus(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	status, err := h.urlManager.Status(r.Context(), slug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.writeJSONError(w, "URL not tracked", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get url status", zap.String("slug", slug), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.capturer.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to load stats", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleRunImages(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	slug := r.URL.Query().Get("slug")

	images, err := h.capturer.RunImages(r.Context(), runID, slug)
	if err != nil {
		h.logger.Error("failed to list run images", zap.String("run_id", runID), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.RunImagesResponse{
		RunID:  runID,
		Slug:   slug,
		Count:  len(images),
		Images: images,
	})
}

func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		h.writeJSONError(w, "No worker running", http.StatusServiceUnavailable)
		return
	}
	h.trigger()
	h.writeJSON(w, http.StatusAccepted, response.ProcessResponse{
		Status:  "triggered",
		Message: "Batch scheduled",
	})
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := response.HealthResponse{Status: "ok", Dependencies: make(map[string]string, len(h.checks))}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Error("health check failed", zap.String("dependency", name), zap.Error(err))
			resp.Dependencies[name] = "unhealthy"
			resp.Status = "degraded"
			continue
		}
		resp.Dependencies[name] = "healthy"
	}

	if resp.Status != "ok" {
		h.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, response.ErrorResponse{Error: message})
}
