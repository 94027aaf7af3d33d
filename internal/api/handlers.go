package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/LeventeLantos/daily-messaging/internal/cache"
	"github.com/LeventeLantos/daily-messaging/internal/model"
	"github.com/LeventeLantos/daily-messaging/internal/scheduler"
)

type SentLister interface {
	ListSent(ctx context.Context, limit, offset int) ([]model.ScheduledMessage, error)
}

type Handler struct {
	jobs   *scheduler.Group
	repo   SentLister
	cache  cache.MessageCache
	health func(ctx context.Context) error
}

type Option func(*Handler)

// WithCache enables delivery lookups.
func WithCache(c cache.MessageCache) Option {
	return func(h *Handler) { h.cache = c }
}

// WithHealthCheck makes /v1/health report the result of fn.
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(h *Handler) { h.health = fn }
}

func NewHandler(jobs *scheduler.Group, r SentLister, opts ...Option) *Handler {
	h := &Handler{jobs: jobs, repo: r}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.jobs.Statuses()})
}

func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := h.job(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job.Status())
}

func (h *Handler) JobStart(w http.ResponseWriter, r *http.Request) {
	job, ok := h.job(w, r)
	if !ok {
		return
	}
	job.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": job.IsRunning()})
}

func (h *Handler) JobStop(w http.ResponseWriter, r *http.Request) {
	job, ok := h.job(w, r)
	if !ok {
		return
	}
	job.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": job.IsRunning()})
}

// JobRun runs a pass synchronously and returns its result record.
func (h *Handler) JobRun(w http.ResponseWriter, r *http.Request) {
	job, ok := h.job(w, r)
	if !ok {
		return
	}

	// The pass should finish even if the client goes away.
	res, err := job.RunNow(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "result": res})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"result": res})
	}
}

func (h *Handler) ListSentMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.repo.ListSent(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) MessageDelivery(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "delivery cache disabled"})
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid message id"})
		return
	}

	d, err := h.cache.Lookup(r.Context(), id)
	switch {
	case errors.Is(err, cache.ErrMiss):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no cached delivery"})
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, d)
	}
}

func (h *Handler) job(w http.ResponseWriter, r *http.Request) (*scheduler.Scheduler, bool) {
	name := chi.URLParam(r, "job")
	job, ok := h.jobs.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown job " + strconv.Quote(name)})
	}
	return job, ok
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
