package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Router(h *Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/v1/health", h.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/", h.ListJobs)
		r.Get("/{job}", h.JobStatus)
		r.Post("/{job}/start", h.JobStart)
		r.Post("/{job}/stop", h.JobStop)
		r.Post("/{job}/run", h.JobRun)
	})

	r.Get("/v1/messages/sent", h.ListSentMessages)
	r.Get("/v1/messages/{id}/delivery", h.MessageDelivery)

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("daily-messaging"))
	})

	return r
}
