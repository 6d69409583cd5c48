package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/listening-parties/internal/metrics"
)

// NewRouter builds the HTTP surface. limiter and m may be nil.
func NewRouter(log *slog.Logger, h *PartyHandler, m *metrics.Metrics, limiter *RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger(log))
	r.Use(CORS)

	r.Get("/health", HealthCheck)
	r.Get("/help", Help)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Route("/guilds/{guildID}/channels/{channelID}/parties", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Post("/", h.Schedule)
		r.Get("/", h.Upcoming)
		r.Get("/upcoming.ics", h.UpcomingCalendar)
		r.Put("/{id}", h.Update)
		r.Post("/{id}/join", h.Join)
		r.Post("/{id}/cancel", h.Cancel)
	})

	return r
}
