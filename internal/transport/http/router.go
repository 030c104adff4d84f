package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"device-monitor/internal/metrics"
)

func NewRouter(l *slog.Logger, h *Handler, auth *AuthMiddleware) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(l))

	r.Get("/healthz", h.Healthz)
	r.Get("/metrics", metrics.HandleMetrics)
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", h.ListDevices)
			r.Post("/", h.CreateDevice)
			r.Get("/near", h.NearDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetDevice)
				r.Patch("/", h.PatchDevice)
				r.Delete("/", h.DeleteDevice)
				r.Put("/thresholds", h.PutThresholds)
				r.With(auth.Wrap).Post("/readings", h.PostReading)
			})
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.ListAlerts)
			r.Post("/refresh", h.RefreshAlerts)
			r.Post("/acknowledge-all", h.AcknowledgeAll)
			r.Delete("/acknowledged", h.ClearAcknowledged)
			r.Post("/{id}/acknowledge", h.AcknowledgeAlert)
		})

		r.Get("/preferences", h.GetPreferences)
		r.Put("/preferences", h.PutPreferences)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return r
}
