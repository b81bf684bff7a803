package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all operational routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/healthz", h.HandleHealth)
	r.Get("/ws", h.hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Post("/tenants/{tenantID}/channels/{channelType}/messages", h.HandleIngest)
		r.Post("/tenants/{tenantID}/config/invalidate", h.HandleInvalidateConfig)
	})
}
