package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/handlers"
)

func init() { Register(registerRelays) }

func registerRelays(r chi.Router, d deps.Deps) {
	r.Route("/api/relays", func(r chi.Router) {
		r.Use(guard(d)...)

		// long-lived, no request timeout
		r.Get("/events", handlers.RelayEvents(d))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(APITimeout))
			r.Get("/", handlers.ListRelays(d))
			r.Post("/", handlers.ConnectRelays(d))
			r.Delete("/", handlers.DisconnectRelay(d))
		})
	})
}
