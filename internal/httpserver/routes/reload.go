package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/mw"
)

func init() { Register(registerReload) }

func registerReload(r chi.Router, d deps.Deps) {
	r.Group(func(r chi.Router) {
		r.Use(guard(d)...)
		r.Use(mw.RateLimit(mw.RateLimitConfig{Burst: 3, RefillPerIPPerMin: 6, TrustProxy: d.TrustProxy}))
		r.Post("/api/reload", handlers.Reload(d))
	})
}
