package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/mw"
)

func init() { Register(registerBookmarks) }

func registerBookmarks(r chi.Router, d deps.Deps) {
	r.Route("/api/bookmarks", func(r chi.Router) {
		r.Use(guard(d)...)
		r.Use(middleware.Timeout(APITimeout))
		r.Get("/", handlers.ListBookmarks(d))

		// every mutation signs and publishes a new list
		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimit(mw.RateLimitConfig{
				Burst:             10,
				RefillPerIPPerMin: 30,
				MaxEntries:        1024,
				TrustProxy:        d.TrustProxy,
			}))
			r.Post("/", handlers.AddBookmark(d))
			r.Post("/import", handlers.ImportBookmarks(d))
			r.Delete("/{id}", handlers.DeleteBookmark(d))
		})
	})
}
