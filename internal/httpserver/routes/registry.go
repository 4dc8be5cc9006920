package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/mw"
)

// APITimeout bounds API requests that wait on relays (fetch, publish, connect).
const APITimeout = 30 * time.Second

// Registrar mounts one group of routes.
type Registrar func(r chi.Router, d deps.Deps)

var registrars []Registrar

// Register is called from each route file's init().
func Register(reg Registrar) {
	registrars = append(registrars, reg)
}

// RegisterAll mounts every registered group. Called once by httpserver.NewRouter.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, reg := range registrars {
		reg(r, d)
	}
}

// guard is the access control shared by every /api route: client CIDR, then Host header.
func guard(d deps.Deps) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger),
		mw.EnforceHost(d.AllowedHosts, d.Logger),
	}
}
