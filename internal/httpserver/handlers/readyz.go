package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready     bool     `json:"ready"`
	Connected []string `json:"connected"`
}

// Readyz answers 200 once at least one of the user's relays is connected, 503 before.
// Transient handles (bootstrap lookups) do not count.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connected := d.Relays.Connected()
		if connected == nil {
			connected = []string{}
		}
		status := http.StatusOK
		if len(connected) == 0 {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, readyzResponse{Ready: len(connected) > 0, Connected: connected})
	}
}
