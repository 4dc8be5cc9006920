package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/relay"
)

type connectRequest struct {
	URLs []string `json:"urls"`
}

type connectOutcome struct {
	URL   string `json:"url"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type connectResponse struct {
	Outcomes []connectOutcome `json:"outcomes"`
}

// ListRelays returns the status of every known relay
func ListRelays(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Relays.Statuses())
	}
}

// ConnectRelays adds relays to the target set and waits for each attempt to settle.
// Relays that failed keep retrying in the background.
func ConnectRelays(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req connectRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if len(req.URLs) == 0 {
			writeError(w, http.StatusBadRequest, "urls is required")
			return
		}

		outcomes, err := d.Relays.Connect(r.Context(), req.URLs)
		resp := connectResponse{Outcomes: make([]connectOutcome, len(outcomes))}
		for i, o := range outcomes {
			resp.Outcomes[i] = connectOutcome{URL: o.URL, OK: o.Err == nil}
			if o.Err != nil {
				resp.Outcomes[i].Error = o.Err.Error()
			}
		}

		status := http.StatusOK
		if errors.Is(err, relay.ErrNoRelaysReachable) {
			status = http.StatusBadGateway
			d.Logger.Warn("connect request reached no relay", logger.Error(err))
		}
		writeJSON(w, status, resp)
	}
}

// DisconnectRelay removes ?url= from the target set
func DisconnectRelay(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url := r.URL.Query().Get("url")
		if url == "" {
			writeError(w, http.StatusBadRequest, "url is required")
			return
		}

		if err := d.Relays.Disconnect(r.Context(), url); err != nil {
			if errors.Is(err, relay.ErrUnsafeURL) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			// the relay is gone either way, the close error is informational
			d.Logger.Warn("relay close failed", logger.Relay(url), logger.Error(err))
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
