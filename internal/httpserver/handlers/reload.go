package handlers

import (
	"net/http"
	"time"

	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
)

type reloadResponse struct {
	Status      string     `json:"status"` // "queued" or "pending"
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
}

// Reload queues a refresh of the bookmark list from relays. The trigger holds a
// single pending request: a second call before the refresher picks it up gets 429.
func Reload(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := reloadResponse{}
		if last := d.Index.LastReload(d.Author); !last.IsZero() {
			resp.LastRefresh = &last
		}

		select {
		case d.ReloadTrigger <- struct{}{}:
			d.Logger.Info("bookmark refresh requested", logger.String("remote_ip", r.RemoteAddr))
			resp.Status = "queued"
			writeJSON(w, http.StatusAccepted, resp)
		default:
			w.Header().Set("Retry-After", "5")
			resp.Status = "pending"
			writeJSON(w, http.StatusTooManyRequests, resp)
		}
	}
}
