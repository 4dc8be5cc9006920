package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
)

const keepAliveInterval = 25 * time.Second

// RelayEvents streams relay status snapshots as server-sent events.
// The first event is the current snapshot; a slow client only ever gets the latest one.
func RelayEvents(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		// the server write timeout would cut the stream
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		updates := make(chan []domain.RelayRecord, 1)
		unsubscribe := d.Relays.Subscribe(func(snapshot []domain.RelayRecord) {
			for {
				select {
				case updates <- snapshot:
					return
				default:
				}
				// drop the stale snapshot, keep the newest
				select {
				case <-updates:
				default:
				}
			}
		})
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case snapshot := <-updates:
				data, err := json.Marshal(snapshot)
				if err != nil {
					d.Logger.Error("failed to encode relay snapshot", logger.Error(err))
					return
				}
				if _, err := fmt.Fprintf(w, "event: relays\ndata: %s\n\n", data); err != nil {
					return
				}
				flusher.Flush()
			case <-keepAlive.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			case <-d.StreamsDone:
				return
			}
		}
	}
}
