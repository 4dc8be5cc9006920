package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/deps"
)

type componentStatus struct {
	OK         bool   `json:"ok"`
	Count      *int   `json:"count,omitempty"`
	LastReload string `json:"last_reload,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Impact     string `json:"impact,omitempty"`
	Error      string `json:"error,omitempty"`
}

type infraResponse struct {
	State      string                     `json:"state"`
	Components map[string]componentStatus `json:"components"`
}

// Infra summarizes relays, cache, local view and signing capability
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]componentStatus{
			"relays":    relaysStatus(d.Relays.Statuses()),
			"cache":     cacheStatus(r.Context(), d),
			"bookmarks": bookmarksStatus(d),
			"signer":    signerStatus(d),
		}

		writeJSON(w, http.StatusOK, infraResponse{
			State:      overallState(components),
			Components: components,
		})
	}
}

func overallState(components map[string]componentStatus) string {
	if relays, ok := components["relays"]; ok && !relays.OK {
		return "critical" // nothing connected, nothing can be fetched or published
	}
	if c, ok := components["cache"]; ok && !c.OK {
		return "degraded"
	}
	return "ok"
}

func relaysStatus(records []domain.RelayRecord) componentStatus {
	connected := 0
	for _, rec := range records {
		if rec.IsTarget && rec.Status == domain.StatusConnected {
			connected++
		}
	}
	return componentStatus{OK: connected > 0, Count: &connected}
}

func cacheStatus(ctx context.Context, d deps.Deps) componentStatus {
	if d.CachePinger == nil {
		return componentStatus{OK: true, Mode: "memory", Impact: "cache-lost-on-restart"}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.CachePinger.Ping(ctx); err != nil {
		return componentStatus{OK: false, Mode: "redis", Impact: "cold-start-from-relays", Error: err.Error()}
	}
	return componentStatus{OK: true, Mode: "redis"}
}

func bookmarksStatus(d deps.Deps) componentStatus {
	count := d.Index.Count(d.Author)
	lastReload := d.Index.LastReload(d.Author)
	lastReloadStr := "never"
	if !lastReload.IsZero() {
		lastReloadStr = lastReload.Format(time.RFC3339)
	}
	return componentStatus{OK: !lastReload.IsZero(), Count: &count, LastReload: lastReloadStr}
}

func signerStatus(d deps.Deps) componentStatus {
	st := componentStatus{OK: true, Mode: mode(d)}
	if d.Signer == nil {
		st.Impact = "mutations-disabled"
	}
	return st
}
