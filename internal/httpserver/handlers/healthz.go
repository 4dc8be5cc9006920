package handlers

import (
	"net/http"
	"time"

	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/nostrmarks/internal/keys"
)

type buildInfo struct {
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

type healthzResponse struct {
	Status string    `json:"status"`
	Uptime string    `json:"uptime"`
	Author string    `json:"author,omitempty"` // npub
	Mode   string    `json:"mode"`
	Build  buildInfo `json:"build"`
}

// Healthz reports that the process is up. Relays are not consulted, see Readyz.
func Healthz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthzResponse{
			Status: "ok",
			Uptime: d.Now().Sub(d.StartTime).Round(time.Second).String(),
			Author: keys.Npub(d.Author),
			Mode:   mode(d),
			Build: buildInfo{
				Version:   d.Version,
				Commit:    d.Commit,
				BuildDate: d.BuildDate,
				GoVersion: d.GoVersion,
			},
		})
	}
}

func mode(d deps.Deps) string {
	if d.Signer == nil {
		return "read-only"
	}
	return "read-write"
}
