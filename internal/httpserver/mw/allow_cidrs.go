package mw

import (
	"net/http"

	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
)

// AllowOnlyCIDRS lets through requests coming from one of the allowed IPs or CIDRs.
// An empty list disables the check. trustProxy reads the client address from
// forwarding headers, only enable it behind a reverse proxy or tunnel you control.
func AllowOnlyCIDRS(allowed []string, trustProxy bool, log logger.Logger) func(http.Handler) http.Handler {
	set, invalid := parsePrefixes(allowed)
	if len(invalid) > 0 {
		log.Warn("ignoring invalid allowed CIDRs", logger.Strings("entries", invalid))
	}
	if len(set) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, ok := clientIP(r, trustProxy)
			if !ok || !set.contains(ip) {
				log.Debug("request rejected by CIDR filter",
					logger.String("remote_addr", r.RemoteAddr),
					logger.String("path", r.URL.Path))
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
