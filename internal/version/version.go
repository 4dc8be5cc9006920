package version

import (
	"fmt"
	"runtime"
	"time"
)

// Set at build time with -ldflags "-X github.com/MrSnakeDoc/nostrmarks/internal/version.Version=v0.3.0 ...".
var (
	Version   = "dev"                           // ex: v0.3.0
	Commit    = "none"                          // ex: abcd123
	BuildDate = time.Now().Format(time.RFC3339) // ex: 2026-01-11T18:42:00Z
	GoVersion = runtime.Version()
)

// String is the one-line build description printed by --version and at startup.
func String() string {
	return fmt.Sprintf("nostrmarks %s (commit %s, built %s, %s)", Version, Commit, BuildDate, GoVersion)
}

// UserAgent identifies nostrmarks to relays during the websocket handshake.
func UserAgent() string {
	return "nostrmarks/" + Version
}
