package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/index"
	"github.com/MrSnakeDoc/nostrmarks/internal/keys"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/metrics"
	"github.com/MrSnakeDoc/nostrmarks/internal/relay"
)

// Relays is the part of the connection manager the API drives. *relay.Manager implements it.
type Relays interface {
	Statuses() []domain.RelayRecord
	Connected() []string
	Connect(ctx context.Context, urls []string) ([]relay.ConnectOutcome, error)
	Disconnect(ctx context.Context, url string) error
	Subscribe(fn relay.Listener) func()
}

// Bookmarks is the synchronizer surface the API drives. *bookmarks.Synchronizer implements it.
type Bookmarks interface {
	FetchBookmarks(ctx context.Context, author string) ([]domain.BookmarkEntry, error)
	DeleteBookmark(ctx context.Context, id, author string, signer keys.Signer) error
	AddBookmark(ctx context.Context, entry domain.BookmarkEntry, author string, signer keys.Signer) error
	ImportBookmarks(ctx context.Context, entries []domain.BookmarkEntry, author string, signer keys.Signer) (int, error)
}

// Pinger reports whether the cache backend answers. Nil means in-process cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Logger        logger.Logger
	StartTime     time.Time
	Version       string
	Commit        string
	BuildDate     string
	GoVersion     string
	TimeNow       func() time.Time   // for testing, defaults to time.Now
	AllowedHosts  []string           // Host headers allowed to access the server
	AllowedCIDRS  []string           // IPs allowed to access the API
	TrustProxy    bool               // true if running behind a trusted reverse proxy (e.g., cloudflared)
	Author        string             // hex public key whose bookmarks are served
	Signer        keys.Signer        // nil in read-only mode
	Relays        Relays             // connection manager
	Bookmarks     Bookmarks          // bookmark synchronizer
	Index         *index.MemoryIndex // local bookmark view
	Metrics       *metrics.Metrics   // Prometheus collectors
	CachePinger   Pinger             // Redis store, nil when the cache is in-process
	ReloadTrigger chan struct{}      // Channel to trigger a manual bookmark refresh
	MaxImportSize int64              // upper bound on an uploaded bookmarks.yaml
	StreamsDone   <-chan struct{}    // closed when the server shuts down, ends event streams
}

// Now returns the current time through TimeNow when set.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
