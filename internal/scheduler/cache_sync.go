package scheduler

import (
	"context"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/index"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
)

// CachedSource returns an author's last cached list. *bookmarks.Synchronizer implements it.
type CachedSource interface {
	CachedBookmarks(ctx context.Context, author string) ([]domain.BookmarkEntry, bool, error)
}

// CacheSyncer seeds the local view from the cache on startup, before relays answer
type CacheSyncer struct {
	source CachedSource
	index  *index.MemoryIndex
	logger logger.Logger
}

// NewCacheSyncer creates a new cache syncer
func NewCacheSyncer(source CachedSource, idx *index.MemoryIndex, log logger.Logger) *CacheSyncer {
	return &CacheSyncer{
		source: source,
		index:  idx,
		logger: log,
	}
}

// Sync copies the cached list of author into the index.
// It reports whether anything was found.
func (cs *CacheSyncer) Sync(ctx context.Context, author string) (bool, error) {
	entries, ok, err := cs.source.CachedBookmarks(ctx, author)
	if err != nil {
		return false, err
	}
	if !ok {
		cs.logger.Info("no cached bookmarks")
		return false, nil
	}

	cs.index.Update(author, entries)
	cs.logger.Info("seeded bookmarks from cache", logger.Int("count", len(entries)))
	return true, nil
}
