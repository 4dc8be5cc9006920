package scheduler

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
)

// Authors lists the authors with a cache entry. cache.Cache implements it.
type Authors interface {
	Authors(ctx context.Context) ([]string, error)
}

// CacheWarmer refetches every author the cache knows about, so entries are
// renewed before their TTL runs out.
type CacheWarmer struct {
	authors Authors
	fetcher Fetcher
	logger  logger.Logger
	job     *job
}

// NewCacheWarmer creates a new cache warmer
func NewCacheWarmer(authors Authors, fetcher Fetcher, log logger.Logger, interval time.Duration, clk clock.Clock) *CacheWarmer {
	return &CacheWarmer{
		authors: authors,
		fetcher: fetcher,
		logger:  log,
		job:     newJob(clk, interval, nil),
	}
}

// Start begins periodic warming
func (cw *CacheWarmer) Start(ctx context.Context) {
	cw.job.start(ctx, func(ctx context.Context) { cw.Warm(ctx) })
}

// Stop stops the warmer
func (cw *CacheWarmer) Stop() {
	cw.job.stop()
}

// Warm refetches each cached author in turn and returns how many succeeded
func (cw *CacheWarmer) Warm(ctx context.Context) int {
	authors, err := cw.authors.Authors(ctx)
	if err != nil {
		cw.logger.Warn("failed to list cached authors", logger.Error(err))
		return 0
	}

	warmed := 0
	for _, author := range authors {
		if ctx.Err() != nil {
			break
		}
		if _, err := cw.fetcher.FetchBookmarks(ctx, author); err != nil {
			cw.logger.Warn("cache warm-up failed",
				logger.String("author", author),
				logger.Error(err))
			continue
		}
		warmed++
	}

	if warmed > 0 {
		cw.logger.Info("cache warm-up completed",
			logger.Int("authors", len(authors)),
			logger.Int("warmed", warmed))
	} else {
		cw.logger.Debug("nothing to warm")
	}
	return warmed
}
