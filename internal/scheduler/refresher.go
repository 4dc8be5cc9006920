package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/index"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
)

// Fetcher fetches an author's bookmark list from the network. *bookmarks.Synchronizer implements it.
type Fetcher interface {
	FetchBookmarks(ctx context.Context, author string) ([]domain.BookmarkEntry, error)
}

// BookmarkRefresher keeps the local view of the user's bookmarks in line with the network
type BookmarkRefresher struct {
	fetcher Fetcher
	index   *index.MemoryIndex
	author  string
	logger  logger.Logger
	job     *job
}

// NewBookmarkRefresher creates a new refresher. Sends on manualTrigger force a refresh.
func NewBookmarkRefresher(
	fetcher Fetcher,
	idx *index.MemoryIndex,
	author string,
	log logger.Logger,
	interval time.Duration,
	manualTrigger <-chan struct{},
	clk clock.Clock,
) *BookmarkRefresher {
	return &BookmarkRefresher{
		fetcher: fetcher,
		index:   idx,
		author:  author,
		logger:  log,
		job:     newJob(clk, interval, manualTrigger),
	}
}

// Start refreshes once, then periodically. A failed first refresh is only logged.
func (br *BookmarkRefresher) Start(ctx context.Context) {
	if err := br.Refresh(ctx); err != nil {
		br.logger.Warn("initial bookmark refresh failed", logger.Error(err))
	}

	br.job.start(ctx, func(ctx context.Context) {
		if err := br.Refresh(ctx); err != nil {
			br.logger.Error("failed to refresh bookmarks", logger.Error(err))
		}
	})
}

// Stop stops the refresher
func (br *BookmarkRefresher) Stop() {
	br.job.stop()
}

// Refresh fetches the author's list and replaces the local view
func (br *BookmarkRefresher) Refresh(ctx context.Context) error {
	entries, err := br.fetcher.FetchBookmarks(ctx, br.author)
	if err != nil {
		return fmt.Errorf("fetch bookmarks: %w", err)
	}

	br.index.Update(br.author, entries)
	br.logger.Debug("bookmarks refreshed", logger.Int("count", len(entries)))
	return nil
}
