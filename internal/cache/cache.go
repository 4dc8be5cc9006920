package cache

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
)

// DefaultTTL is how long cached relay and bookmark lists stay valid.
const DefaultTTL = 24 * time.Hour

// Cache keeps the last known relay list and bookmark list of each author.
// It is never authoritative: mutations always start from a fresh network fetch.
//
// A miss is reported as (zero, false, nil); errors are reserved for backend failures.
type Cache interface {
	RelayList(ctx context.Context, author string) ([]domain.RelayListEntry, bool, error)
	SetRelayList(ctx context.Context, author string, entries []domain.RelayListEntry) error

	Bookmarks(ctx context.Context, author string) (BookmarkSnapshot, bool, error)
	SetBookmarks(ctx context.Context, author string, snap BookmarkSnapshot) error

	// Authors lists every author with at least one cached value.
	Authors(ctx context.Context) ([]string, error)

	// Flush drops everything.
	Flush(ctx context.Context) error
}

// BookmarkSnapshot is a resolved bookmark list as seen at FetchedAt.
type BookmarkSnapshot struct {
	Entries []domain.BookmarkEntry `json:"entries"`

	// RecordID and CreatedAt identify the canonical record the entries came from.
	// Both are empty when the author has no bookmark record.
	RecordID  string `json:"record_id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`

	FetchedAt time.Time `json:"fetched_at"`
}
