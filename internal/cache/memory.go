package cache

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
)

// DefaultMemorySize bounds the number of authors kept per list type.
const DefaultMemorySize = 1024

// Memory is the in-process Cache used when no Redis address is configured.
type Memory struct {
	relays    *expirable.LRU[string, []domain.RelayListEntry]
	bookmarks *expirable.LRU[string, BookmarkSnapshot]
}

var _ Cache = (*Memory)(nil)

// NewMemory builds an LRU cache holding up to size authors per list type.
// Non-positive arguments fall back to DefaultMemorySize and DefaultTTL.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = DefaultMemorySize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		relays:    expirable.NewLRU[string, []domain.RelayListEntry](size, nil, ttl),
		bookmarks: expirable.NewLRU[string, BookmarkSnapshot](size, nil, ttl),
	}
}

func (m *Memory) RelayList(_ context.Context, author string) ([]domain.RelayListEntry, bool, error) {
	entries, ok := m.relays.Get(author)
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(entries), true, nil
}

func (m *Memory) SetRelayList(_ context.Context, author string, entries []domain.RelayListEntry) error {
	m.relays.Add(author, slices.Clone(entries))
	return nil
}

func (m *Memory) Bookmarks(_ context.Context, author string) (BookmarkSnapshot, bool, error) {
	snap, ok := m.bookmarks.Get(author)
	if !ok {
		return BookmarkSnapshot{}, false, nil
	}
	snap.Entries = slices.Clone(snap.Entries)
	return snap, true, nil
}

func (m *Memory) SetBookmarks(_ context.Context, author string, snap BookmarkSnapshot) error {
	snap.Entries = slices.Clone(snap.Entries)
	m.bookmarks.Add(author, snap)
	return nil
}

func (m *Memory) Authors(_ context.Context) ([]string, error) {
	authors := m.bookmarks.Keys()
	for _, a := range m.relays.Keys() {
		if !slices.Contains(authors, a) {
			authors = append(authors, a)
		}
	}
	return authors, nil
}

func (m *Memory) Flush(_ context.Context) error {
	m.relays.Purge()
	m.bookmarks.Purge()
	return nil
}
