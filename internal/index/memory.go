package index

import (
	"slices"
	"sync"
	"time"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
)

// MemoryIndex is the local view of each author's bookmarks served to the UI.
// Handlers change it optimistically before a mutation is published and call the
// returned revert func when the mutation fails.
type MemoryIndex struct {
	mu    sync.RWMutex
	views map[string]*view // author -> view
}

type view struct {
	entries    []domain.BookmarkEntry
	lastReload time.Time // last time the view was replaced by a network fetch
}

// NewMemoryIndex creates a new memory index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		views: make(map[string]*view),
	}
}

// Update replaces an author's view with a freshly fetched list
func (idx *MemoryIndex) Update(author string, entries []domain.BookmarkEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.views[author] = &view{
		entries:    slices.Clone(entries),
		lastReload: time.Now(),
	}
}

// Bookmarks returns a copy of the author's view; ok is false when the author was never loaded
func (idx *MemoryIndex) Bookmarks(author string) ([]domain.BookmarkEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	v, ok := idx.views[author]
	if !ok {
		return nil, false
	}
	return slices.Clone(v.entries), true
}

// Get retrieves one entry by id
func (idx *MemoryIndex) Get(author, id string) (domain.BookmarkEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	v, ok := idx.views[author]
	if !ok {
		return domain.BookmarkEntry{}, false
	}
	i := domain.IndexOf(v.entries, id)
	if i < 0 {
		return domain.BookmarkEntry{}, false
	}
	return v.entries[i], true
}

// Count returns the number of entries in the author's view
func (idx *MemoryIndex) Count(author string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if v, ok := idx.views[author]; ok {
		return len(v.entries)
	}
	return 0
}

// Authors lists the authors with a loaded view
func (idx *MemoryIndex) Authors() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	authors := make([]string, 0, len(idx.views))
	for a := range idx.views {
		authors = append(authors, a)
	}
	slices.Sort(authors)
	return authors
}

// LastReload returns when the author's view was last replaced by a fetch
func (idx *MemoryIndex) LastReload(author string) time.Time {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if v, ok := idx.views[author]; ok {
		return v.lastReload
	}
	return time.Time{}
}

// ─────────────────────────────────────────────────────────────────
// Optimistic changes
// ─────────────────────────────────────────────────────────────────

// Remove drops an entry right away. The revert func puts it back at its old
// position unless an entry with that id reappeared in the meantime.
func (idx *MemoryIndex) Remove(author, id string) (revert func(), ok bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	v, exists := idx.views[author]
	if !exists {
		return func() {}, false
	}
	i := domain.IndexOf(v.entries, id)
	if i < 0 {
		return func() {}, false
	}
	removed := v.entries[i]
	v.entries = slices.Delete(v.entries, i, i+1)

	return func() {
		idx.mu.Lock()
		defer idx.mu.Unlock()

		v, exists := idx.views[author]
		if !exists || domain.IndexOf(v.entries, id) >= 0 {
			return
		}
		v.entries = slices.Insert(v.entries, min(i, len(v.entries)), removed)
	}, true
}

// Upsert replaces the entry with the same id in place, or puts a new one first
// (the view is newest first). The revert func restores what was there before.
func (idx *MemoryIndex) Upsert(author string, entry domain.BookmarkEntry) (revert func()) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	v, exists := idx.views[author]
	if !exists {
		v = &view{}
		idx.views[author] = v
	}

	if i := domain.IndexOf(v.entries, entry.ID); i >= 0 {
		previous := v.entries[i]
		v.entries[i] = entry
		return func() {
			idx.mu.Lock()
			defer idx.mu.Unlock()
			if j := domain.IndexOf(v.entries, entry.ID); j >= 0 {
				v.entries[j] = previous
			}
		}
	}

	v.entries = slices.Insert(v.entries, 0, entry)
	return func() {
		idx.mu.Lock()
		defer idx.mu.Unlock()
		if j := domain.IndexOf(v.entries, entry.ID); j >= 0 {
			v.entries = slices.Delete(v.entries, j, j+1)
		}
	}
}
