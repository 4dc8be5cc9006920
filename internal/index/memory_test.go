package index

import (
	"sync"
	"testing"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
)

const author = "alice"

func ids(entries []domain.BookmarkEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func seeded() *MemoryIndex {
	idx := NewMemoryIndex()
	idx.Update(author, []domain.BookmarkEntry{
		domain.NewWebsiteEntry("https://a.com", "A"),
		domain.NewWebsiteEntry("https://b.com", "B"),
		domain.NewWebsiteEntry("https://c.com", "C"),
	})
	return idx
}

func TestNewMemoryIndex(t *testing.T) {
	idx := NewMemoryIndex()
	if _, ok := idx.Bookmarks(author); ok {
		t.Error("NewMemoryIndex() should start without views")
	}
	if !idx.LastReload(author).IsZero() {
		t.Error("LastReload() should be zero for an unknown author")
	}
}

func TestUpdateReplacesView(t *testing.T) {
	idx := seeded()
	idx.Update(author, []domain.BookmarkEntry{domain.NewWebsiteEntry("https://z.com", "")})

	got, ok := idx.Bookmarks(author)
	if !ok || !equal(ids(got), []string{"https://z.com"}) {
		t.Errorf("Bookmarks() = %v, want [https://z.com]", ids(got))
	}
	if idx.LastReload(author).IsZero() {
		t.Error("Update() should set LastReload")
	}
	if want := []string{author}; !equal(idx.Authors(), want) {
		t.Errorf("Authors() = %v, want %v", idx.Authors(), want)
	}
}

func TestBookmarksReturnsCopy(t *testing.T) {
	idx := seeded()
	got, _ := idx.Bookmarks(author)
	got[0].Title = "changed"

	if e, _ := idx.Get(author, "https://a.com"); e.Title != "A" {
		t.Errorf("Get() title = %q, the view must not alias returned slices", e.Title)
	}
}

func TestRemoveAndRevert(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		wantOK    bool
		afterRm   []string
		afterBack []string
	}{
		{"middle", "https://b.com", true, []string{"https://a.com", "https://c.com"}, []string{"https://a.com", "https://b.com", "https://c.com"}},
		{"last", "https://c.com", true, []string{"https://a.com", "https://b.com"}, []string{"https://a.com", "https://b.com", "https://c.com"}},
		{"missing", "https://x.com", false, []string{"https://a.com", "https://b.com", "https://c.com"}, []string{"https://a.com", "https://b.com", "https://c.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := seeded()
			revert, ok := idx.Remove(author, tt.id)
			if ok != tt.wantOK {
				t.Fatalf("Remove() ok = %v, want %v", ok, tt.wantOK)
			}
			got, _ := idx.Bookmarks(author)
			if !equal(ids(got), tt.afterRm) {
				t.Errorf("after Remove() = %v, want %v", ids(got), tt.afterRm)
			}

			revert()
			revert()
			got, _ = idx.Bookmarks(author)
			if !equal(ids(got), tt.afterBack) {
				t.Errorf("after revert = %v, want %v", ids(got), tt.afterBack)
			}
		})
	}
}

func TestRevertAfterRefresh(t *testing.T) {
	idx := seeded()
	revert, _ := idx.Remove(author, "https://a.com")

	// a fetch replaced the view before the failure came back
	idx.Update(author, []domain.BookmarkEntry{domain.NewWebsiteEntry("https://a.com", "A")})
	revert()

	if got := idx.Count(author); got != 1 {
		t.Errorf("Count() = %d, want 1: revert must not duplicate an entry that reappeared", got)
	}
}

func TestUpsertAndRevert(t *testing.T) {
	idx := seeded()

	revert := idx.Upsert(author, domain.NewWebsiteEntry("https://b.com", "Renamed"))
	if e, _ := idx.Get(author, "https://b.com"); e.Title != "Renamed" {
		t.Errorf("Upsert() title = %q, want Renamed", e.Title)
	}
	revert()
	if e, _ := idx.Get(author, "https://b.com"); e.Title != "B" {
		t.Errorf("revert title = %q, want B", e.Title)
	}

	revert = idx.Upsert(author, domain.NewWebsiteEntry("https://new.com", "New"))
	got, _ := idx.Bookmarks(author)
	if got[0].ID != "https://new.com" {
		t.Errorf("Upsert() of a new entry should put it first, got %v", ids(got))
	}
	revert()
	if idx.Count(author) != 3 {
		t.Errorf("Count() after revert = %d, want 3", idx.Count(author))
	}
}

func TestConcurrentAccess(t *testing.T) {
	idx := seeded()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			revert, _ := idx.Remove(author, "https://a.com")
			revert()
		}()
		go func() {
			defer wg.Done()
			_, _ = idx.Bookmarks(author)
			_ = idx.Count(author)
		}()
	}
	wg.Wait()

	if idx.Count(author) != 3 {
		t.Errorf("Count() = %d, want 3", idx.Count(author))
	}
}
