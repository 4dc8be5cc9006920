package domain

import (
	"reflect"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func bookmarkRecord(id string, createdAt int64, tags ...nostr.Tag) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		Kind:      KindBookmarkList,
		CreatedAt: nostr.Timestamp(createdAt),
		Tags:      nostr.Tags(tags),
	}
}

func TestParseBookmarkRecord(t *testing.T) {
	record := bookmarkRecord("rec1", 1700000000,
		nostr.Tag{"r", "https://a.com", "A"},
		nostr.Tag{"e", "evt1", "", "Note A"},
		nostr.Tag{"r", "ftp://files.example.com"},       // wrong scheme
		nostr.Tag{"r", "not a url"},                     // malformed
		nostr.Tag{"e"},                                  // missing value
		nostr.Tag{"t", "golang"},                        // unknown kind
		nostr.Tag{"e", "evt2", "wss://relay.example.com"}, // no title
		nostr.Tag{"r", "https://www.example.com/docs/getting-started"},
	)

	entries := ParseBookmarkRecord(record)
	if len(entries) != 4 {
		t.Fatalf("ParseBookmarkRecord() returned %d entries, want 4: %+v", len(entries), entries)
	}

	tests := []struct {
		idx       int
		kind      EntryKind
		id        string
		title     string
		relayHint string
	}{
		{0, EntryWebsite, "https://a.com", "A", ""},
		{1, EntryNote, "evt1", "Note A", ""},
		{2, EntryNote, "evt2", UntitledNote, "wss://relay.example.com"},
		{3, EntryWebsite, "https://www.example.com/docs/getting-started", "example.com - Getting Started", ""},
	}

	for _, tt := range tests {
		e := entries[tt.idx]
		if e.Kind != tt.kind || e.ID != tt.id || e.Title != tt.title || e.RelayHint != tt.relayHint {
			t.Errorf("entry %d = %+v, want kind=%s id=%s title=%q hint=%q",
				tt.idx, e, tt.kind, tt.id, tt.title, tt.relayHint)
		}
		if e.CreatedAt.Unix() != 1700000000 {
			t.Errorf("entry %d CreatedAt = %v, want record created_at", tt.idx, e.CreatedAt)
		}
	}

	if entries[0].SourceRecordID != "rec1" {
		t.Errorf("website SourceRecordID = %q, want rec1", entries[0].SourceRecordID)
	}
	if entries[1].ReferencedRecordID != "evt1" {
		t.Errorf("note ReferencedRecordID = %q, want evt1", entries[1].ReferencedRecordID)
	}
}

func TestParseBookmarkRecordNil(t *testing.T) {
	if got := ParseBookmarkRecord(nil); got != nil {
		t.Errorf("ParseBookmarkRecord(nil) = %v, want nil", got)
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	original := []BookmarkEntry{
		NewWebsiteEntry("https://go.dev/doc", "Go docs"),
		NewNoteEntry("abcdef", "wss://relay.example.com", "Interesting thread"),
		NewNoteEntry("123456", "", "No hint"),
		NewWebsiteEntry("http://example.org", "Example"),
	}

	record := bookmarkRecord("rec", 42, EncodeBookmarkTags(original)...)
	parsed := ParseBookmarkRecord(record)

	strip := func(entries []BookmarkEntry) []BookmarkEntry {
		out := make([]BookmarkEntry, len(entries))
		for i, e := range entries {
			e.CreatedAt = original[0].CreatedAt
			e.SourceRecordID = ""
			out[i] = e
		}
		return out
	}

	if !reflect.DeepEqual(strip(parsed), strip(original)) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", strip(parsed), strip(original))
	}
}

func TestEncodeDeletePreservesOrder(t *testing.T) {
	record := bookmarkRecord("rec", 150,
		nostr.Tag{"r", "https://a.com", "A"},
		nostr.Tag{"e", "evt1", "", "Note A"},
	)

	entries := ParseBookmarkRecord(record)
	idx := IndexOf(entries, "https://a.com")
	if idx != 0 {
		t.Fatalf("IndexOf() = %d, want 0", idx)
	}
	remaining := append(entries[:idx:idx], entries[idx+1:]...)

	got := EncodeBookmarkTags(remaining)
	want := nostr.Tags{nostr.Tag{"e", "evt1", "", "Note A"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("EncodeBookmarkTags() = %v, want %v", got, want)
	}
}

func TestIsWebURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://a.com", true},
		{"http://a.com/path?q=1", true},
		{"wss://relay.example.com", false},
		{"https://", false},
		{"a.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsWebURL(tt.in); got != tt.want {
			t.Errorf("IsWebURL(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
