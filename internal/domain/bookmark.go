package domain

import "time"

// Record kinds handled by nostrmarks.
const (
	// KindRelayList is the replaceable relay-preference record (one per author).
	KindRelayList = 10002
	// KindBookmarkList is the replaceable bookmark-list record (one per author).
	KindBookmarkList = 10003
	// KindTextNote is the kind of records referenced by note bookmarks.
	KindTextNote = 1
)

// EntryKind discriminates the BookmarkEntry variants.
type EntryKind string

const (
	EntryWebsite EntryKind = "website"
	EntryNote    EntryKind = "note"
)

// UntitledNote is the title given to note bookmarks that carry none.
const UntitledNote = "Untitled"

// BookmarkEntry is one item of a user's bookmark list.
// It is a tagged union: Kind selects which of the variant fields are meaningful.
type BookmarkEntry struct {
	// ─────────────────────────────
	// Identity (stable across republish)
	// ─────────────────────────────

	// ID is the URL for websites and the referenced record id for notes.
	// It survives every rebuild of the container record, so delete-by-id stays well defined.
	ID string `json:"id"`

	// Kind is "website" or "note".
	Kind EntryKind `json:"kind"`

	// Title is either the explicit title from the tag or a derived one.
	Title string `json:"title"`

	// ─────────────────────────────
	// website variant
	// ─────────────────────────────

	// URL is the bookmarked http(s) address.
	URL string `json:"url,omitempty"`

	// SourceRecordID is the id of the bookmark-list record the entry was parsed from.
	SourceRecordID string `json:"source_record_id,omitempty"`

	// ─────────────────────────────
	// note variant
	// ─────────────────────────────

	// ReferencedRecordID is the id of the bookmarked note.
	ReferencedRecordID string `json:"referenced_record_id,omitempty"`

	// RelayHint is an optional relay where the note can be found.
	RelayHint string `json:"relay_hint,omitempty"`

	// Content is the note body, filled in by enrichment when available.
	Content string `json:"content,omitempty"`

	// ─────────────────────────────
	// Metadata
	// ─────────────────────────────

	// CreatedAt is the created_at of the list record the entry came from.
	CreatedAt time.Time `json:"created_at"`
}

// IsNote reports whether the entry is the note variant.
func (e BookmarkEntry) IsNote() bool { return e.Kind == EntryNote }

// NewWebsiteEntry builds a website bookmark; an empty title is derived from the URL.
func NewWebsiteEntry(rawURL, title string) BookmarkEntry {
	if title == "" {
		title = DeriveTitle(rawURL)
	}
	return BookmarkEntry{
		ID:    rawURL,
		Kind:  EntryWebsite,
		Title: title,
		URL:   rawURL,
	}
}

// NewNoteEntry builds a note bookmark.
func NewNoteEntry(recordID, relayHint, title string) BookmarkEntry {
	if title == "" {
		title = UntitledNote
	}
	return BookmarkEntry{
		ID:                 recordID,
		Kind:               EntryNote,
		Title:              title,
		ReferencedRecordID: recordID,
		RelayHint:          relayHint,
	}
}

// IndexOf returns the position of the entry with the given id, or -1.
func IndexOf(entries []BookmarkEntry, id string) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}
