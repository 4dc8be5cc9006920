package domain

import (
	"net/url"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

const (
	tagWebsite = "r"
	tagNote    = "e"
)

// ParseBookmarkRecord turns a bookmark-list record into entries.
//
// Unknown tag kinds and malformed tags are skipped; a bad tag never fails the whole record.
func ParseBookmarkRecord(record *nostr.Event) []BookmarkEntry {
	if record == nil {
		return nil
	}

	createdAt := record.CreatedAt.Time()
	entries := make([]BookmarkEntry, 0, len(record.Tags))

	for _, tag := range record.Tags {
		if len(tag) < 2 {
			continue
		}

		switch tag[0] {
		case tagWebsite:
			raw := strings.TrimSpace(tag[1])
			if !IsWebURL(raw) {
				continue
			}
			entry := NewWebsiteEntry(raw, extra(tag, 0))
			entry.SourceRecordID = record.ID
			entry.CreatedAt = createdAt
			entries = append(entries, entry)

		case tagNote:
			id := strings.TrimSpace(tag[1])
			if id == "" {
				continue
			}
			entry := NewNoteEntry(id, extra(tag, 0), extra(tag, 1))
			entry.CreatedAt = createdAt
			entries = append(entries, entry)
		}
	}

	return entries
}

// EncodeBookmarkTags is the inverse of ParseBookmarkRecord. Entry order is preserved.
func EncodeBookmarkTags(entries []BookmarkEntry) nostr.Tags {
	tags := make(nostr.Tags, 0, len(entries))
	for _, e := range entries {
		switch e.Kind {
		case EntryWebsite:
			tags = append(tags, nostr.Tag{tagWebsite, e.URL, e.Title})
		case EntryNote:
			// the hint slot stays present (possibly empty) so the title keeps its position
			tags = append(tags, nostr.Tag{tagNote, e.ReferencedRecordID, e.RelayHint, e.Title})
		}
	}
	return tags
}

// CountEntries returns how many bookmark entries a record holds without building them.
func CountEntries(record *nostr.Event) int {
	if record == nil {
		return 0
	}
	return len(ParseBookmarkRecord(record))
}

// IsWebURL reports whether raw is an absolute http(s) URL with a host.
func IsWebURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// extra returns tag[2+i] trimmed, or "" when absent.
func extra(tag nostr.Tag, i int) string {
	if len(tag) <= 2+i {
		return ""
	}
	return strings.TrimSpace(tag[2+i])
}

// Timestamp converts a record time to the protocol timestamp.
func Timestamp(t time.Time) nostr.Timestamp {
	return nostr.Timestamp(t.Unix())
}
