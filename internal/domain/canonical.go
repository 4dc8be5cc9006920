package domain

import "github.com/nbd-wtf/go-nostr"

// SelectCanonical picks the current copy of a replaceable record out of the copies
// returned by different relays: highest created_at wins, equal timestamps go to the
// lexicographically smallest id so every client resolves the same winner.
func SelectCanonical(records []nostr.Event) (*nostr.Event, bool) {
	if len(records) == 0 {
		return nil, false
	}

	best := 0
	for i := 1; i < len(records); i++ {
		if newer(records[i], records[best]) {
			best = i
		}
	}

	winner := records[best]
	return &winner, true
}

// LatestTimestamp returns the highest created_at among records (0 when empty).
func LatestTimestamp(records []nostr.Event) nostr.Timestamp {
	var latest nostr.Timestamp
	for _, r := range records {
		if r.CreatedAt > latest {
			latest = r.CreatedAt
		}
	}
	return latest
}

// HasOlderNonEmpty reports whether some record other than canonical, with an older
// timestamp, still carries bookmark entries.
func HasOlderNonEmpty(records []nostr.Event, canonical *nostr.Event) bool {
	if canonical == nil {
		return false
	}
	for i := range records {
		r := &records[i]
		if r.ID == canonical.ID || r.CreatedAt >= canonical.CreatedAt {
			continue
		}
		if CountEntries(r) > 0 {
			return true
		}
	}
	return false
}

func newer(a, b nostr.Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID < b.ID
}
