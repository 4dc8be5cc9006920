package domain

import (
	"net/url"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// RelayStatus is the connection state of one relay.
type RelayStatus string

const (
	StatusDisconnected  RelayStatus = "disconnected"
	StatusConnecting    RelayStatus = "connecting"
	StatusConnected     RelayStatus = "connected"
	StatusDisconnecting RelayStatus = "disconnecting"
	StatusError         RelayStatus = "error"
)

// RelayRecord is the connection manager's view of one relay.
type RelayRecord struct {
	// URL is the normalized relay address (ws:// or wss://).
	URL string `json:"url"`

	// Status only changes through the connection manager.
	Status RelayStatus `json:"status"`

	// LastError is the reason of the most recent failure, empty otherwise.
	LastError string `json:"last_error,omitempty"`

	// IsTarget is true when the user wants this relay connected.
	// A false value with a live connection means a transient handle
	// (e.g. a bootstrap relay opened for a one-off query).
	IsTarget bool `json:"is_target"`

	// Attempts counts consecutive failed connection attempts.
	Attempts int `json:"attempts"`

	// ConnectedAt is zero unless Status is connected.
	ConnectedAt time.Time `json:"connected_at,omitempty"`

	// NextRetryAt is set while a reconnect is scheduled.
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`
}

// RelayListEntry is one relay of a user's relay-preference record.
type RelayListEntry struct {
	URL   string `json:"url"`
	Read  bool   `json:"read"`
	Write bool   `json:"write"`
}

// ParseRelayList extracts relay entries from a relay-preference record.
// Entries with a malformed URL or a non-websocket scheme are dropped, as are duplicates.
func ParseRelayList(record *nostr.Event) []RelayListEntry {
	if record == nil {
		return nil
	}

	seen := make(map[string]int)
	entries := make([]RelayListEntry, 0, len(record.Tags))

	for _, tag := range record.Tags {
		if len(tag) < 2 || tag[0] != "r" {
			continue
		}

		normalized, ok := NormalizeRelayURL(tag[1])
		if !ok {
			continue
		}

		entry := RelayListEntry{URL: normalized}
		switch extra(tag, 0) {
		case "read":
			entry.Read = true
		case "write":
			entry.Write = true
		default: // No marker = both read and write
			entry.Read = true
			entry.Write = true
		}

		if i, dup := seen[normalized]; dup {
			entries[i].Read = entries[i].Read || entry.Read
			entries[i].Write = entries[i].Write || entry.Write
			continue
		}
		seen[normalized] = len(entries)
		entries = append(entries, entry)
	}

	return entries
}

// RelayURLs returns the URL of every entry, whatever its markers. Write-only
// relays are still where the user's records must be published.
func RelayURLs(entries []RelayListEntry) []string {
	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		urls = append(urls, e.URL)
	}
	return urls
}

// NormalizeRelayURL validates a relay address and returns its canonical form.
// Only explicit ws:// and wss:// addresses are accepted.
func NormalizeRelayURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return "", false
	}

	normalized := nostr.NormalizeURL(raw)
	if normalized == "" {
		return "", false
	}
	return normalized, true
}

// NormalizeRelayURLs normalizes a list, dropping invalid entries and duplicates while keeping order.
func NormalizeRelayURLs(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		n, ok := NormalizeRelayURL(r)
		if !ok || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
