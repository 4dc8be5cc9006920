package redis

const (
	// KeyPrefixRelays is the prefix for cached relay lists
	KeyPrefixRelays = "nostrmarks:relays:"
	// KeyPrefixBookmarks is the prefix for cached bookmark snapshots
	KeyPrefixBookmarks = "nostrmarks:bookmarks:"
	// KeyAllAuthors is the key for the set of authors with cached data
	KeyAllAuthors = "nostrmarks:authors:all"
)

// RelaysKey returns the Redis key for an author's relay list
func RelaysKey(author string) string {
	return KeyPrefixRelays + author
}

// BookmarksKey returns the Redis key for an author's bookmark snapshot
func BookmarksKey(author string) string {
	return KeyPrefixBookmarks + author
}

// AllAuthorsKey returns the key for the set of cached authors
func AllAuthorsKey() string {
	return KeyAllAuthors
}
