package bookmarks

import "errors"

var (
	// ErrBookmarkNotFound means the id is not in the freshly fetched list. Nothing was published.
	ErrBookmarkNotFound = errors.New("bookmark not found")

	// ErrPublishFailed means no relay accepted the new bookmark list.
	ErrPublishFailed = errors.New("publish failed: no relay accepted the bookmark list")

	// ErrListUnavailable means no relay finished answering the fetch that starts a
	// mutation. Publishing from an unknown list would replace the real one, so nothing was published.
	ErrListUnavailable = errors.New("bookmark list unavailable: no relay answered in time")

	// ErrInvalidEntry rejects entries that would not survive a parse round trip.
	ErrInvalidEntry = errors.New("invalid bookmark entry")

	// ErrNothingToImport means every imported entry was already on the list. Nothing was published.
	ErrNothingToImport = errors.New("nothing to import")

	// ErrAuthorMismatch is returned when the signer does not own the list being changed.
	ErrAuthorMismatch = errors.New("signer is not the list author")
)
