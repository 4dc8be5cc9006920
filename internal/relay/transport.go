package relay

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// Transport opens duplex connections to relays.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is one live connection to a relay.
type Conn interface {
	URL() string

	// Subscribe sends a REQ under the given subscription id.
	Subscribe(ctx context.Context, id string, filters nostr.Filters) (Stream, error)

	// Publish sends an EVENT and waits for the relay's OK.
	// A negative OK is reported as an error wrapping ErrRejected.
	Publish(ctx context.Context, evt nostr.Event) error

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// Done is closed once the connection is gone, whoever closed it.
	Done() <-chan struct{}
}

// Stream is the receiving side of one REQ.
type Stream interface {
	ID() string

	// Events delivers matching records until the stream ends.
	Events() <-chan nostr.Event

	// EOSE is closed when the relay signals the end of stored records.
	EOSE() <-chan struct{}

	// Done is closed when the stream ended: closed locally, CLOSED by the relay, or connection lost.
	Done() <-chan struct{}

	// Close sends CLOSE (best effort) and releases the stream. Idempotent.
	Close()
}
