package relay

import "errors"

var (
	// ErrNoRelaysReachable is returned by Connect when none of the requested relays ended up connected.
	// It is advisory: per-relay causes are joined to it and reconnects are still scheduled.
	ErrNoRelaysReachable = errors.New("no relays reachable")

	// ErrUnsafeURL rejects relay addresses that are not ws/wss or point at an internal network.
	ErrUnsafeURL = errors.New("relay url blocked: unsafe destination")

	// ErrDisconnected is returned to callers whose connection attempt was overtaken by a Disconnect.
	ErrDisconnected = errors.New("relay disconnected")

	// ErrConnClosed is returned by operations on a closed connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrRejected wraps the reason a relay gave in a negative OK.
	ErrRejected = errors.New("relay rejected record")
)
