package relay

import (
	"sync"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
)

// Listener receives a full status snapshot after every change.
// It runs on the goroutine that changed the state, under the delivery lock: it must
// return quickly and must not call Connect, Disconnect or Reconnect on the manager,
// or Subscribe on the broadcaster. Hand the snapshot to another goroutine instead.
type Listener func(snapshot []domain.RelayRecord)

type listenerEntry struct {
	fn Listener
}

// Broadcaster fans status snapshots out to listeners.
//
// Deliveries are synchronous and serialized: every listener sees every snapshot,
// in registration order, and never two snapshots at once.
type Broadcaster struct {
	snapshot func() []domain.RelayRecord

	deliverMu sync.Mutex

	mu        sync.Mutex
	listeners []*listenerEntry
}

// NewBroadcaster builds a broadcaster reading state through snapshot.
func NewBroadcaster(snapshot func() []domain.RelayRecord) *Broadcaster {
	return &Broadcaster{snapshot: snapshot}
}

// Subscribe registers fn and immediately delivers the current snapshot to it.
// The returned func unregisters; calling it again is a no-op.
func (b *Broadcaster) Subscribe(fn Listener) func() {
	entry := &listenerEntry{fn: fn}

	b.deliverMu.Lock()
	b.mu.Lock()
	b.listeners = append(b.listeners, entry)
	b.mu.Unlock()
	fn(b.snapshot())
	b.deliverMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(entry) })
	}
}

// Publish delivers the current snapshot to every listener.
func (b *Broadcaster) Publish() {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	snap := b.snapshot()

	b.mu.Lock()
	listeners := make([]*listenerEntry, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, l := range listeners {
		l.fn(cloneRecords(snap))
	}
}

// Len returns the number of registered listeners.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

func (b *Broadcaster) remove(entry *listenerEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l == entry {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

func cloneRecords(in []domain.RelayRecord) []domain.RelayRecord {
	out := make([]domain.RelayRecord, len(in))
	copy(out, in)
	return out
}
