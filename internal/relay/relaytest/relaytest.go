// Package relaytest provides an in-memory relay network for tests.
package relaytest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/MrSnakeDoc/nostrmarks/internal/relay"
)

// ErrUnknownRelay is returned when dialing a URL nobody registered.
var ErrUnknownRelay = errors.New("relaytest: unknown relay")

// Relay is one scripted relay. Replaceable records (kinds 10000-19999) keep only
// the newest copy per author, like a real relay.
type Relay struct {
	URL string

	mu         sync.Mutex
	records    []nostr.Event
	published  []nostr.Event
	publishErr error
	silent     bool
	discard    bool

	streamCloses atomic.Int64
	queries      atomic.Int64
}

// Store adds records as if they had been published earlier. Replaceable records
// are not collapsed here, so tests can seed divergent copies.
func (r *Relay) Store(records ...nostr.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
}

// RejectPublish makes every following publish fail with err (nil restores acceptance).
func (r *Relay) RejectPublish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishErr = err
}

// DiscardPublished makes the relay acknowledge publishes without keeping them,
// so later queries still see the old copies.
func (r *Relay) DiscardPublished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discard = true
}

// Silence stops the relay from ever sending EOSE.
func (r *Relay) Silence() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.silent = true
}

// Published returns every record accepted through Publish.
func (r *Relay) Published() []nostr.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]nostr.Event, len(r.published))
	copy(out, r.published)
	return out
}

// StreamCloseCalls counts Stream.Close calls, duplicates included.
func (r *Relay) StreamCloseCalls() int64 { return r.streamCloses.Load() }

// Queries counts REQs received.
func (r *Relay) Queries() int64 { return r.queries.Load() }

func (r *Relay) accept(evt nostr.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.publishErr != nil {
		return fmt.Errorf("%w: %v", relay.ErrRejected, r.publishErr)
	}
	r.published = append(r.published, evt)
	if r.discard {
		return nil
	}

	if evt.Kind >= 10000 && evt.Kind < 20000 {
		kept := r.records[:0]
		for _, old := range r.records {
			if old.Kind == evt.Kind && old.PubKey == evt.PubKey {
				continue
			}
			kept = append(kept, old)
		}
		r.records = kept
	}
	r.records = append(r.records, evt)
	return nil
}

func (r *Relay) match(filters nostr.Filters) ([]nostr.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []nostr.Event
	seen := make(map[string]bool)
	for _, f := range filters {
		var hits []nostr.Event
		for i := range r.records {
			evt := r.records[i]
			if f.Matches(&evt) {
				hits = append(hits, evt)
			}
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].CreatedAt > hits[j].CreatedAt })
		if f.Limit > 0 && len(hits) > f.Limit {
			hits = hits[:f.Limit]
		}
		for _, h := range hits {
			if !seen[h.ID] {
				seen[h.ID] = true
				out = append(out, h)
			}
		}
	}
	return out, r.silent
}

// Transport is a relay.Transport over in-memory relays.
type Transport struct {
	mu      sync.Mutex
	relays  map[string]*Relay
	fail    map[string]error
	gates   map[string]chan struct{}
	dials   map[string]int
	closes  map[string]int
	live    map[string][]*Conn
	dialing atomic.Int64
}

// NewTransport returns an empty network.
func NewTransport() *Transport {
	return &Transport{
		relays: make(map[string]*Relay),
		fail:   make(map[string]error),
		gates:  make(map[string]chan struct{}),
		dials:  make(map[string]int),
		closes: make(map[string]int),
		live:   make(map[string][]*Conn),
	}
}

// AddRelay registers a reachable relay.
func (t *Transport) AddRelay(url string) *Relay {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := &Relay{URL: url}
	t.relays[url] = r
	return r
}

// Relay returns a registered relay.
func (t *Transport) Relay(url string) *Relay {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.relays[url]
}

// Fail makes dials to url return err (nil clears it).
func (t *Transport) Fail(url string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.fail, url)
		return
	}
	t.fail[url] = err
}

// Gate makes dials to url block until the returned func is called.
func (t *Transport) Gate(url string) (release func()) {
	ch := make(chan struct{})
	t.mu.Lock()
	t.gates[url] = ch
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.gates, url)
			t.mu.Unlock()
			close(ch)
		})
	}
}

// Dials counts dial attempts to url.
func (t *Transport) Dials(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials[url]
}

// Closes counts Close calls on connections to url.
func (t *Transport) Closes(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes[url]
}

// InFlight returns the number of dials currently blocked on a gate.
func (t *Transport) InFlight() int64 { return t.dialing.Load() }

// Drop kills every live connection to url from the relay side.
func (t *Transport) Drop(url string) {
	t.mu.Lock()
	conns := t.live[url]
	t.live[url] = nil
	t.mu.Unlock()

	for _, c := range conns {
		c.terminate()
	}
}

func (t *Transport) Dial(ctx context.Context, url string) (relay.Conn, error) {
	t.mu.Lock()
	t.dials[url]++
	gate := t.gates[url]
	t.mu.Unlock()

	if gate != nil {
		t.dialing.Add(1)
		select {
		case <-gate:
			t.dialing.Add(-1)
		case <-ctx.Done():
			t.dialing.Add(-1)
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail[url]; err != nil {
		return nil, err
	}
	r := t.relays[url]
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRelay, url)
	}

	c := &Conn{url: url, relay: r, transport: t, done: make(chan struct{})}
	t.live[url] = append(t.live[url], c)
	return c, nil
}

// Conn is an in-memory relay.Conn.
type Conn struct {
	url       string
	relay     *Relay
	transport *Transport

	done      chan struct{}
	closeOnce sync.Once
}

func (c *Conn) URL() string           { return c.url }
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Subscribe(ctx context.Context, id string, filters nostr.Filters) (relay.Stream, error) {
	select {
	case <-c.done:
		return nil, relay.ErrConnClosed
	default:
	}
	c.relay.queries.Add(1)

	records, silent := c.relay.match(filters)
	s := &Stream{
		id:     id,
		relay:  c.relay,
		events: make(chan nostr.Event, len(records)+1),
		eose:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, r := range records {
		s.events <- r
	}
	if !silent {
		close(s.eose)
	}

	go func() {
		select {
		case <-c.done:
			s.finish()
		case <-s.done:
		}
	}()
	return s, nil
}

func (c *Conn) Publish(ctx context.Context, evt nostr.Event) error {
	select {
	case <-c.done:
		return relay.ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return c.relay.accept(evt)
}

// Close counts every call, so a double close shows up in Closes.
func (c *Conn) Close() error {
	c.transport.mu.Lock()
	c.transport.closes[c.url]++
	c.transport.mu.Unlock()
	c.terminate()
	return nil
}

func (c *Conn) terminate() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Stream is an in-memory relay.Stream.
type Stream struct {
	id     string
	relay  *Relay
	events chan nostr.Event
	eose   chan struct{}

	done     chan struct{}
	doneOnce sync.Once
}

func (s *Stream) ID() string                  { return s.id }
func (s *Stream) Events() <-chan nostr.Event { return s.events }
func (s *Stream) EOSE() <-chan struct{}       { return s.eose }
func (s *Stream) Done() <-chan struct{}       { return s.done }

func (s *Stream) Close() {
	s.relay.streamCloses.Add(1)
	s.finish()
}

func (s *Stream) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Sign builds and signs a record with sk. It fails the test on error.
func Sign(t testing.TB, sk string, kind int, createdAt int64, tags nostr.Tags) nostr.Event {
	t.Helper()
	return SignContent(t, sk, kind, createdAt, tags, "")
}

// SignContent is Sign with a content body.
func SignContent(t testing.TB, sk string, kind int, createdAt int64, tags nostr.Tags, content string) nostr.Event {
	t.Helper()
	evt := nostr.Event{
		Kind:      kind,
		CreatedAt: nostr.Timestamp(createdAt),
		Tags:      tags,
		Content:   content,
	}
	if tags == nil {
		evt.Tags = nostr.Tags{}
	}
	if err := evt.Sign(sk); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return evt
}
