package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/metrics"
	"github.com/MrSnakeDoc/nostrmarks/internal/relay"
)

// ErrNoConnectedRelays is returned by Subscribe when there is nothing to subscribe on.
var ErrNoConnectedRelays = errors.New("no connected relays")

// Source hands out relay connections. *relay.Manager implements it.
type Source interface {
	Connected() []string
	Handle(ctx context.Context, url string) (relay.Conn, error)
	OnClose(hook relay.CloseHook)
}

// Options tunes the registry.
type Options struct {
	// SkipSignatureCheck accepts records without verifying them. Tests only.
	SkipSignatureCheck bool

	Metrics *metrics.Metrics
}

// Registry runs short-lived queries and keeps track of long-lived subscriptions.
type Registry struct {
	source  Source
	log     logger.Logger
	metrics *metrics.Metrics
	verify  bool

	mu      sync.Mutex
	handles map[string]*Handle
}

// New builds a registry and hooks it to relay teardown.
func New(source Source, opts Options, log logger.Logger) *Registry {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	r := &Registry{
		source:  source,
		log:     log,
		metrics: opts.Metrics,
		verify:  !opts.SkipSignatureCheck,
		handles: make(map[string]*Handle),
	}
	source.OnClose(r.relayClosed)
	return r
}

// Result is what a short-lived query gathered.
type Result struct {
	Events []nostr.Event
	// Completed counts the relays that sent EOSE. When it is zero, an empty
	// Events says nothing about what the relays hold.
	Completed int
}

// Query is Collect without the completion count.
func (r *Registry) Query(ctx context.Context, relays []string, filters nostr.Filters, timeout time.Duration) []nostr.Event {
	return r.Collect(ctx, relays, filters, timeout).Events
}

// Collect sends filters to every relay and gathers records until each relay sent
// EOSE or timeout elapsed, whichever comes first. Relays that cannot be reached
// count as finished but not as completed. Records are deduplicated by id, invalid
// ones dropped. Running out of time is not an error: whatever arrived is returned.
func (r *Registry) Collect(ctx context.Context, relays []string, filters nostr.Filters, timeout time.Duration) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := "q-" + uuid.NewString()
	acc := newAccumulator(r, true)

	var (
		wg        sync.WaitGroup
		completed atomic.Int32
	)
	for _, url := range relays {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			if r.queryOne(ctx, url, id, filters, acc) {
				completed.Add(1)
			}
		}(url)
	}
	wg.Wait()

	result := metrics.ResultOK
	if ctx.Err() != nil {
		result = metrics.ResultTimeout
	}
	events := acc.events()
	r.metrics.QueryDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	r.metrics.QueryRecords.Add(float64(len(events)))

	r.log.Debug("query finished",
		logger.String("sub", id),
		logger.Int("relays", len(relays)),
		logger.Int("completed", int(completed.Load())),
		logger.Int("records", len(events)),
		logger.String("result", result),
		logger.Duration("elapsed", time.Since(start)))

	return Result{Events: events, Completed: int(completed.Load())}
}

// queryOne reports whether the relay sent EOSE.
func (r *Registry) queryOne(ctx context.Context, url, id string, filters nostr.Filters, acc *accumulator) bool {
	conn, err := r.source.Handle(ctx, url)
	if err != nil {
		r.log.Debug("query skipped relay", logger.Relay(url), logger.Error(err))
		return false
	}

	stream, err := conn.Subscribe(ctx, id, filters)
	if err != nil {
		r.log.Debug("query subscribe failed", logger.Relay(url), logger.Error(err))
		return false
	}
	defer stream.Close()

	for {
		select {
		case evt := <-stream.Events():
			acc.add(url, evt)
		case <-stream.EOSE():
			drain(stream, url, acc)
			return true
		case <-stream.Done():
			drain(stream, url, acc)
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// drain takes what is already buffered; records sent before EOSE belong to the answer.
func drain(stream relay.Stream, url string, acc *accumulator) {
	for {
		select {
		case evt := <-stream.Events():
			acc.add(url, evt)
		default:
			return
		}
	}
}

// Subscribe opens one long-lived stream per connected relay with the merged filter.
// onRecord is called once per distinct valid record, from the stream goroutines.
func (r *Registry) Subscribe(ctx context.Context, filters nostr.Filters, onRecord func(url string, evt nostr.Event)) (*Handle, error) {
	relays := r.source.Connected()
	if len(relays) == 0 {
		return nil, ErrNoConnectedRelays
	}

	merged := nostr.Filters{MergeFilters(filters)}
	h := &Handle{
		id:       "s-" + uuid.NewString(),
		registry: r,
		streams:  make(map[string]relay.Stream),
		acc:      newAccumulator(r, false),
	}

	type opened struct {
		url    string
		stream relay.Stream
	}
	var started []opened
	var errs []error
	for _, url := range relays {
		conn, err := r.source.Handle(ctx, url)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		stream, err := conn.Subscribe(ctx, h.id, merged)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		h.streams[url] = stream
		started = append(started, opened{url: url, stream: stream})
	}

	if len(started) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoConnectedRelays, errors.Join(errs...))
	}

	for _, o := range started {
		go h.pump(o.url, o.stream, onRecord)
	}

	r.mu.Lock()
	r.handles[h.id] = h
	r.mu.Unlock()

	r.log.Debug("subscription opened", logger.String("sub", h.id), logger.Int("relays", len(started)))
	return h, nil
}

// Active returns the number of open long-lived subscriptions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// CloseAll closes every long-lived subscription.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
}

// relayClosed releases the streams a torn-down relay was serving.
func (r *Registry) relayClosed(url string) {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.dropRelay(url)
	}
}

func (r *Registry) valid(evt *nostr.Event) bool {
	if !r.verify {
		return true
	}
	if evt.GetID() != evt.ID {
		return false
	}
	ok, err := evt.CheckSignature()
	return err == nil && ok
}

// Handle is a long-lived subscription.
type Handle struct {
	id       string
	registry *Registry
	acc      *accumulator

	mu      sync.Mutex
	streams map[string]relay.Stream

	closeOnce sync.Once
}

// ID returns the subscription id sent to relays.
func (h *Handle) ID() string { return h.id }

// Relays lists the relays still serving this subscription.
func (h *Handle) Relays() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.streams))
	for url := range h.streams {
		out = append(out, url)
	}
	return out
}

// Close releases every stream and unregisters the handle. Idempotent.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.registry.mu.Lock()
		delete(h.registry.handles, h.id)
		h.registry.mu.Unlock()

		h.mu.Lock()
		streams := h.streams
		h.streams = make(map[string]relay.Stream)
		h.mu.Unlock()

		for _, s := range streams {
			s.Close()
		}
		h.registry.log.Debug("subscription closed", logger.String("sub", h.id))
	})
}

func (h *Handle) dropRelay(url string) {
	h.mu.Lock()
	s, ok := h.streams[url]
	delete(h.streams, url)
	h.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (h *Handle) pump(url string, stream relay.Stream, onRecord func(string, nostr.Event)) {
	for {
		select {
		case evt := <-stream.Events():
			if h.acc.add(url, evt) {
				onRecord(url, evt)
			}
		case <-stream.Done():
			h.mu.Lock()
			if h.streams[url] == stream {
				delete(h.streams, url)
			}
			h.mu.Unlock()
			return
		}
	}
}

// accumulator dedupes records by id. When keep is set it also retains them in arrival order.
type accumulator struct {
	registry *Registry
	keep     bool

	mu    sync.Mutex
	seen  map[string]bool
	order []nostr.Event
}

func newAccumulator(r *Registry, keep bool) *accumulator {
	return &accumulator{registry: r, keep: keep, seen: make(map[string]bool)}
}

// add reports whether evt was new and valid.
func (a *accumulator) add(url string, evt nostr.Event) bool {
	a.mu.Lock()
	dup := a.seen[evt.ID]
	a.mu.Unlock()
	if dup {
		return false
	}

	if !a.registry.valid(&evt) {
		a.registry.metrics.RejectedSigs.Inc()
		a.registry.log.Debug("dropping invalid record",
			logger.Relay(url),
			logger.String("id", evt.ID))
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen[evt.ID] {
		return false
	}
	a.seen[evt.ID] = true
	if a.keep {
		a.order = append(a.order, evt)
	}
	return true
}

func (a *accumulator) events() []nostr.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]nostr.Event, len(a.order))
	copy(out, a.order)
	return out
}
