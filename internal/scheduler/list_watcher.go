package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nbd-wtf/go-nostr"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/subscription"
)

// DefaultWatchInterval is how often the watcher checks its subscription still covers the connected relays
const DefaultWatchInterval = time.Minute

// Connected lists the relays currently connected. *relay.Manager implements it.
type Connected interface {
	Connected() []string
}

// ListWatcher keeps a live subscription to the author's bookmark list and fires the
// refresh trigger whenever a new copy shows up, so edits made from other clients
// appear without waiting for the next refresh tick
type ListWatcher struct {
	registry *subscription.Registry
	relays   Connected
	author   string
	trigger  chan<- struct{}
	clock    clock.Clock
	logger   logger.Logger
	job      *job

	mu     sync.Mutex
	handle *subscription.Handle
}

// NewListWatcher creates a watcher. A non-positive interval falls back to DefaultWatchInterval.
func NewListWatcher(
	registry *subscription.Registry,
	relays Connected,
	author string,
	trigger chan<- struct{},
	log logger.Logger,
	interval time.Duration,
	clk clock.Clock,
) *ListWatcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &ListWatcher{
		registry: registry,
		relays:   relays,
		author:   author,
		trigger:  trigger,
		clock:    clk,
		logger:   log,
		job:      newJob(clk, interval, nil),
	}
}

// Start subscribes right away, then re-checks the subscription periodically
func (w *ListWatcher) Start(ctx context.Context) {
	w.Ensure(ctx)
	w.job.start(ctx, func(ctx context.Context) { w.Ensure(ctx) })
}

// Stop ends the loop and closes the subscription
func (w *ListWatcher) Stop() {
	w.job.stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handle != nil {
		w.handle.Close()
		w.handle = nil
	}
}

// Ensure reopens the subscription when it serves fewer relays than are connected,
// which happens after a relay dropped and came back. It reports whether a
// subscription is open afterwards.
func (w *ListWatcher) Ensure(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	connected := len(w.relays.Connected())
	if w.handle != nil && len(w.handle.Relays()) >= connected && connected > 0 {
		return true
	}
	if w.handle != nil {
		w.handle.Close()
		w.handle = nil
	}

	since := domain.Timestamp(w.clock.Now())
	filters := nostr.Filters{{
		Kinds:   []int{domain.KindBookmarkList},
		Authors: []string{w.author},
		Since:   &since,
	}}
	h, err := w.registry.Subscribe(ctx, filters, w.onRecord)
	if err != nil {
		w.logger.Debug("bookmark list watch not open", logger.Error(err))
		return false
	}

	w.handle = h
	w.logger.Info("watching bookmark list", logger.Int("relays", len(h.Relays())))
	return true
}

func (w *ListWatcher) onRecord(url string, evt nostr.Event) {
	w.logger.Debug("bookmark list changed upstream", logger.Relay(url), logger.Record(evt.ID))
	select {
	case w.trigger <- struct{}{}:
	default:
		// a refresh is already queued
	}
}
