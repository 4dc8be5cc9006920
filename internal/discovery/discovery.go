package discovery

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nbd-wtf/go-nostr"

	"github.com/MrSnakeDoc/nostrmarks/internal/cache"
	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/relay"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultWaitWindow   = 15 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
)

// Connector is the part of the connection manager discovery drives.
type Connector interface {
	Connect(ctx context.Context, urls []string) ([]relay.ConnectOutcome, error)
	Connected() []string
}

// Querier runs short-lived queries. *subscription.Registry implements it.
type Querier interface {
	Query(ctx context.Context, relays []string, filters nostr.Filters, timeout time.Duration) []nostr.Event
}

// Options tunes discovery. Zero durations fall back to the defaults above.
type Options struct {
	// Bootstrap relays are asked for relay lists and used when a user has none.
	Bootstrap []string

	Timeout      time.Duration
	WaitWindow   time.Duration
	PollInterval time.Duration

	// Cache receives every non-empty relay list resolved. Optional.
	Cache cache.Cache
	Clock clock.Clock
}

// Discovery finds and connects a user's preferred relays.
type Discovery struct {
	conn  Connector
	query Querier
	opts  Options
	log   logger.Logger
}

func New(conn Connector, query Querier, opts Options, log logger.Logger) *Discovery {
	opts.Bootstrap = domain.NormalizeRelayURLs(opts.Bootstrap)
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.WaitWindow <= 0 {
		opts.WaitWindow = DefaultWaitWindow
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Discovery{conn: conn, query: query, opts: opts, log: log}
}

// Bootstrap returns the normalized bootstrap set.
func (d *Discovery) Bootstrap() []string {
	return slices.Clone(d.opts.Bootstrap)
}

// ResolveRelays looks up the author's relay-preference record on the bootstrap relays.
// An author without one (or bootstrap relays that do not answer in time) yields an empty list.
func (d *Discovery) ResolveRelays(ctx context.Context, author string) []domain.RelayListEntry {
	filters := nostr.Filters{{
		Kinds:   []int{domain.KindRelayList},
		Authors: []string{author},
		Limit:   1,
	}}

	records := d.query.Query(ctx, d.opts.Bootstrap, filters, d.opts.Timeout)
	canonical, ok := domain.SelectCanonical(records)
	if !ok {
		d.log.Info("no relay list found", logger.Author(author))
		return nil
	}

	entries := domain.ParseRelayList(canonical)
	d.log.Info("relay list resolved",
		logger.Author(author),
		logger.Int("relays", len(entries)))

	if len(entries) > 0 && d.opts.Cache != nil {
		if err := d.opts.Cache.SetRelayList(ctx, author, entries); err != nil {
			d.log.Warn("failed to cache relay list", logger.Author(author), logger.Error(err))
		}
	}
	return entries
}

// InitializeForUser connects to every relay of the author's list, or to the bootstrap set when
// none are known. It succeeds as soon as one relay of the attempted set is connected.
// When the preferred set stays unreachable for the wait window, the bootstrap set is tried once.
func (d *Discovery) InitializeForUser(ctx context.Context, author string) error {
	targets := domain.RelayURLs(d.ResolveRelays(ctx, author))
	fromBootstrap := len(targets) == 0
	if fromBootstrap {
		targets = d.opts.Bootstrap
	}

	err := d.connectAndWait(ctx, targets)
	if err == nil || fromBootstrap || ctx.Err() != nil {
		return err
	}

	d.log.Warn("preferred relays unreachable, falling back to bootstrap relays",
		logger.Author(author),
		logger.Strings("preferred", targets),
		logger.Error(err))
	return d.connectAndWait(ctx, d.opts.Bootstrap)
}

// connectAndWait starts connecting to targets and polls until one of them is connected
// or the wait window elapses. Connection attempts keep running after it returns.
func (d *Discovery) connectAndWait(ctx context.Context, targets []string) error {
	if len(targets) == 0 {
		return fmt.Errorf("%w: no relays to try", relay.ErrNoRelaysReachable)
	}

	settled := make(chan error, 1)
	go func() {
		_, err := d.conn.Connect(ctx, targets)
		settled <- err
	}()

	deadline := d.opts.Clock.Timer(d.opts.WaitWindow)
	defer deadline.Stop()
	ticker := d.opts.Clock.Ticker(d.opts.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if d.anyConnected(targets) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-settled:
			// keep polling: reconnect tasks may still succeed inside the window
			lastErr = err
			settled = nil
		case <-ticker.C:
		case <-deadline.C:
			if d.anyConnected(targets) {
				return nil
			}
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("%w: none of %d relays connected within %v",
				relay.ErrNoRelaysReachable, len(targets), d.opts.WaitWindow)
		}
	}
}

func (d *Discovery) anyConnected(targets []string) bool {
	for _, url := range d.conn.Connected() {
		if slices.Contains(targets, url) {
			return true
		}
	}
	return false
}
