package bookmarks

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/singleflight"

	"github.com/MrSnakeDoc/nostrmarks/internal/cache"
	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/metrics"
	"github.com/MrSnakeDoc/nostrmarks/internal/relay"
	"github.com/MrSnakeDoc/nostrmarks/internal/subscription"
)

const (
	DefaultQueryTimeout   = 5 * time.Second
	DefaultEnrichTimeout  = 3 * time.Second
	DefaultPublishTimeout = 10 * time.Second
	DefaultVerifyDelay    = 3 * time.Second

	defaultNoteCacheSize     = 512
	defaultEnrichConcurrency = 8
)

// Relays is the slice of the connection manager the synchronizer needs.
type Relays interface {
	Connected() []string
	Connect(ctx context.Context, urls []string) ([]relay.ConnectOutcome, error)
	Reconnect(ctx context.Context, urls []string) ([]relay.ConnectOutcome, error)
	Handle(ctx context.Context, url string) (relay.Conn, error)
}

// Querier runs short-lived queries. *subscription.Registry implements it.
type Querier interface {
	Query(ctx context.Context, relays []string, filters nostr.Filters, timeout time.Duration) []nostr.Event
	Collect(ctx context.Context, relays []string, filters nostr.Filters, timeout time.Duration) subscription.Result
}

// Options tunes the synchronizer. Zero durations fall back to the defaults.
type Options struct {
	// Fallback relays are connected when nothing is connected at fetch time.
	Fallback []string
	// Public relays are asked for note contents the connected relays do not have.
	Public []string

	QueryTimeout   time.Duration
	EnrichTimeout  time.Duration
	PublishTimeout time.Duration

	// VerifyDelay is how long to wait before checking a mutation landed.
	// A negative value disables verification.
	VerifyDelay time.Duration

	NoteCacheSize int

	Cache   cache.Cache
	Clock   clock.Clock
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	o.Fallback = domain.NormalizeRelayURLs(o.Fallback)
	o.Public = domain.NormalizeRelayURLs(o.Public)
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.EnrichTimeout <= 0 {
		o.EnrichTimeout = DefaultEnrichTimeout
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = DefaultPublishTimeout
	}
	if o.VerifyDelay == 0 {
		o.VerifyDelay = DefaultVerifyDelay
	}
	if o.NoteCacheSize <= 0 {
		o.NoteCacheSize = defaultNoteCacheSize
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	return o
}

// Synchronizer fetches, resolves and republishes bookmark lists.
//
// Mutations are not coordinated with each other: two concurrent deletes both start
// from their own fresh fetch and the later publish wins.
type Synchronizer struct {
	relays Relays
	query  Querier
	opts   Options
	log    logger.Logger
	clock  clock.Clock

	notes  *lru.Cache[string, string]
	flight singleflight.Group

	mu       sync.Mutex
	lastSeen map[string]nostr.Timestamp

	// background verifications
	bg   context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

func New(relays Relays, query Querier, opts Options, log logger.Logger) *Synchronizer {
	opts = opts.withDefaults()
	notes, err := lru.New[string, string](opts.NoteCacheSize)
	if err != nil {
		panic(err) // only fails on a non-positive size
	}
	bg, stop := context.WithCancel(context.Background())
	return &Synchronizer{
		relays:   relays,
		query:    query,
		opts:     opts,
		log:      log,
		clock:    opts.Clock,
		notes:    notes,
		lastSeen: make(map[string]nostr.Timestamp),
		bg:       bg,
		stop:     stop,
	}
}

// Close cancels pending verifications and waits for them to return.
func (s *Synchronizer) Close() {
	s.stop()
	s.wg.Wait()
}

// Wait blocks until pending verifications have finished.
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}

// resolved is the outcome of one fetch-and-select cycle.
type resolved struct {
	canonical *nostr.Event
	// latest is the highest created_at seen on any copy, canonical or not.
	latest  nostr.Timestamp
	entries []domain.BookmarkEntry
	// answered is false when no relay finished the query in time, so an empty
	// result cannot be told apart from a missing list.
	answered bool
}

// FetchBookmarks returns the author's current bookmarks, newest first.
// An author without a bookmark list gets an empty slice; relay trouble is never an error here.
func (s *Synchronizer) FetchBookmarks(ctx context.Context, author string) ([]domain.BookmarkEntry, error) {
	res := s.resolve(ctx, author)
	if err := ctx.Err(); err != nil {
		s.opts.Metrics.BookmarkOps.WithLabelValues("fetch", metrics.ResultError).Inc()
		return nil, err
	}

	entries := res.entries
	s.enrich(ctx, entries)
	slices.SortStableFunc(entries, func(a, b domain.BookmarkEntry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	s.store(ctx, author, res, entries)
	s.opts.Metrics.BookmarkOps.WithLabelValues("fetch", metrics.ResultOK).Inc()
	return entries, nil
}

// CachedBookmarks returns the last fetched list without touching the network.
// It is a display hint only; mutations never start from it.
func (s *Synchronizer) CachedBookmarks(ctx context.Context, author string) ([]domain.BookmarkEntry, bool, error) {
	if s.opts.Cache == nil {
		return nil, false, nil
	}
	snap, ok, err := s.opts.Cache.Bookmarks(ctx, author)
	if err != nil || !ok {
		return nil, false, err
	}
	return snap.Entries, true, nil
}

// resolve runs fetch steps 1 to 5: pick relays, query, pick the canonical copy and parse it.
func (s *Synchronizer) resolve(ctx context.Context, author string) resolved {
	relays := s.relaySet(ctx)

	filter := nostr.Filter{
		Kinds:   []int{domain.KindBookmarkList},
		Authors: []string{author},
	}
	if since, ok := s.observed(author); ok {
		filter.Since = &since
	}

	res := s.query.Collect(ctx, relays, nostr.Filters{filter}, s.opts.QueryTimeout)
	records, completed := res.Events, res.Completed
	if len(records) == 0 && filter.Since != nil {
		filter.Since = nil
		res = s.query.Collect(ctx, relays, nostr.Filters{filter}, s.opts.QueryTimeout)
		records, completed = res.Events, completed+res.Completed
	}
	answered := completed > 0
	if !answered {
		s.log.Warn("no relay answered the bookmark query in time",
			logger.Author(author),
			logger.Strings("relays", relays))
	}

	canonical, ok := domain.SelectCanonical(records)
	if !ok {
		s.log.Debug("no bookmark list found", logger.Author(author), logger.Int("relays", len(relays)))
		return resolved{answered: answered}
	}
	latest := domain.LatestTimestamp(records)

	if domain.CountEntries(canonical) == 0 && domain.HasOlderNonEmpty(records, canonical) {
		s.log.Warn("newest bookmark list is empty while an older copy is not, requerying",
			logger.Author(author),
			logger.Record(canonical.ID))

		if _, err := s.relays.Reconnect(ctx, relays); err != nil {
			s.log.Warn("reconnect before requery failed", logger.Error(err))
		}
		again := s.query.Query(ctx, s.relays.Connected(), nostr.Filters{filter}, s.opts.QueryTimeout)
		if winner, ok := domain.SelectCanonical(again); ok && domain.CountEntries(winner) >= domain.CountEntries(canonical) {
			canonical = winner
		}
		if l := domain.LatestTimestamp(again); l > latest {
			latest = l
		}
	}

	s.observe(author, latest)
	return resolved{
		canonical: canonical,
		latest:    latest,
		entries:   domain.ParseBookmarkRecord(canonical),
		answered:  answered,
	}
}

// relaySet prefers connected relays and connects the fallback set when there are none.
func (s *Synchronizer) relaySet(ctx context.Context) []string {
	if relays := s.relays.Connected(); len(relays) > 0 {
		return relays
	}
	if len(s.opts.Fallback) == 0 {
		s.log.Warn("no connected relays and no fallback relays configured")
		return nil
	}

	s.log.Info("no connected relays, connecting fallback set", logger.Strings("relays", s.opts.Fallback))
	if _, err := s.relays.Connect(ctx, s.opts.Fallback); err != nil {
		s.log.Warn("fallback relays unreachable", logger.Error(err))
	}
	return s.relays.Connected()
}

// observed returns the newest created_at seen for the author so far.
func (s *Synchronizer) observed(author string) (nostr.Timestamp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.lastSeen[author]
	return ts, ok
}

func (s *Synchronizer) observe(author string, ts nostr.Timestamp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts > s.lastSeen[author] {
		s.lastSeen[author] = ts
	}
}

func (s *Synchronizer) store(ctx context.Context, author string, res resolved, entries []domain.BookmarkEntry) {
	if s.opts.Cache == nil {
		return
	}
	snap := cache.BookmarkSnapshot{
		Entries:   entries,
		FetchedAt: s.clock.Now(),
	}
	if res.canonical != nil {
		snap.RecordID = res.canonical.ID
		snap.CreatedAt = int64(res.canonical.CreatedAt)
	}
	if err := s.opts.Cache.SetBookmarks(ctx, author, snap); err != nil {
		s.log.Warn("failed to cache bookmarks", logger.Author(author), logger.Error(err))
	}
}
