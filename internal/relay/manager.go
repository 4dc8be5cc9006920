package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/metrics"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReconnectDelay = 5 * time.Second
)

// Options tunes the connection manager. Zero values fall back to defaults.
type Options struct {
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration

	// MaxReconnectAttempts bounds consecutive failed attempts per relay (0 = unbounded).
	MaxReconnectAttempts int

	// AllowPrivateNetworks skips the DNS part of the URL safety check.
	AllowPrivateNetworks bool

	Clock   clock.Clock
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	return o
}

// CloseHook runs after a relay's connection has been taken away (disconnect, prune or loss),
// just before the connection itself is closed.
type CloseHook func(url string)

// ConnectOutcome reports how one relay of a Connect call settled.
type ConnectOutcome struct {
	URL string
	Err error
}

type reconnectTask struct {
	url         string
	attempt     int
	scheduledAt time.Time
	timer       *clock.Timer
}

// attempt is one in-flight dial. Concurrent callers for the same relay wait on done.
type attempt struct {
	done chan struct{}
	conn Conn
	err  error
}

type relayState struct {
	record    domain.RelayRecord
	conn      Conn
	gen       uint64 // bumped whenever the connection is taken away
	pending   *attempt
	reconnect *reconnectTask
	lastUsed  time.Time
}

// Manager owns every relay connection.
//
// Mutations (connect, disconnect, reconnect firing, transient handles, connection loss)
// are serialized by opMu. opMu is not held while dialing: a dial registers a
// pending attempt, and commit drops the result unless that attempt is still the
// pending one, so a Disconnect issued mid-dial wins. stateMu only
// guards map access, so Connected and Statuses never wait behind a slow mutation.
type Manager struct {
	transport   Transport
	opts        Options
	clock       clock.Clock
	log         logger.Logger
	metrics     *metrics.Metrics
	broadcaster *Broadcaster

	opMu sync.Mutex

	stateMu sync.RWMutex
	relays  map[string]*relayState

	hooksMu sync.RWMutex
	hooks   []CloseHook
}

// NewManager builds a manager dialing through transport.
func NewManager(transport Transport, opts Options, log logger.Logger) *Manager {
	opts = opts.withDefaults()
	m := &Manager{
		transport: transport,
		opts:      opts,
		clock:     opts.Clock,
		log:       log,
		metrics:   opts.Metrics,
		relays:    make(map[string]*relayState),
	}
	m.broadcaster = NewBroadcaster(m.Statuses)
	return m
}

// Subscribe registers a status listener. See Broadcaster.Subscribe.
func (m *Manager) Subscribe(fn Listener) func() {
	return m.broadcaster.Subscribe(fn)
}

// OnClose registers a hook run whenever a relay connection is torn down.
func (m *Manager) OnClose(hook CloseHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// ─────────────────────────────
// Reads
// ─────────────────────────────

// Connected returns the URLs of connected target relays, sorted.
// Transient handles are not part of the user's relay set and are left out.
func (m *Manager) Connected() []string {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	urls := make([]string, 0, len(m.relays))
	for url, st := range m.relays {
		if st.record.IsTarget && st.record.Status == domain.StatusConnected {
			urls = append(urls, url)
		}
	}
	sort.Strings(urls)
	return urls
}

// Statuses returns a snapshot of every relay record, sorted by URL.
func (m *Manager) Statuses() []domain.RelayRecord {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	out := make([]domain.RelayRecord, 0, len(m.relays))
	for _, st := range m.relays {
		out = append(out, st.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Status returns the record of one relay.
func (m *Manager) Status(url string) (domain.RelayRecord, bool) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	st, ok := m.relays[url]
	if !ok {
		return domain.RelayRecord{}, false
	}
	return st.record, true
}

// ─────────────────────────────
// Mutations
// ─────────────────────────────

// Connect marks every URL as a target and connects the ones not already connected or connecting.
// Attempts run concurrently; the call returns once all of them settled.
// The returned error wraps ErrNoRelaysReachable when none of the URLs ended up connected.
func (m *Manager) Connect(ctx context.Context, urls []string) ([]ConnectOutcome, error) {
	outcomes := make([]ConnectOutcome, len(urls))

	var wg sync.WaitGroup
	for i, raw := range urls {
		wg.Add(1)
		go func(i int, raw string) {
			defer wg.Done()
			url, err := m.normalize(ctx, raw)
			if err == nil {
				_, err = m.acquire(ctx, url, true)
			}
			outcomes[i] = ConnectOutcome{URL: url, Err: err}
		}(i, raw)
	}
	wg.Wait()

	return outcomes, summarize(outcomes)
}

// Handle returns a live connection to url, opening a transient (non-target) one if needed.
// Transient connections are never reconnected and are reaped by PruneTransient.
func (m *Manager) Handle(ctx context.Context, raw string) (Conn, error) {
	url, err := m.normalize(ctx, raw)
	if err != nil {
		return nil, err
	}
	return m.acquire(ctx, url, false)
}

// Disconnect clears the target flag, cancels any pending reconnect and closes the connection.
// Calling it on an unknown or already disconnected relay is a no-op.
func (m *Manager) Disconnect(ctx context.Context, raw string) error {
	url, ok := domain.NormalizeRelayURL(raw)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsafeURL, raw)
	}

	m.opMu.Lock()
	m.stateMu.Lock()
	st, exists := m.relays[url]
	if !exists {
		m.stateMu.Unlock()
		m.opMu.Unlock()
		return nil
	}

	st.record.IsTarget = false
	m.cancelReconnect(st)

	conn := st.conn
	inFlight := st.pending != nil
	st.conn = nil
	st.pending = nil
	st.gen++
	gen := st.gen

	if conn == nil && !inFlight {
		changed := st.record.Status != domain.StatusDisconnected
		st.record.Status = domain.StatusDisconnected
		st.record.ConnectedAt = time.Time{}
		m.stateMu.Unlock()
		m.opMu.Unlock()
		if changed {
			m.changed()
		}
		return nil
	}

	st.record.Status = domain.StatusDisconnecting
	m.stateMu.Unlock()
	m.opMu.Unlock()
	m.changed()

	var err error
	if conn != nil {
		m.runHooks(url)
		if cerr := conn.Close(); cerr != nil {
			err = fmt.Errorf("close %s: %w", url, cerr)
		}
	}

	m.opMu.Lock()
	m.stateMu.Lock()
	if st, ok := m.relays[url]; ok && st.gen == gen && st.conn == nil && st.pending == nil {
		st.record.Status = domain.StatusDisconnected
		st.record.ConnectedAt = time.Time{}
		st.record.Attempts = 0
		st.record.LastError = ""
	}
	m.stateMu.Unlock()
	m.opMu.Unlock()
	m.changed()

	m.log.Info("relay disconnected", logger.Relay(url))
	return err
}

// DisconnectAll disconnects every relay, best effort, and drops the records.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	m.stateMu.RLock()
	urls := make([]string, 0, len(m.relays))
	for url := range m.relays {
		urls = append(urls, url)
	}
	m.stateMu.RUnlock()

	var errs error
	for _, url := range urls {
		errs = multierr.Append(errs, m.Disconnect(ctx, url))
	}

	m.opMu.Lock()
	m.stateMu.Lock()
	for _, url := range urls {
		st, ok := m.relays[url]
		if ok && st.conn == nil && st.pending == nil {
			m.cancelReconnect(st)
			delete(m.relays, url)
		}
	}
	m.stateMu.Unlock()
	m.opMu.Unlock()
	m.changed()

	return errs
}

// Close is DisconnectAll with a background context.
func (m *Manager) Close() error {
	return m.DisconnectAll(context.Background())
}

// Reconnect forcibly closes and re-dials the given target relays.
// Non-target and unknown relays are skipped.
func (m *Manager) Reconnect(ctx context.Context, urls []string) ([]ConnectOutcome, error) {
	type job struct {
		url string
		p   *attempt
	}
	var jobs []job

	for _, raw := range urls {
		url, ok := domain.NormalizeRelayURL(raw)
		if !ok {
			continue
		}

		m.opMu.Lock()
		m.stateMu.Lock()
		st, exists := m.relays[url]
		if !exists || !st.record.IsTarget || st.pending != nil {
			m.stateMu.Unlock()
			m.opMu.Unlock()
			continue
		}
		old := st.conn
		st.conn = nil
		st.gen++
		p := m.begin(st)
		m.stateMu.Unlock()
		m.opMu.Unlock()
		m.changed()

		if old != nil {
			m.runHooks(url)
			_ = old.Close()
		}
		jobs = append(jobs, job{url: url, p: p})
	}

	outcomes := make([]ConnectOutcome, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func(i int, j job) {
			defer wg.Done()
			_, err := m.run(ctx, j.url, j.p)
			outcomes[i] = ConnectOutcome{URL: j.url, Err: err}
		}(i, j)
	}
	wg.Wait()

	if len(outcomes) == 0 {
		return nil, nil
	}
	return outcomes, summarize(outcomes)
}

// PruneTransient closes transient connections unused for longer than idle and
// returns how many were closed.
func (m *Manager) PruneTransient(idle time.Duration) int {
	type victim struct {
		url  string
		conn Conn
	}
	var victims []victim

	now := m.clock.Now()

	m.opMu.Lock()
	m.stateMu.Lock()
	for url, st := range m.relays {
		if st.record.IsTarget || st.conn == nil || now.Sub(st.lastUsed) <= idle {
			continue
		}
		victims = append(victims, victim{url: url, conn: st.conn})
		st.conn = nil
		st.gen++
		st.record.Status = domain.StatusDisconnected
		st.record.ConnectedAt = time.Time{}
	}
	m.stateMu.Unlock()
	m.opMu.Unlock()

	for _, v := range victims {
		m.runHooks(v.url)
		_ = v.conn.Close()
		m.log.Debug("transient relay handle closed", logger.Relay(v.url))
	}
	if len(victims) > 0 {
		m.changed()
	}
	return len(victims)
}

// ─────────────────────────────
// Internals
// ─────────────────────────────

func (m *Manager) normalize(ctx context.Context, raw string) (string, error) {
	url, ok := domain.NormalizeRelayURL(raw)
	if !ok {
		return raw, fmt.Errorf("%w: %s", ErrUnsafeURL, raw)
	}
	if err := CheckURL(ctx, url, m.opts.AllowPrivateNetworks); err != nil {
		return url, err
	}
	return url, nil
}

// acquire returns the live connection for url, joining an in-flight dial or starting one.
func (m *Manager) acquire(ctx context.Context, url string, target bool) (Conn, error) {
	m.opMu.Lock()
	m.stateMu.Lock()

	st := m.stateFor(url)
	promoted := false
	if target && !st.record.IsTarget {
		st.record.IsTarget = true
		promoted = true
	}

	if st.conn != nil {
		st.lastUsed = m.clock.Now()
		conn := st.conn
		m.stateMu.Unlock()
		m.opMu.Unlock()
		if promoted {
			m.changed()
		}
		return conn, nil
	}

	if p := st.pending; p != nil {
		m.stateMu.Unlock()
		m.opMu.Unlock()
		if promoted {
			m.changed()
		}
		select {
		case <-p.done:
			return p.conn, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p := m.begin(st)
	m.stateMu.Unlock()
	m.opMu.Unlock()
	m.changed()

	return m.run(ctx, url, p)
}

// stateFor returns the state of url, creating it. Caller holds both locks.
func (m *Manager) stateFor(url string) *relayState {
	st, ok := m.relays[url]
	if !ok {
		st = &relayState{record: domain.RelayRecord{URL: url, Status: domain.StatusDisconnected}}
		m.relays[url] = st
	}
	return st
}

// begin marks st as connecting. Caller holds both locks.
func (m *Manager) begin(st *relayState) *attempt {
	m.cancelReconnect(st)
	p := &attempt{done: make(chan struct{})}
	st.pending = p
	st.record.Status = domain.StatusConnecting
	st.record.LastError = ""
	return p
}

// run dials outside the locks and commits the result.
func (m *Manager) run(ctx context.Context, url string, p *attempt) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	conn, err := m.transport.Dial(dialCtx, url)
	cancel()

	m.metrics.ConnectAttempts.WithLabelValues(metrics.Result(err)).Inc()
	return m.commit(url, p, conn, err)
}

func (m *Manager) commit(url string, p *attempt, conn Conn, dialErr error) (Conn, error) {
	var stale Conn

	m.opMu.Lock()
	m.stateMu.Lock()
	st, ok := m.relays[url]
	switch {
	case !ok || st.pending != p:
		// overtaken by a disconnect while dialing
		stale = conn
		p.err = ErrDisconnected

	case dialErr != nil:
		st.pending = nil
		st.record.Status = domain.StatusError
		st.record.LastError = dialErr.Error()
		st.record.Attempts++
		p.err = dialErr
		if st.record.IsTarget {
			m.scheduleReconnect(st)
		}

	default:
		st.pending = nil
		st.conn = conn
		st.lastUsed = m.clock.Now()
		st.record.Status = domain.StatusConnected
		st.record.ConnectedAt = st.lastUsed
		st.record.Attempts = 0
		st.record.LastError = ""
		p.conn = conn
		go m.watch(url, conn)
	}
	close(p.done)
	m.stateMu.Unlock()
	m.opMu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}

	if dialErr != nil {
		m.log.Warn("relay connection failed", logger.Relay(url), logger.Error(dialErr))
	} else if p.err == nil {
		m.log.Info("relay connected", logger.Relay(url))
	}

	m.changed()
	return p.conn, p.err
}

// watch turns an unexpected end of conn into an error status and, for targets, a reconnect.
func (m *Manager) watch(url string, conn Conn) {
	<-conn.Done()

	m.opMu.Lock()
	m.stateMu.Lock()
	st, ok := m.relays[url]
	if !ok || st.conn != conn {
		m.stateMu.Unlock()
		m.opMu.Unlock()
		return
	}
	st.conn = nil
	st.gen++
	st.record.Status = domain.StatusError
	st.record.LastError = "connection lost"
	st.record.ConnectedAt = time.Time{}
	if st.record.IsTarget {
		m.scheduleReconnect(st)
	}
	m.stateMu.Unlock()
	m.opMu.Unlock()

	m.metrics.ConnectionsLost.Inc()
	m.log.Warn("relay connection lost", logger.Relay(url))
	m.runHooks(url)
	m.changed()
}

// scheduleReconnect arms a reconnect task. Caller holds both locks.
func (m *Manager) scheduleReconnect(st *relayState) {
	if st.reconnect != nil {
		return
	}
	if limit := m.opts.MaxReconnectAttempts; limit > 0 && st.record.Attempts >= limit {
		m.log.Warn("giving up on relay",
			logger.Relay(st.record.URL),
			logger.Int("attempts", st.record.Attempts))
		return
	}

	task := &reconnectTask{
		url:         st.record.URL,
		attempt:     st.record.Attempts + 1,
		scheduledAt: m.clock.Now().Add(m.opts.ReconnectDelay),
	}
	task.timer = m.clock.AfterFunc(m.opts.ReconnectDelay, func() { m.fire(task) })
	st.reconnect = task
	st.record.NextRetryAt = task.scheduledAt

	m.metrics.ReconnectsScheduled.Inc()
	m.log.Debug("relay reconnect scheduled",
		logger.Relay(task.url),
		logger.Int("attempt", task.attempt),
		logger.Duration("delay", m.opts.ReconnectDelay))
}

// cancelReconnect stops a pending task. Caller holds both locks.
func (m *Manager) cancelReconnect(st *relayState) {
	if st.reconnect == nil {
		return
	}
	st.reconnect.timer.Stop()
	st.reconnect = nil
	st.record.NextRetryAt = time.Time{}
}

// fire runs a reconnect task. Target membership is checked again here, under the
// mutation lock, so a Disconnect racing the timer always wins.
func (m *Manager) fire(task *reconnectTask) {
	m.opMu.Lock()
	m.stateMu.Lock()
	st, ok := m.relays[task.url]
	if !ok || st.reconnect != task {
		m.stateMu.Unlock()
		m.opMu.Unlock()
		return
	}
	st.reconnect = nil
	st.record.NextRetryAt = time.Time{}
	if !st.record.IsTarget || st.conn != nil || st.pending != nil {
		m.stateMu.Unlock()
		m.opMu.Unlock()
		return
	}
	p := m.begin(st)
	m.stateMu.Unlock()
	m.opMu.Unlock()
	m.changed()

	_, _ = m.run(context.Background(), task.url, p)
}

func (m *Manager) runHooks(url string) {
	m.hooksMu.RLock()
	hooks := make([]CloseHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.hooksMu.RUnlock()

	for _, h := range hooks {
		h(url)
	}
}

func (m *Manager) changed() {
	m.metrics.RelaysConnected.Set(float64(len(m.Connected())))
	m.broadcaster.Publish()
}

func summarize(outcomes []ConnectOutcome) error {
	var errs error
	for _, o := range outcomes {
		if o.Err == nil {
			return nil
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", o.URL, o.Err))
	}
	if errs == nil {
		return ErrNoRelaysReachable
	}
	return fmt.Errorf("%w: %w", ErrNoRelaysReachable, errs)
}
