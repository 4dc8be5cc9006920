package discovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/nostrmarks/internal/cache"
	"github.com/MrSnakeDoc/nostrmarks/internal/discovery"
	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/relay"
	"github.com/MrSnakeDoc/nostrmarks/internal/relay/relaytest"
	"github.com/MrSnakeDoc/nostrmarks/internal/subscription"
)

const (
	bootstrapRelay = "wss://bootstrap.relay.test"
	preferredRelay = "wss://preferred.relay.test"
	writeOnlyRelay = "wss://outbox.relay.test"
)

type fixture struct {
	transport *relaytest.Transport
	manager   *relay.Manager
	cache     *cache.Memory
	discovery *discovery.Discovery
	sk, pk    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tr := relaytest.NewTransport()
	tr.AddRelay(bootstrapRelay)
	tr.AddRelay(preferredRelay)
	tr.AddRelay(writeOnlyRelay)

	// the mock clock is never advanced: failed relays are not retried during a test
	m := relay.NewManager(tr, relay.Options{AllowPrivateNetworks: true, Clock: clock.NewMock()}, logger.NewNop())
	t.Cleanup(func() { _ = m.Close() })

	reg := subscription.New(m, subscription.Options{}, logger.NewNop())
	c := cache.NewMemory(0, 0)

	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	d := discovery.New(m, reg, discovery.Options{
		Bootstrap:    []string{bootstrapRelay},
		Timeout:      time.Second,
		WaitWindow:   200 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		Cache:        c,
	}, logger.NewNop())

	return &fixture{transport: tr, manager: m, cache: c, discovery: d, sk: sk, pk: pk}
}

func (f *fixture) publishRelayList(t *testing.T) {
	t.Helper()
	rec := relaytest.Sign(t, f.sk, domain.KindRelayList, 100, nostr.Tags{
		{"r", preferredRelay},
		{"r", writeOnlyRelay, "write"},
		{"r", "https://not-a-relay.test"},
	})
	f.transport.Relay(bootstrapRelay).Store(rec)
}

func TestResolveRelays(t *testing.T) {
	f := newFixture(t)
	f.publishRelayList(t)

	entries := f.discovery.ResolveRelays(context.Background(), f.pk)

	want := []domain.RelayListEntry{
		{URL: preferredRelay, Read: true, Write: true},
		{URL: writeOnlyRelay, Write: true},
	}
	assert.Equal(t, want, entries)

	cached, ok, err := f.cache.RelayList(context.Background(), f.pk)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, cached)
}

func TestResolveRelaysAbsent(t *testing.T) {
	f := newFixture(t)

	assert.Empty(t, f.discovery.ResolveRelays(context.Background(), f.pk))

	_, ok, err := f.cache.RelayList(context.Background(), f.pk)
	require.NoError(t, err)
	assert.False(t, ok, "an empty result is not cached")
}

func TestInitializeForUserConnectsWholeRelayList(t *testing.T) {
	f := newFixture(t)
	f.publishRelayList(t)

	require.NoError(t, f.discovery.InitializeForUser(context.Background(), f.pk))

	// connectAndWait returns on the first connection; the rest settle shortly after
	assert.Eventually(t, func() bool {
		return len(f.manager.Connected()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{preferredRelay, writeOnlyRelay}, f.manager.Connected())
	assert.Equal(t, 1, f.transport.Dials(writeOnlyRelay))
}

func TestInitializeForUserWithoutRelayList(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.discovery.InitializeForUser(context.Background(), f.pk))
	assert.Equal(t, []string{bootstrapRelay}, f.manager.Connected())
}

func TestInitializeForUserFallsBackToBootstrap(t *testing.T) {
	f := newFixture(t)
	f.publishRelayList(t)
	f.transport.Fail(preferredRelay, errors.New("connection refused"))
	f.transport.Fail(writeOnlyRelay, errors.New("connection refused"))

	require.NoError(t, f.discovery.InitializeForUser(context.Background(), f.pk))

	assert.Equal(t, []string{bootstrapRelay}, f.manager.Connected())
	assert.Equal(t, 1, f.transport.Dials(preferredRelay))
	assert.Equal(t, 1, f.transport.Dials(writeOnlyRelay))
}

func TestInitializeForUserNothingReachable(t *testing.T) {
	f := newFixture(t)
	f.transport.Fail(bootstrapRelay, errors.New("connection refused"))

	err := f.discovery.InitializeForUser(context.Background(), f.pk)
	assert.ErrorIs(t, err, relay.ErrNoRelaysReachable)
	assert.Empty(t, f.manager.Connected())
}
