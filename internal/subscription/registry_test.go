package subscription_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/relay"
	"github.com/MrSnakeDoc/nostrmarks/internal/relay/relaytest"
	"github.com/MrSnakeDoc/nostrmarks/internal/subscription"
)

const (
	relayA = "wss://a.relay.test"
	relayB = "wss://b.relay.test"
)

type fixture struct {
	transport *relaytest.Transport
	manager   *relay.Manager
	registry  *subscription.Registry
	sk        string
	pk        string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tr := relaytest.NewTransport()
	tr.AddRelay(relayA)
	tr.AddRelay(relayB)

	m := relay.NewManager(tr, relay.Options{AllowPrivateNetworks: true, Clock: clock.NewMock()}, logger.NewNop())
	t.Cleanup(func() { _ = m.Close() })

	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	return &fixture{
		transport: tr,
		manager:   m,
		registry:  subscription.New(m, subscription.Options{}, logger.NewNop()),
		sk:        sk,
		pk:        pk,
	}
}

func (f *fixture) bookmarks() nostr.Filters {
	return nostr.Filters{{Kinds: []int{domain.KindBookmarkList}, Authors: []string{f.pk}}}
}

func ids(events []nostr.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestQueryMergesRelaysAndDedupes(t *testing.T) {
	f := newFixture(t)
	shared := relaytest.Sign(t, f.sk, domain.KindBookmarkList, 100, nil)
	onlyA := relaytest.Sign(t, f.sk, domain.KindBookmarkList, 150, nil)
	onlyB := relaytest.Sign(t, f.sk, domain.KindBookmarkList, 120, nil)

	f.transport.Relay(relayA).Store(shared, onlyA)
	f.transport.Relay(relayB).Store(shared, onlyB)

	got := f.registry.Query(context.Background(), []string{relayA, relayB}, f.bookmarks(), 2*time.Second)
	assert.ElementsMatch(t, []string{shared.ID, onlyA.ID, onlyB.ID}, ids(got))
}

func TestQueryDropsInvalidRecords(t *testing.T) {
	f := newFixture(t)
	good := relaytest.Sign(t, f.sk, domain.KindBookmarkList, 100, nil)
	tampered := relaytest.Sign(t, f.sk, domain.KindBookmarkList, 200, nil)
	tampered.Content = "changed after signing"

	f.transport.Relay(relayA).Store(good, tampered)

	got := f.registry.Query(context.Background(), []string{relayA}, f.bookmarks(), 2*time.Second)
	assert.Equal(t, []string{good.ID}, ids(got))
}

func TestQueryTimeoutClosesStreamOnce(t *testing.T) {
	f := newFixture(t)
	silent := f.transport.Relay(relayA)
	silent.Silence()

	start := time.Now()
	res := f.registry.Collect(context.Background(), []string{relayA}, f.bookmarks(), 2*time.Second)
	elapsed := time.Since(start)

	assert.Empty(t, res.Events)
	assert.Zero(t, res.Completed, "a relay that never sent EOSE did not complete")
	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
	assert.Less(t, elapsed, 3*time.Second)
	assert.Equal(t, int64(1), silent.StreamCloseCalls())
}

func TestQueryUnreachableRelayCountsAsDone(t *testing.T) {
	f := newFixture(t)
	f.transport.Fail(relayB, errors.New("refused"))
	rec := relaytest.Sign(t, f.sk, domain.KindBookmarkList, 100, nil)
	f.transport.Relay(relayA).Store(rec)

	start := time.Now()
	res := f.registry.Collect(context.Background(), []string{relayA, relayB}, f.bookmarks(), 5*time.Second)

	assert.Less(t, time.Since(start), time.Second, "an unreachable relay must not hold the query until the timeout")
	assert.Equal(t, []string{rec.ID}, ids(res.Events))
	assert.Equal(t, 1, res.Completed, "only the reachable relay completed")
	assert.Equal(t, int64(1), f.transport.Relay(relayA).StreamCloseCalls())
}

func TestSubscribeRequiresConnectedRelays(t *testing.T) {
	f := newFixture(t)

	_, err := f.registry.Subscribe(context.Background(), f.bookmarks(), func(string, nostr.Event) {})
	assert.ErrorIs(t, err, subscription.ErrNoConnectedRelays)
}

func TestSubscribeDeliversAndCloses(t *testing.T) {
	f := newFixture(t)
	rec := relaytest.Sign(t, f.sk, domain.KindBookmarkList, 100, nil)
	f.transport.Relay(relayA).Store(rec)
	f.transport.Relay(relayB).Store(rec)

	_, err := f.manager.Connect(context.Background(), []string{relayA, relayB})
	require.NoError(t, err)

	var mu sync.Mutex
	var got []string
	h, err := f.registry.Subscribe(context.Background(), f.bookmarks(), func(_ string, evt nostr.Event) {
		mu.Lock()
		got = append(got, evt.ID)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.registry.Active())
	assert.ElementsMatch(t, []string{relayA, relayB}, h.Relays())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)

	h.Close()
	h.Close()

	assert.Equal(t, 0, f.registry.Active())
	assert.Equal(t, int64(1), f.transport.Relay(relayA).StreamCloseCalls())
	assert.Equal(t, int64(1), f.transport.Relay(relayB).StreamCloseCalls())

	mu.Lock()
	assert.Equal(t, []string{rec.ID}, got, "a record seen on two relays is delivered once")
	mu.Unlock()
}

func TestDisconnectReleasesSubscriptionStreams(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Connect(context.Background(), []string{relayA, relayB})
	require.NoError(t, err)

	h, err := f.registry.Subscribe(context.Background(), f.bookmarks(), func(string, nostr.Event) {})
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, f.manager.Disconnect(context.Background(), relayA))

	assert.Equal(t, int64(1), f.transport.Relay(relayA).StreamCloseCalls())
	assert.Equal(t, []string{relayB}, h.Relays())
	assert.Equal(t, 1, f.registry.Active())
}
