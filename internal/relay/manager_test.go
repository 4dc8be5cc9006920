package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/relay"
	"github.com/MrSnakeDoc/nostrmarks/internal/relay/relaytest"
)

const (
	relayA = "wss://a.relay.test"
	relayB = "wss://b.relay.test"
	delay  = 5 * time.Second
)

var errRefused = errors.New("connection refused")

func newManager(t *testing.T, maxAttempts int) (*relay.Manager, *relaytest.Transport, *clock.Mock) {
	t.Helper()
	tr := relaytest.NewTransport()
	tr.AddRelay(relayA)
	tr.AddRelay(relayB)

	mock := clock.NewMock()
	m := relay.NewManager(tr, relay.Options{
		ReconnectDelay:       delay,
		MaxReconnectAttempts: maxAttempts,
		AllowPrivateNetworks: true,
		Clock:                mock,
	}, logger.NewNop())
	t.Cleanup(func() { _ = m.Close() })
	return m, tr, mock
}

func status(t *testing.T, m *relay.Manager, url string) domain.RelayRecord {
	t.Helper()
	rec, ok := m.Status(url)
	require.True(t, ok, "no record for %s", url)
	return rec
}

func TestConnectMixedOutcome(t *testing.T) {
	m, tr, _ := newManager(t, 0)
	tr.Fail(relayB, errRefused)

	outcomes, err := m.Connect(context.Background(), []string{relayA, relayB})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.NoError(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[1].Err, errRefused)

	assert.Equal(t, []string{relayA}, m.Connected())

	a := status(t, m, relayA)
	assert.Equal(t, domain.StatusConnected, a.Status)
	assert.True(t, a.IsTarget)

	b := status(t, m, relayB)
	assert.Equal(t, domain.StatusError, b.Status)
	assert.Contains(t, b.LastError, "connection refused")
	assert.Equal(t, 1, b.Attempts)
	assert.False(t, b.NextRetryAt.IsZero(), "failed target should have a reconnect scheduled")
}

func TestConnectNothingReachable(t *testing.T) {
	m, tr, _ := newManager(t, 0)
	tr.Fail(relayA, errRefused)
	tr.Fail(relayB, errRefused)

	_, err := m.Connect(context.Background(), []string{relayA, relayB})
	require.Error(t, err)
	assert.ErrorIs(t, err, relay.ErrNoRelaysReachable)
	assert.ErrorIs(t, err, errRefused)
}

func TestConnectRejectsUnsafeURL(t *testing.T) {
	m, _, _ := newManager(t, 0)

	outcomes, err := m.Connect(context.Background(), []string{"https://not-a-relay.test"})
	assert.ErrorIs(t, err, relay.ErrNoRelaysReachable)
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Err, relay.ErrUnsafeURL)
	assert.Empty(t, m.Statuses())
}

func TestConnectIsIdempotent(t *testing.T) {
	m, tr, _ := newManager(t, 0)

	for i := 0; i < 3; i++ {
		_, err := m.Connect(context.Background(), []string{relayA})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, tr.Dials(relayA))
}

func TestConcurrentConnectDialsOnce(t *testing.T) {
	m, tr, _ := newManager(t, 0)
	release := tr.Gate(relayA)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Connect(context.Background(), []string{relayA})
		}(i)
	}

	require.Eventually(t, func() bool { return tr.InFlight() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, domain.StatusConnecting, status(t, m, relayA).Status)

	release()
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, tr.Dials(relayA))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	m, tr, _ := newManager(t, 0)
	_, err := m.Connect(context.Background(), []string{relayA})
	require.NoError(t, err)

	require.NoError(t, m.Disconnect(context.Background(), relayA))
	require.NoError(t, m.Disconnect(context.Background(), relayA))

	assert.Equal(t, 1, tr.Closes(relayA))
	rec := status(t, m, relayA)
	assert.Equal(t, domain.StatusDisconnected, rec.Status)
	assert.False(t, rec.IsTarget)
	assert.Empty(t, m.Connected())
}

func TestDisconnectUnknownRelay(t *testing.T) {
	m, _, _ := newManager(t, 0)
	assert.NoError(t, m.Disconnect(context.Background(), relayA))
}

func TestDisconnectDuringDial(t *testing.T) {
	m, tr, _ := newManager(t, 0)
	release := tr.Gate(relayA)

	done := make(chan []relay.ConnectOutcome, 1)
	go func() {
		outcomes, _ := m.Connect(context.Background(), []string{relayA})
		done <- outcomes
	}()
	require.Eventually(t, func() bool { return tr.InFlight() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Disconnect(context.Background(), relayA))
	release()

	outcomes := <-done
	assert.ErrorIs(t, outcomes[0].Err, relay.ErrDisconnected)
	assert.Equal(t, 1, tr.Closes(relayA), "the late connection must be closed")
	assert.Equal(t, domain.StatusDisconnected, status(t, m, relayA).Status)
	assert.Empty(t, m.Connected())
}

func TestReconnectFiresAfterDelay(t *testing.T) {
	m, tr, mock := newManager(t, 0)
	tr.Fail(relayA, errRefused)

	_, err := m.Connect(context.Background(), []string{relayA})
	require.ErrorIs(t, err, relay.ErrNoRelaysReachable)

	tr.Fail(relayA, nil)
	mock.Add(delay)

	require.Eventually(t, func() bool {
		return status(t, m, relayA).Status == domain.StatusConnected
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, tr.Dials(relayA))
	assert.True(t, status(t, m, relayA).NextRetryAt.IsZero())
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	m, tr, mock := newManager(t, 0)
	tr.Fail(relayA, errRefused)

	_, _ = m.Connect(context.Background(), []string{relayA})
	require.False(t, status(t, m, relayA).NextRetryAt.IsZero())

	require.NoError(t, m.Disconnect(context.Background(), relayA))
	tr.Fail(relayA, nil)
	mock.Add(3 * delay)

	assert.Never(t, func() bool { return tr.Dials(relayA) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	rec := status(t, m, relayA)
	assert.Equal(t, domain.StatusDisconnected, rec.Status)
	assert.True(t, rec.NextRetryAt.IsZero())
}

func TestMaxReconnectAttempts(t *testing.T) {
	m, tr, mock := newManager(t, 2)
	tr.Fail(relayA, errRefused)

	_, _ = m.Connect(context.Background(), []string{relayA})
	mock.Add(delay)

	require.Eventually(t, func() bool { return status(t, m, relayA).Attempts == 2 }, time.Second, time.Millisecond)
	assert.True(t, status(t, m, relayA).NextRetryAt.IsZero(), "no task after the last allowed attempt")

	mock.Add(3 * delay)
	assert.Never(t, func() bool { return tr.Dials(relayA) > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestConnectionLossSchedulesReconnect(t *testing.T) {
	m, tr, mock := newManager(t, 0)
	_, err := m.Connect(context.Background(), []string{relayA})
	require.NoError(t, err)

	var mu sync.Mutex
	var closed []string
	m.OnClose(func(url string) {
		mu.Lock()
		closed = append(closed, url)
		mu.Unlock()
	})

	tr.Drop(relayA)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(closed) == 1
	}, time.Second, time.Millisecond)

	rec := status(t, m, relayA)
	assert.Equal(t, domain.StatusError, rec.Status)
	assert.Equal(t, "connection lost", rec.LastError)
	assert.False(t, rec.NextRetryAt.IsZero())

	mock.Add(delay)
	require.Eventually(t, func() bool {
		return status(t, m, relayA).Status == domain.StatusConnected
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, tr.Dials(relayA))
}

func TestReconnectForcesRedial(t *testing.T) {
	m, tr, _ := newManager(t, 0)
	_, err := m.Connect(context.Background(), []string{relayA})
	require.NoError(t, err)

	outcomes, err := m.Reconnect(context.Background(), []string{relayA, relayB})
	require.NoError(t, err)
	require.Len(t, outcomes, 1, "unknown relays are skipped")

	assert.Equal(t, 2, tr.Dials(relayA))
	assert.Equal(t, 1, tr.Closes(relayA))
	assert.Equal(t, []string{relayA}, m.Connected())
}

func TestTransientHandles(t *testing.T) {
	m, tr, mock := newManager(t, 0)

	_, err := m.Connect(context.Background(), []string{relayA})
	require.NoError(t, err)

	conn, err := m.Handle(context.Background(), relayB)
	require.NoError(t, err)
	assert.Equal(t, relayB, conn.URL())
	assert.False(t, status(t, m, relayB).IsTarget)
	assert.Equal(t, []string{relayA}, m.Connected(), "transient handles are not part of the connected set")

	again, err := m.Handle(context.Background(), relayB)
	require.NoError(t, err)
	assert.Same(t, conn, again)
	assert.Equal(t, 1, tr.Dials(relayB))

	mock.Add(3 * time.Minute)
	assert.Equal(t, 1, m.PruneTransient(2*time.Minute))
	assert.Equal(t, 1, tr.Closes(relayB))
	assert.Equal(t, 0, tr.Closes(relayA), "targets are never pruned")
	assert.Equal(t, domain.StatusDisconnected, status(t, m, relayB).Status)

	// a transient connection that drops is not reconnected
	_, err = m.Handle(context.Background(), relayB)
	require.NoError(t, err)
	tr.Drop(relayB)
	require.Eventually(t, func() bool { return status(t, m, relayB).Status == domain.StatusError }, time.Second, time.Millisecond)
	assert.True(t, status(t, m, relayB).NextRetryAt.IsZero())
}

func TestConnectPromotesTransient(t *testing.T) {
	m, tr, _ := newManager(t, 0)

	_, err := m.Handle(context.Background(), relayA)
	require.NoError(t, err)

	_, err = m.Connect(context.Background(), []string{relayA})
	require.NoError(t, err)
	assert.True(t, status(t, m, relayA).IsTarget)
	assert.Equal(t, 1, tr.Dials(relayA))
}

func TestDisconnectAllDropsRecords(t *testing.T) {
	m, tr, _ := newManager(t, 0)
	_, err := m.Connect(context.Background(), []string{relayA, relayB})
	require.NoError(t, err)

	require.NoError(t, m.DisconnectAll(context.Background()))
	assert.Empty(t, m.Statuses())
	assert.Equal(t, 1, tr.Closes(relayA))
	assert.Equal(t, 1, tr.Closes(relayB))
}

func TestStatusBroadcast(t *testing.T) {
	m, _, _ := newManager(t, 0)

	var mu sync.Mutex
	var snapshots [][]domain.RelayRecord
	unsubscribe := m.Subscribe(func(s []domain.RelayRecord) {
		mu.Lock()
		snapshots = append(snapshots, s)
		mu.Unlock()
	})

	mu.Lock()
	require.Len(t, snapshots, 1, "current snapshot is delivered on subscribe")
	assert.Empty(t, snapshots[0])
	mu.Unlock()

	_, err := m.Connect(context.Background(), []string{relayA})
	require.NoError(t, err)

	mu.Lock()
	last := snapshots[len(snapshots)-1]
	seen := len(snapshots)
	mu.Unlock()
	require.Len(t, last, 1)
	assert.Equal(t, domain.StatusConnected, last[0].Status)

	unsubscribe()
	unsubscribe()

	require.NoError(t, m.Disconnect(context.Background(), relayA))
	mu.Lock()
	assert.Equal(t, seen, len(snapshots), "no delivery after unsubscribe")
	mu.Unlock()
}
