package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/nostrmarks/internal/cache"
	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
)

// newTestStore connects to NOSTRMARKS_TEST_REDIS_ADDR, skipping when unset.
// The test database is flushed before and after.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("NOSTRMARKS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NOSTRMARKS_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() { _ = client.Close() })

	s := NewStore(client, time.Minute)
	require.NoError(t, s.Flush(context.Background()))
	t.Cleanup(func() { _ = s.Flush(context.Background()) })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Bookmarks(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	relays := []domain.RelayListEntry{{URL: "wss://a.relay.test", Read: true}}
	require.NoError(t, s.SetRelayList(ctx, "alice", relays))

	snap := cache.BookmarkSnapshot{
		Entries:   []domain.BookmarkEntry{domain.NewWebsiteEntry("https://a.com", "A")},
		RecordID:  "rec1",
		CreatedAt: 150,
		FetchedAt: time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, s.SetBookmarks(ctx, "bob", snap))

	gotRelays, ok, err := s.RelayList(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, relays, gotRelays)

	gotSnap, ok, err := s.Bookmarks(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.RecordID, gotSnap.RecordID)
	assert.Equal(t, snap.Entries[0].ID, gotSnap.Entries[0].ID)
	assert.True(t, snap.FetchedAt.Equal(gotSnap.FetchedAt))

	authors, err := s.Authors(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, authors)
}
