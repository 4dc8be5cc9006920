package redis

import (
	"context"
	"fmt"

	"github.com/MrSnakeDoc/nostrmarks/internal/cache"
	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
)

// RelayList retrieves a cached relay list
func (s *Store) RelayList(ctx context.Context, author string) ([]domain.RelayListEntry, bool, error) {
	var entries []domain.RelayListEntry
	ok, err := s.getJSON(ctx, RelaysKey(author), &entries)
	if err != nil || !ok {
		return nil, false, err
	}
	return entries, true, nil
}

// SetRelayList caches an author's relay list
func (s *Store) SetRelayList(ctx context.Context, author string, entries []domain.RelayListEntry) error {
	return s.setJSON(ctx, RelaysKey(author), author, entries)
}

// Bookmarks retrieves a cached bookmark snapshot
func (s *Store) Bookmarks(ctx context.Context, author string) (cache.BookmarkSnapshot, bool, error) {
	var snap cache.BookmarkSnapshot
	ok, err := s.getJSON(ctx, BookmarksKey(author), &snap)
	if err != nil || !ok {
		return cache.BookmarkSnapshot{}, false, err
	}
	return snap, true, nil
}

// SetBookmarks caches an author's bookmark snapshot
func (s *Store) SetBookmarks(ctx context.Context, author string, snap cache.BookmarkSnapshot) error {
	return s.setJSON(ctx, BookmarksKey(author), author, snap)
}

// Authors returns the authors whose data has not expired yet.
// Members whose keys all expired are pruned from the set on the way.
func (s *Store) Authors(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, AllAuthorsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get authors: %w", err)
	}

	authors := make([]string, 0, len(members))
	for _, author := range members {
		n, err := s.client.Exists(ctx, RelaysKey(author), BookmarksKey(author)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check author %s: %w", author, err)
		}
		if n == 0 {
			if err := s.client.SRem(ctx, AllAuthorsKey(), author).Err(); err != nil {
				return nil, fmt.Errorf("failed to prune author %s: %w", author, err)
			}
			continue
		}
		authors = append(authors, author)
	}
	return authors, nil
}

// Flush removes every cached list
func (s *Store) Flush(ctx context.Context) error {
	for _, prefix := range []string{KeyPrefixRelays, KeyPrefixBookmarks} {
		iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to delete cache key: %w", err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to flush cache: %w", err)
		}
	}
	if err := s.client.Del(ctx, AllAuthorsKey()).Err(); err != nil {
		return fmt.Errorf("failed to flush authors: %w", err)
	}
	return nil
}
