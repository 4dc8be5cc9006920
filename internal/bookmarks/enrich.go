package bookmarks

import (
	"context"
	"errors"
	"slices"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
)

var errNoteNotFound = errors.New("note not found")

// enrich fills Content on note entries in place. Lookups that fail leave the entry as is.
func (s *Synchronizer) enrich(ctx context.Context, entries []domain.BookmarkEntry) {
	var g errgroup.Group
	g.SetLimit(defaultEnrichConcurrency)

	for i := range entries {
		if !entries[i].IsNote() || entries[i].Content != "" {
			continue
		}
		i := i
		g.Go(func() error {
			content, err := s.noteContent(ctx, entries[i].ReferencedRecordID, entries[i].RelayHint)
			if err != nil {
				s.log.Debug("note enrichment failed",
					logger.String("note", entries[i].ReferencedRecordID),
					logger.Error(err))
				return nil
			}
			entries[i].Content = content
			return nil
		})
	}
	_ = g.Wait()
}

// noteContent looks a note up on the connected relays, then on the public relays and the hint.
// Concurrent lookups of one id share a single query; found contents are memoized.
func (s *Synchronizer) noteContent(ctx context.Context, id, hint string) (string, error) {
	if content, ok := s.notes.Get(id); ok {
		return content, nil
	}

	v, err, _ := s.flight.Do(id, func() (any, error) {
		filters := nostr.Filters{{IDs: []string{id}, Limit: 1}}

		connected := s.relays.Connected()
		if evt := findByID(s.query.Query(ctx, connected, filters, s.opts.EnrichTimeout), id); evt != nil {
			return evt.Content, nil
		}

		var fallback []string
		for _, url := range s.opts.Public {
			if !slices.Contains(connected, url) {
				fallback = append(fallback, url)
			}
		}
		if url, ok := domain.NormalizeRelayURL(hint); ok && !slices.Contains(connected, url) && !slices.Contains(fallback, url) {
			fallback = append(fallback, url)
		}
		if len(fallback) == 0 {
			return "", errNoteNotFound
		}

		if evt := findByID(s.query.Query(ctx, fallback, filters, s.opts.EnrichTimeout), id); evt != nil {
			return evt.Content, nil
		}
		return "", errNoteNotFound
	})
	if err != nil {
		return "", err
	}

	content := v.(string)
	s.notes.Add(id, content)
	return content, nil
}

func findByID(events []nostr.Event, id string) *nostr.Event {
	for i := range events {
		if events[i].ID == id {
			return &events[i]
		}
	}
	return nil
}
