package bookmarks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/keys"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/metrics"
)

var errNoConnectedRelays = errors.New("no connected relays")

// DeleteBookmark removes the entry with the given id from the author's list and republishes it.
// It fails with ErrBookmarkNotFound or ErrListUnavailable (nothing published) or ErrPublishFailed; everything else
// that can go wrong after publishing is only logged.
func (s *Synchronizer) DeleteBookmark(ctx context.Context, id, author string, signer keys.Signer) error {
	return s.mutate(ctx, "delete", author, signer, func(entries []domain.BookmarkEntry) ([]domain.BookmarkEntry, error) {
		i := domain.IndexOf(entries, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrBookmarkNotFound, id)
		}
		return slices.Delete(entries, i, i+1), nil
	}, func(entries []domain.BookmarkEntry) bool {
		return domain.IndexOf(entries, id) < 0
	})
}

// AddBookmark appends entry to the author's list, or replaces the entry with the same id in place.
func (s *Synchronizer) AddBookmark(ctx context.Context, entry domain.BookmarkEntry, author string, signer keys.Signer) error {
	if err := validate(entry); err != nil {
		return err
	}

	return s.mutate(ctx, "add", author, signer, func(entries []domain.BookmarkEntry) ([]domain.BookmarkEntry, error) {
		if i := domain.IndexOf(entries, entry.ID); i >= 0 {
			entries[i] = entry
			return entries, nil
		}
		return append(entries, entry), nil
	}, func(entries []domain.BookmarkEntry) bool {
		return domain.IndexOf(entries, entry.ID) >= 0
	})
}

// ImportBookmarks appends every entry whose id is not on the list yet, in one publish,
// and returns how many were added. Entries already present are left untouched.
func (s *Synchronizer) ImportBookmarks(ctx context.Context, entries []domain.BookmarkEntry, author string, signer keys.Signer) (int, error) {
	for _, e := range entries {
		if err := validate(e); err != nil {
			return 0, err
		}
	}

	added := 0
	err := s.mutate(ctx, "import", author, signer, func(current []domain.BookmarkEntry) ([]domain.BookmarkEntry, error) {
		added = 0
		for _, e := range entries {
			if domain.IndexOf(current, e.ID) < 0 {
				current = append(current, e)
				added++
			}
		}
		if added == 0 {
			return nil, ErrNothingToImport
		}
		return current, nil
	}, func(current []domain.BookmarkEntry) bool {
		for _, e := range entries {
			if domain.IndexOf(current, e.ID) < 0 {
				return false
			}
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func validate(e domain.BookmarkEntry) error {
	switch e.Kind {
	case domain.EntryWebsite:
		if !domain.IsWebURL(e.URL) || e.ID != e.URL {
			return fmt.Errorf("%w: website needs an http(s) url as id", ErrInvalidEntry)
		}
	case domain.EntryNote:
		if e.ReferencedRecordID == "" || e.ID != e.ReferencedRecordID {
			return fmt.Errorf("%w: note needs a record id", ErrInvalidEntry)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, e.Kind)
	}
	return nil
}

// mutate is the shared pipeline: fresh resolve, change, sign, publish, schedule verification.
// landed reports whether a later fetch reflects the change.
func (s *Synchronizer) mutate(
	ctx context.Context,
	op, author string,
	signer keys.Signer,
	change func([]domain.BookmarkEntry) ([]domain.BookmarkEntry, error),
	landed func([]domain.BookmarkEntry) bool,
) (err error) {
	defer func() {
		s.opts.Metrics.BookmarkOps.WithLabelValues(op, metrics.Result(err)).Inc()
	}()

	if signer == nil {
		return keys.ErrNoSigner
	}
	if signer.PublicKey() != author {
		return ErrAuthorMismatch
	}

	res := s.resolve(ctx, author)
	if err := ctx.Err(); err != nil {
		return err
	}
	if !res.answered {
		return ErrListUnavailable
	}

	next, err := change(res.entries)
	if err != nil {
		return err
	}

	evt := nostr.Event{
		Kind:      domain.KindBookmarkList,
		CreatedAt: s.nextTimestamp(author, res.latest),
		Tags:      domain.EncodeBookmarkTags(next),
		Content:   "",
	}
	if err := signer.Sign(&evt); err != nil {
		return fmt.Errorf("sign bookmark list: %w", err)
	}

	accepted, err := s.publish(ctx, evt)
	if accepted == 0 {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	if err != nil {
		s.log.Warn("some relays rejected the bookmark list",
			logger.Author(author),
			logger.Int("accepted", accepted),
			logger.Error(err))
	}

	s.observe(author, evt.CreatedAt)
	s.log.Info("bookmark list published",
		logger.String("op", op),
		logger.Author(author),
		logger.Record(evt.ID),
		logger.Int("entries", len(next)),
		logger.Int("accepted", accepted))

	s.verifyLater(op, author, evt.ID, landed)
	return nil
}

// nextTimestamp returns max(latest observed + 1, now) so the new record beats every copy seen.
func (s *Synchronizer) nextTimestamp(author string, latest nostr.Timestamp) nostr.Timestamp {
	if seen, ok := s.observed(author); ok && seen > latest {
		latest = seen
	}
	now := domain.Timestamp(s.clock.Now())
	if latest+1 > now {
		return latest + 1
	}
	return now
}

// publish sends evt to every connected relay concurrently and returns how many accepted it.
// One relay failing never stops the others.
func (s *Synchronizer) publish(ctx context.Context, evt nostr.Event) (int, error) {
	relays := s.relays.Connected()
	if len(relays) == 0 {
		return 0, errNoConnectedRelays
	}

	var (
		mu       sync.Mutex
		accepted int
		errs     error
		g        errgroup.Group
	)
	for _, url := range relays {
		url := url
		g.Go(func() error {
			err := s.publishOne(ctx, url, evt)
			s.opts.Metrics.Publishes.WithLabelValues(metrics.Result(err)).Inc()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", url, err))
				return nil
			}
			accepted++
			return nil
		})
	}
	_ = g.Wait()
	return accepted, errs
}

func (s *Synchronizer) publishOne(ctx context.Context, url string, evt nostr.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.PublishTimeout)
	defer cancel()

	conn, err := s.relays.Handle(ctx, url)
	if err != nil {
		return err
	}
	return conn.Publish(ctx, evt)
}

// verifyLater re-fetches after VerifyDelay and warns when the change is not visible yet.
// It runs in the background; divergence is expected to heal and is never reported as an error.
func (s *Synchronizer) verifyLater(op, author, recordID string, landed func([]domain.BookmarkEntry) bool) {
	if s.opts.VerifyDelay < 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := s.clock.Timer(s.opts.VerifyDelay)
		defer timer.Stop()
		select {
		case <-s.bg.Done():
			return
		case <-timer.C:
		}

		entries, err := s.FetchBookmarks(s.bg, author)
		if err != nil {
			return
		}
		if landed(entries) {
			s.log.Debug("bookmark change verified", logger.String("op", op), logger.Record(recordID))
			s.opts.Metrics.BookmarkOps.WithLabelValues("verify", metrics.ResultOK).Inc()
			return
		}
		s.log.Warn("bookmark change not visible yet, relays diverge",
			logger.String("op", op),
			logger.Author(author),
			logger.Record(recordID))
		s.opts.Metrics.BookmarkOps.WithLabelValues("verify", "diverged").Inc()
	}()
}
