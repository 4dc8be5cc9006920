package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/nostrmarks/internal/bookmarks"
	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/nostrmarks/internal/keys"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/sources/homepage"
)

const defaultMaxImportSize = 1 << 20

type bookmarksResponse struct {
	Author     string                 `json:"author"`
	Entries    []domain.BookmarkEntry `json:"entries"`
	LastReload string                 `json:"last_reload,omitempty"`
}

type addRequest struct {
	Kind      domain.EntryKind `json:"kind"`
	URL       string           `json:"url,omitempty"`
	ID        string           `json:"id,omitempty"`
	RelayHint string           `json:"relay_hint,omitempty"`
	Title     string           `json:"title,omitempty"`
}

type importResponse struct {
	Added int `json:"added"`
}

// ListBookmarks serves the local view. ?fresh=1, or an empty view, fetches from relays first.
func ListBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, ok := d.Index.Bookmarks(d.Author)
		if !ok || r.URL.Query().Get("fresh") == "1" {
			fetched, err := d.Bookmarks.FetchBookmarks(r.Context(), d.Author)
			if err != nil {
				d.Logger.Warn("bookmark fetch failed", logger.Error(err))
				writeError(w, bookmarkErrorStatus(err), err.Error())
				return
			}
			d.Index.Update(d.Author, fetched)
			entries = fetched
		}
		if entries == nil {
			entries = []domain.BookmarkEntry{}
		}

		resp := bookmarksResponse{Author: d.Author, Entries: entries}
		if t := d.Index.LastReload(d.Author); !t.IsZero() {
			resp.LastReload = t.Format(time.RFC3339)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// DeleteBookmark hides the entry right away and puts it back if the delete fails
func DeleteBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// website ids are URLs and arrive escaped
		id, err := url.PathUnescape(chi.URLParam(r, "id"))
		if err != nil || id == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}

		revert, _ := d.Index.Remove(d.Author, id)
		if err := d.Bookmarks.DeleteBookmark(r.Context(), id, d.Author, d.Signer); err != nil {
			revert()
			d.Logger.Warn("bookmark delete failed", logger.String("id", id), logger.Error(err))
			writeError(w, bookmarkErrorStatus(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AddBookmark adds a website (url) or note (id) bookmark, optimistically like DeleteBookmark
func AddBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}

		var entry domain.BookmarkEntry
		switch req.Kind {
		case domain.EntryWebsite, "":
			entry = domain.NewWebsiteEntry(req.URL, req.Title)
		case domain.EntryNote:
			entry = domain.NewNoteEntry(req.ID, req.RelayHint, req.Title)
		default:
			writeError(w, http.StatusBadRequest, "kind must be website or note")
			return
		}

		revert := d.Index.Upsert(d.Author, entry)
		if err := d.Bookmarks.AddBookmark(r.Context(), entry, d.Author, d.Signer); err != nil {
			revert()
			d.Logger.Warn("bookmark add failed", logger.String("id", entry.ID), logger.Error(err))
			writeError(w, bookmarkErrorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

// ImportBookmarks reads a Homepage bookmarks.yaml from the request body and adds its links
func ImportBookmarks(d deps.Deps) http.HandlerFunc {
	limit := d.MaxImportSize
	if limit <= 0 {
		limit = defaultMaxImportSize
	}

	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}

		config, err := homepage.Parse(data)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entries, err := homepage.MapBookmarks(config)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		added, err := d.Bookmarks.ImportBookmarks(r.Context(), entries, d.Author, d.Signer)
		switch {
		case errors.Is(err, bookmarks.ErrNothingToImport):
			writeJSON(w, http.StatusOK, importResponse{Added: 0})
			return
		case err != nil:
			d.Logger.Warn("bookmark import failed", logger.Error(err))
			writeError(w, bookmarkErrorStatus(err), err.Error())
			return
		}

		// pick the new entries up without waiting for the next tick
		select {
		case d.ReloadTrigger <- struct{}{}:
		default:
		}
		writeJSON(w, http.StatusOK, importResponse{Added: added})
	}
}

func bookmarkErrorStatus(err error) int {
	switch {
	case errors.Is(err, bookmarks.ErrBookmarkNotFound):
		return http.StatusNotFound
	case errors.Is(err, bookmarks.ErrInvalidEntry):
		return http.StatusBadRequest
	case errors.Is(err, keys.ErrNoSigner), errors.Is(err, bookmarks.ErrAuthorMismatch):
		return http.StatusForbidden
	case errors.Is(err, bookmarks.ErrPublishFailed):
		return http.StatusBadGateway
	case errors.Is(err, bookmarks.ErrListUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
