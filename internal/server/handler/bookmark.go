package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// BookmarkService manages a viewer's bookmarks.
type BookmarkService interface {
	AddBookmark(ctx context.Context, viewer string, id uint64) error
	RemoveBookmark(ctx context.Context, viewer string, id uint64) error
	Bookmarks(ctx context.Context, viewer string) ([]uint64, error)
}

// BookmarkHandler serves /api/bookmarks.
type BookmarkHandler struct {
	bookmarks BookmarkService
	logger    *slog.Logger
}

// NewBookmarkHandler creates a BookmarkHandler.
func NewBookmarkHandler(bookmarks BookmarkService, logger *slog.Logger) *BookmarkHandler {
	return &BookmarkHandler{bookmarks: bookmarks, logger: logger}
}

// List returns the viewer's bookmarked ids.
// GET /api/bookmarks?viewer=
func (h *BookmarkHandler) List(w http.ResponseWriter, r *http.Request) {
	ids, err := h.bookmarks.Bookmarks(r.Context(), viewerParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list bookmarks", err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_ids": ids})
}

// Put bookmarks a market.
// PUT /api/bookmarks/{id}?viewer=
func (h *BookmarkHandler) Put(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, "add bookmark", h.bookmarks.AddBookmark)
}

// Delete removes a bookmark.
// DELETE /api/bookmarks/{id}?viewer=
func (h *BookmarkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, "remove bookmark", h.bookmarks.RemoveBookmark)
}

func (h *BookmarkHandler) change(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string, uint64) error) {
	id, err := marketID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	if err := fn(r.Context(), viewerParam(r), id); err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
