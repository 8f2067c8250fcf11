package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

// ArchiveService lists and writes archived snapshots.
type ArchiveService interface {
	Archive(ctx context.Context, viewer string) (string, error)
	Archived(ctx context.Context, day time.Time) ([]domain.BlobInfo, error)
	LoadArchived(ctx context.Context, path string) (*domain.Snapshot, error)
}

// ArchiveHandler serves /api/archive.
type ArchiveHandler struct {
	archive ArchiveService
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archive ArchiveService, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archive: archive, logger: logger}
}

// List returns the objects archived on ?day=YYYY-MM-DD (UTC, default today).
// GET /api/archive
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	day := time.Now().UTC()
	if raw := r.URL.Query().Get("day"); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeServiceError(w, r, h.logger, "list archive",
				fmt.Errorf("%w: invalid day %q", domain.ErrValidation, raw))
			return
		}
		day = d
	}
	infos, err := h.archive.Archived(r.Context(), day)
	if err != nil {
		writeServiceError(w, r, h.logger, "list archive", err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"day": day.Format(time.DateOnly), "objects": infos})
}

// Create archives the viewer's current snapshot.
// POST /api/archive?viewer=
func (h *ArchiveHandler) Create(w http.ResponseWriter, r *http.Request) {
	path, err := h.archive.Archive(r.Context(), viewerParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "archive snapshot", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

// Get returns one archived snapshot.
// GET /api/archive/snapshot?path=
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.archive.LoadArchived(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		writeServiceError(w, r, h.logger, "load archive", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
