package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Poornadinethyapa/predictionm/internal/analytics"
	"github.com/Poornadinethyapa/predictionm/internal/domain"
	"github.com/Poornadinethyapa/predictionm/internal/query"
	"github.com/Poornadinethyapa/predictionm/internal/service"
)

// MarketService is the read side the market handler needs.
type MarketService interface {
	List(ctx context.Context, viewer string, q query.Query) ([]service.MarketView, *domain.Snapshot, error)
	Get(ctx context.Context, viewer string, id uint64) (service.MarketView, error)
	Resolvable(ctx context.Context, viewer string) ([]service.MarketView, error)
	Stats(ctx context.Context, viewer string) (*analytics.Stats, error)
	Refresh(ctx context.Context, viewer string) (*domain.Snapshot, error)
}

// MarketHandler serves listings, deep links and viewer statistics.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

type listMarketsResponse struct {
	Markets   []service.MarketView `json:"markets"`
	Count     int                  `json:"count"`
	Skipped   []uint64             `json:"skipped,omitempty"`
	FetchedAt *time.Time           `json:"fetched_at,omitempty"`
}

// ListMarkets filters and sorts the viewer's snapshot.
// GET /api/markets?viewer=&q=&status=&my_bets=&sort=&bookmarked=
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	status, err := query.ParseStatus(params.Get("status"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	sortMode, err := query.ParseSort(params.Get("sort"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	viewer := viewerParam(r)
	q := query.Query{
		Search:         params.Get("q"),
		Status:         status,
		MyBets:         boolParam(r, "my_bets"),
		Sort:           sortMode,
		BookmarkedOnly: boolParam(r, "bookmarked"),
	}

	views, snap, err := h.markets.List(r.Context(), viewer, q)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	resp := listMarketsResponse{
		Markets:   views,
		Count:     len(views),
		Skipped:   snap.Skipped,
		FetchedAt: &snap.FetchedAt,
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMarket returns one market.
// GET /api/markets/{id}?viewer=
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	view, err := h.markets.Get(r.Context(), viewerParam(r), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListResolvable returns the viewer's markets awaiting resolution.
// GET /api/markets/resolvable?viewer=
func (h *MarketHandler) ListResolvable(w http.ResponseWriter, r *http.Request) {
	views, err := h.markets.Resolvable(r.Context(), viewerParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list resolvable", err)
		return
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: views, Count: len(views)})
}

// GetStats returns the viewer's position statistics.
// GET /api/stats?viewer=
func (h *MarketHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.markets.Stats(r.Context(), viewerParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Refresh re-reads the contract for the viewer.
// POST /api/refresh?viewer=
func (h *MarketHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.markets.Refresh(r.Context(), viewerParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets":        len(snap.Markets),
		"reported_count": snap.ReportedCount,
		"skipped":        snap.Skipped,
		"fetched_at":     snap.FetchedAt,
	})
}
