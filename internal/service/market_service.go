package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Poornadinethyapa/predictionm/internal/analytics"
	"github.com/Poornadinethyapa/predictionm/internal/domain"
	"github.com/Poornadinethyapa/predictionm/internal/query"
	"github.com/Poornadinethyapa/predictionm/internal/snapshot"
)

const etherPlaces = 4

// MarketView is a market decorated for one viewer at one instant.
type MarketView struct {
	domain.Market
	Status          domain.MarketStatus `json:"status"`
	TimeRemaining   string              `json:"time_remaining"`
	TotalStakedEth  string              `json:"total_staked_eth"`
	Probabilities   []string            `json:"probabilities"`
	ViewerStakes    []string            `json:"viewer_stakes,omitempty"`
	EstimatedPayout string              `json:"estimated_payout,omitempty"`
	Claimable       bool                `json:"claimable"`
	Bookmarked      bool                `json:"bookmarked"`
}

// MarketService answers listing, detail and statistics requests from the
// installed snapshots. The contract is read only when a viewer is seen for
// the first time or a refresh is requested.
type MarketService struct {
	refresher *snapshot.Refresher
	cache     domain.SnapshotCache
	bookmarks domain.BookmarkStore
	bus       domain.SignalBus
	archiver  domain.SnapshotArchiver
	logger    *slog.Logger
	now       func() time.Time
}

// NewMarketService creates a MarketService. cache, bus and archiver may be
// nil.
func NewMarketService(
	refresher *snapshot.Refresher,
	cache domain.SnapshotCache,
	bookmarks domain.BookmarkStore,
	bus domain.SignalBus,
	archiver domain.SnapshotArchiver,
	logger *slog.Logger,
) *MarketService {
	s := &MarketService{
		refresher: refresher,
		cache:     cache,
		bookmarks: bookmarks,
		bus:       bus,
		archiver:  archiver,
		logger:    logger.With(slog.String("component", "market_service")),
		now:       time.Now,
	}
	refresher.OnRefresh(s.onRefresh)
	return s
}

// onRefresh shares a freshly installed snapshot with other processes and
// live clients.
func (s *MarketService) onRefresh(ctx context.Context, snap *domain.Snapshot) {
	if s.cache != nil {
		if err := s.cache.Set(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "snapshot cache set failed",
				slog.String("viewer", snap.Viewer),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":          "snapshot",
			"viewer":         snap.Viewer,
			"markets":        len(snap.Markets),
			"reported_count": snap.ReportedCount,
			"skipped":        snap.Skipped,
			"fetched_at":     snap.FetchedAt.Format(time.RFC3339),
		})
		if err := s.bus.Publish(ctx, domain.ChannelSnapshot, evt); err != nil {
			s.logger.WarnContext(ctx, "publish snapshot event failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// Snapshot returns the installed snapshot for viewer. A viewer seen for the
// first time is served from the shared cache when possible, otherwise read
// from the contract.
func (s *MarketService) Snapshot(ctx context.Context, viewer string) (*domain.Snapshot, error) {
	if err := snapshot.ValidateViewer(viewer); err != nil {
		return nil, err
	}
	if snap := s.refresher.Current(viewer); snap != nil {
		return snap, nil
	}
	if s.cache != nil {
		snap, err := s.cache.Get(ctx, viewer)
		switch {
		case err == nil:
			s.refresher.Install(snap)
			return snap, nil
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "snapshot cache get failed",
				slog.String("viewer", viewer),
				slog.String("error", err.Error()),
			)
		}
	}
	return s.Refresh(ctx, viewer)
}

// Current returns the installed snapshot without any I/O.
func (s *MarketService) Current(viewer string) *domain.Snapshot {
	return s.refresher.Current(viewer)
}

// Refresh re-reads the contract for viewer.
func (s *MarketService) Refresh(ctx context.Context, viewer string) (*domain.Snapshot, error) {
	snap, err := s.refresher.Refresh(ctx, viewer)
	if err != nil {
		return nil, fmt.Errorf("market_service: refresh: %w", err)
	}
	return snap, nil
}

// RefreshWallet runs after a confirmed transaction. The wallet's snapshot is
// re-read, and so is the anonymous one if it has been installed.
func (s *MarketService) RefreshWallet(ctx context.Context, wallet string) {
	viewers := []string{wallet}
	if wallet != "" && s.refresher.Current("") != nil {
		viewers = append(viewers, "")
	}
	for _, v := range viewers {
		if _, err := s.Refresh(ctx, v); err != nil {
			s.logger.WarnContext(ctx, "post-transaction refresh failed",
				slog.String("viewer", v),
				slog.String("error", err.Error()),
			)
		}
	}
}

// RefreshAll re-reads every viewer with an installed snapshot. Contract
// events trigger it.
func (s *MarketService) RefreshAll(ctx context.Context) {
	for _, v := range s.refresher.Viewers() {
		if _, err := s.Refresh(ctx, v); err != nil {
			s.logger.WarnContext(ctx, "refresh failed",
				slog.String("viewer", v),
				slog.String("error", err.Error()),
			)
		}
	}
}

// List filters and sorts the viewer's snapshot. The snapshot the views were
// built from is returned with them.
func (s *MarketService) List(ctx context.Context, viewer string, q query.Query) ([]MarketView, *domain.Snapshot, error) {
	snap, err := s.Snapshot(ctx, viewer)
	if err != nil {
		return nil, nil, err
	}
	marks, err := s.bookmarkSet(ctx, viewer)
	if err != nil {
		return nil, nil, err
	}
	if q.BookmarkedOnly {
		ids := make([]uint64, 0, len(marks))
		for id := range marks {
			ids = append(ids, id)
		}
		q.Bookmarks = ids
	}

	now := s.now()
	markets := query.FilterAndSort(snap.Markets, snap.Stakes, viewer, q, now)
	out := make([]MarketView, len(markets))
	for i, m := range markets {
		if out[i], err = s.view(m, snap.Stakes, marks[m.ID], now); err != nil {
			return nil, nil, err
		}
	}
	return out, snap, nil
}

// Get returns one market by id, or domain.ErrNotFound.
func (s *MarketService) Get(ctx context.Context, viewer string, id uint64) (MarketView, error) {
	snap, err := s.Snapshot(ctx, viewer)
	if err != nil {
		return MarketView{}, err
	}
	m, ok := snap.Find(id)
	if !ok {
		return MarketView{}, fmt.Errorf("market_service: market %d: %w", id, domain.ErrNotFound)
	}
	marks, err := s.bookmarkSet(ctx, viewer)
	if err != nil {
		return MarketView{}, err
	}
	return s.view(m, snap.Stakes, marks[id], s.now())
}

// Resolvable lists the viewer's markets that are past their deadline and
// still unresolved.
func (s *MarketService) Resolvable(ctx context.Context, viewer string) ([]MarketView, error) {
	if viewer == "" {
		return nil, domain.ErrNoViewer
	}
	snap, err := s.Snapshot(ctx, viewer)
	if err != nil {
		return nil, err
	}
	now := s.now()
	markets := query.Resolvable(snap.Markets, viewer, now)
	out := make([]MarketView, len(markets))
	for i, m := range markets {
		if out[i], err = s.view(m, snap.Stakes, false, now); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Stats computes the viewer's position statistics.
func (s *MarketService) Stats(ctx context.Context, viewer string) (*analytics.Stats, error) {
	if viewer == "" {
		return nil, domain.ErrNoViewer
	}
	snap, err := s.Snapshot(ctx, viewer)
	if err != nil {
		return nil, err
	}
	st, err := analytics.Compute(snap.Markets, snap.Stakes, viewer)
	if err != nil {
		return nil, fmt.Errorf("market_service: stats: %w", err)
	}
	return st, nil
}

// Claimable returns the ids the viewer can claim winnings from.
func (s *MarketService) Claimable(ctx context.Context, viewer string) ([]uint64, error) {
	if viewer == "" {
		return nil, domain.ErrNoViewer
	}
	snap, err := s.Snapshot(ctx, viewer)
	if err != nil {
		return nil, err
	}
	return analytics.Claimable(snap.Markets, snap.Stakes), nil
}

// Archive uploads the viewer's installed snapshot to cold storage.
func (s *MarketService) Archive(ctx context.Context, viewer string) (string, error) {
	if s.archiver == nil {
		return "", fmt.Errorf("market_service: archive: %w", ErrArchiveDisabled)
	}
	snap, err := s.Snapshot(ctx, viewer)
	if err != nil {
		return "", err
	}
	path, err := s.archiver.Archive(ctx, snap)
	if err != nil {
		return "", fmt.Errorf("market_service: archive: %w", err)
	}
	s.logger.InfoContext(ctx, "snapshot archived",
		slog.String("path", path),
		slog.Int("markets", len(snap.Markets)),
	)
	return path, nil
}

// Archived lists the archive objects written on day.
func (s *MarketService) Archived(ctx context.Context, day time.Time) ([]domain.BlobInfo, error) {
	if s.archiver == nil {
		return nil, fmt.Errorf("market_service: archive: %w", ErrArchiveDisabled)
	}
	return s.archiver.List(ctx, day)
}

// LoadArchived reads one archived snapshot. Only paths under snapshots/ are
// accepted.
func (s *MarketService) LoadArchived(ctx context.Context, path string) (*domain.Snapshot, error) {
	if s.archiver == nil {
		return nil, fmt.Errorf("market_service: archive: %w", ErrArchiveDisabled)
	}
	if !strings.HasPrefix(path, "snapshots/") || !strings.HasSuffix(path, ".jsonl") || strings.Contains(path, "..") {
		return nil, fmt.Errorf("%w: invalid archive path %q", domain.ErrValidation, path)
	}
	snap, err := s.archiver.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("market_service: load archive: %w", err)
	}
	return snap, nil
}

// AddBookmark marks id for viewer. Unknown ids are rejected.
func (s *MarketService) AddBookmark(ctx context.Context, viewer string, id uint64) error {
	if viewer == "" {
		return domain.ErrNoViewer
	}
	snap, err := s.Snapshot(ctx, viewer)
	if err != nil {
		return err
	}
	if _, ok := snap.Find(id); !ok {
		return fmt.Errorf("market_service: bookmark %d: %w", id, domain.ErrNotFound)
	}
	if err := s.bookmarks.Add(ctx, domain.NormalizeAddress(viewer), id); err != nil {
		return fmt.Errorf("market_service: bookmark %d: %w", id, err)
	}
	return nil
}

// RemoveBookmark clears id for viewer.
func (s *MarketService) RemoveBookmark(ctx context.Context, viewer string, id uint64) error {
	if viewer == "" {
		return domain.ErrNoViewer
	}
	if err := snapshot.ValidateViewer(viewer); err != nil {
		return err
	}
	if err := s.bookmarks.Remove(ctx, domain.NormalizeAddress(viewer), id); err != nil {
		return fmt.Errorf("market_service: remove bookmark %d: %w", id, err)
	}
	return nil
}

// Bookmarks lists the viewer's bookmarked ids.
func (s *MarketService) Bookmarks(ctx context.Context, viewer string) ([]uint64, error) {
	if viewer == "" {
		return nil, domain.ErrNoViewer
	}
	if err := snapshot.ValidateViewer(viewer); err != nil {
		return nil, err
	}
	ids, err := s.bookmarks.List(ctx, domain.NormalizeAddress(viewer))
	if err != nil {
		return nil, fmt.Errorf("market_service: list bookmarks: %w", err)
	}
	return ids, nil
}

func (s *MarketService) bookmarkSet(ctx context.Context, viewer string) (map[uint64]bool, error) {
	if viewer == "" || s.bookmarks == nil {
		return map[uint64]bool{}, nil
	}
	ids, err := s.Bookmarks(ctx, viewer)
	if err != nil {
		return nil, err
	}
	set := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func (s *MarketService) view(m domain.Market, stakes domain.ViewerStakes, bookmarked bool, now time.Time) (MarketView, error) {
	probs, err := analytics.Probabilities(m)
	if err != nil {
		return MarketView{}, fmt.Errorf("market_service: market %d: %w", m.ID, err)
	}
	v := MarketView{
		Market:         m,
		Status:         m.Status(now),
		TimeRemaining:  query.TimeRemaining(m.Deadline, now),
		TotalStakedEth: domain.FormatEther(m.TotalStaked, etherPlaces),
		Probabilities:  probs,
		Bookmarked:     bookmarked,
	}
	if stakes.HasPosition(m.ID) {
		v.ViewerStakes = make([]string, len(m.Outcomes))
		for i := range m.Outcomes {
			v.ViewerStakes[i] = domain.FormatEther(stakes.Stake(m.ID, i), etherPlaces)
		}
	}
	if m.Resolved {
		if win := stakes.Stake(m.ID, m.WinningOutcome); win.Sign() > 0 {
			payout, err := analytics.EstimatedPayout(m, win)
			if err != nil {
				return MarketView{}, fmt.Errorf("market_service: %w", err)
			}
			v.EstimatedPayout = payout
			v.Claimable = true
		}
	}
	return v, nil
}
