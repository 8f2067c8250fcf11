package service_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
	"github.com/Poornadinethyapa/predictionm/internal/query"
	"github.com/Poornadinethyapa/predictionm/internal/service"
	"github.com/Poornadinethyapa/predictionm/internal/snapshot"
	"github.com/Poornadinethyapa/predictionm/internal/store/sqlite"
)

const (
	viewer = "0xA11cE00000000000000000000000000000000001"
	other  = "0xB0b0000000000000000000000000000000000002"
	eth    = int64(1_000_000_000_000_000_000)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeContract struct {
	markets    []domain.Market
	stakes     map[[2]uint64]int64
	countCalls atomic.Int32
}

func (f *fakeContract) MarketCount(context.Context) (uint64, error) {
	f.countCalls.Add(1)
	return uint64(len(f.markets)), nil
}

func (f *fakeContract) GetMarket(_ context.Context, id uint64) (domain.Market, error) {
	return f.markets[id], nil
}

func (f *fakeContract) UserStakeIn(_ context.Context, id uint64, _ string, outcome int) (*big.Int, error) {
	return big.NewInt(f.stakes[[2]uint64{id, uint64(outcome)}]), nil
}

func market(id uint64, owner string, deadline time.Time, pool ...int64) domain.Market {
	st := make([]*big.Int, len(pool))
	total := new(big.Int)
	for i, p := range pool {
		st[i] = big.NewInt(p)
		total.Add(total, st[i])
	}
	return domain.Market{
		ID:            id,
		Owner:         owner,
		Question:      "Question " + string(rune('A'+id)),
		Outcomes:      []string{"Yes", "No"},
		Deadline:      deadline,
		OutcomeStakes: st,
		TotalStaked:   total,
	}
}

func newContract() *fakeContract {
	now := time.Now()
	resolved := market(1, other, now.Add(-time.Hour), 2*eth, 2*eth)
	resolved.Resolved = true
	return &fakeContract{
		markets: []domain.Market{
			market(0, viewer, now.Add(48*time.Hour), 3*eth, eth),
			resolved,
			market(2, viewer, now.Add(-time.Minute), 0, 0),
		},
		stakes: map[[2]uint64]int64{
			{0, 0}: eth,
			{1, 0}: eth,
		},
	}
}

type memCache struct {
	mu   sync.Mutex
	data map[string]*domain.Snapshot
	sets int
}

func (c *memCache) Set(_ context.Context, snap *domain.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[domain.NormalizeAddress(snap.Viewer)] = snap
	c.sets++
	return nil
}

func (c *memCache) Get(_ context.Context, v string) (*domain.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.data[domain.NormalizeAddress(v)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snap, nil
}

func (c *memCache) Invalidate(_ context.Context, v string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, domain.NormalizeAddress(v))
	return nil
}

type recordingBus struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *recordingBus) StreamAppend(context.Context, string, []byte) error     { return nil }
func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fixture struct {
	contract  *fakeContract
	refresher *snapshot.Refresher
	cache     *memCache
	bus       *recordingBus
	svc       *service.MarketService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		contract: newContract(),
		cache:    &memCache{data: map[string]*domain.Snapshot{}},
		bus:      &recordingBus{},
	}
	f.refresher = snapshot.NewRefresher(snapshot.NewReader(f.contract, 1, discardLogger()), discardLogger())
	f.svc = service.NewMarketService(f.refresher, f.cache, store, f.bus, nil, discardLogger())
	return f
}

func TestMarketService_FirstSeenViewerReadsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	views, _, err := f.svc.List(ctx, viewer, query.Query{})
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, uint64(2), views[0].ID, "newest first")

	_, _, err = f.svc.List(ctx, viewer, query.Query{Status: query.StatusActive})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.contract.countCalls.Load())

	assert.Equal(t, 1, f.cache.sets)
	require.Equal(t, []string{domain.ChannelSnapshot}, f.bus.channels)
	var evt map[string]any
	require.NoError(t, json.Unmarshal(f.bus.payloads[0], &evt))
	assert.EqualValues(t, 3, evt["markets"])
}

func TestMarketService_ServesFromSharedCache(t *testing.T) {
	f := newFixture(t)
	cached := &domain.Snapshot{Viewer: viewer, Markets: f.contract.markets[:1], FetchedAt: time.Now()}
	require.NoError(t, f.cache.Set(context.Background(), cached))

	views, snap, err := f.svc.List(context.Background(), viewer, query.Query{})
	require.NoError(t, err)
	assert.Len(t, views, 1)
	assert.Zero(t, f.contract.countCalls.Load())
	assert.Same(t, cached, snap)
	assert.Same(t, cached, f.refresher.Current(viewer))
}

func TestMarketService_Views(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.svc.Get(ctx, viewer, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, v.Status)
	assert.Equal(t, []string{"75.0", "25.0"}, v.Probabilities)
	assert.Equal(t, "4.0000", v.TotalStakedEth)
	assert.Equal(t, []string{"1.0000", "0.0000"}, v.ViewerStakes)
	assert.False(t, v.Claimable)
	assert.True(t, strings.HasPrefix(v.TimeRemaining, "1d ") || strings.HasPrefix(v.TimeRemaining, "2d "))

	v, err = f.svc.Get(ctx, viewer, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, v.Status)
	assert.True(t, v.Claimable)
	assert.Equal(t, "2.0000", v.EstimatedPayout)

	_, err = f.svc.Get(ctx, viewer, 9)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketService_ViewerScopedCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Stats(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNoViewer)
	_, err = f.svc.Resolvable(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNoViewer)
	assert.ErrorIs(t, f.svc.AddBookmark(ctx, "", 1), domain.ErrNoViewer)

	st, err := f.svc.Stats(ctx, viewer)
	require.NoError(t, err)
	assert.Equal(t, 2, st.MarketsCreated)
	assert.Equal(t, 1, st.MarketsWon)
	assert.Equal(t, "100.0", st.WinRate)
	assert.Equal(t, "2.0000", st.TotalEarnings)

	res, err := f.svc.Resolvable(ctx, viewer)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, uint64(2), res[0].ID)

	ids, err := f.svc.Claimable(ctx, viewer)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids)
}

func TestMarketService_Bookmarks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.AddBookmark(ctx, viewer, 42), domain.ErrNotFound)
	require.NoError(t, f.svc.AddBookmark(ctx, viewer, 1))
	require.NoError(t, f.svc.AddBookmark(ctx, strings.ToLower(viewer), 1))

	ids, err := f.svc.Bookmarks(ctx, viewer)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids)

	views, _, err := f.svc.List(ctx, viewer, query.Query{BookmarkedOnly: true})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].Bookmarked)

	require.NoError(t, f.svc.RemoveBookmark(ctx, viewer, 1))
	views, _, err = f.svc.List(ctx, viewer, query.Query{BookmarkedOnly: true})
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestMarketService_RefreshWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Snapshot(ctx, "")
	require.NoError(t, err)
	_, err = f.svc.Snapshot(ctx, viewer)
	require.NoError(t, err)
	require.Equal(t, int32(2), f.contract.countCalls.Load())

	f.svc.RefreshWallet(ctx, viewer)
	assert.Equal(t, int32(4), f.contract.countCalls.Load(), "wallet and anonymous snapshots re-read")

	f.svc.RefreshAll(ctx)
	assert.Equal(t, int32(6), f.contract.countCalls.Load())
}

func TestMarketService_ArchiveDisabled(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Archive(context.Background(), viewer)
	assert.ErrorIs(t, err, service.ErrArchiveDisabled)
	_, err = f.svc.Archived(context.Background(), time.Now())
	assert.ErrorIs(t, err, service.ErrArchiveDisabled)
	_, err = f.svc.LoadArchived(context.Background(), "snapshots/x.jsonl")
	assert.ErrorIs(t, err, service.ErrArchiveDisabled)
}

type memArchive struct {
	stored map[string]*domain.Snapshot
}

func (m *memArchive) Archive(_ context.Context, snap *domain.Snapshot) (string, error) {
	path := "snapshots/" + domain.NormalizeAddress(snap.Viewer) + ".jsonl"
	m.stored[path] = snap
	return path, nil
}

func (m *memArchive) List(context.Context, time.Time) ([]domain.BlobInfo, error) {
	out := make([]domain.BlobInfo, 0, len(m.stored))
	for p := range m.stored {
		out = append(out, domain.BlobInfo{Path: p})
	}
	return out, nil
}

func (m *memArchive) Load(_ context.Context, path string) (*domain.Snapshot, error) {
	snap, ok := m.stored[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snap, nil
}

func TestMarketService_ArchiveRoundTrip(t *testing.T) {
	f := newFixture(t)
	arch := &memArchive{stored: map[string]*domain.Snapshot{}}
	svc := service.NewMarketService(f.refresher, nil, nil, nil, arch, discardLogger())
	ctx := context.Background()

	path, err := svc.Archive(ctx, viewer)
	require.NoError(t, err)

	got, err := svc.LoadArchived(ctx, path)
	require.NoError(t, err)
	assert.Same(t, f.refresher.Current(viewer), got)

	_, err = svc.LoadArchived(ctx, "snapshots/missing.jsonl")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	for _, bad := range []string{"", "config.toml", "snapshots/../secrets.jsonl", "snapshots/x.json"} {
		_, err = svc.LoadArchived(ctx, bad)
		assert.ErrorIs(t, err, domain.ErrValidation, bad)
	}
}

func TestMarketService_RejectsMalformedViewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Stats(ctx, "garbage")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, _, err = f.svc.List(ctx, "hello", query.Query{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.Bookmarks(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, f.svc.RemoveBookmark(ctx, "nobody", 1), domain.ErrValidation)

	assert.Zero(t, f.contract.countCalls.Load())
	assert.Empty(t, f.refresher.Viewers())
}

func TestTicker_UsesInstalledSnapshotsOnly(t *testing.T) {
	f := newFixture(t)
	bus := &recordingBus{}
	tk := service.NewTicker(f.refresher, bus, time.Millisecond, discardLogger())

	_, ok := tk.Build()
	assert.False(t, ok)
	require.NoError(t, tk.Publish(context.Background()))
	assert.Empty(t, bus.channels)

	now := time.Now()
	f.refresher.Install(&domain.Snapshot{
		Markets:   []domain.Market{market(5, other, now.Add(90*time.Minute), 1, 1)},
		FetchedAt: now,
	})
	require.NoError(t, tk.Publish(context.Background()))
	require.Equal(t, []string{domain.ChannelTick}, bus.channels)

	var tick service.Tick
	require.NoError(t, json.Unmarshal(bus.payloads[0], &tick))
	require.Len(t, tick.Markets, 1)
	assert.Equal(t, uint64(5), tick.Markets[0].ID)
	assert.Equal(t, domain.StatusActive, tick.Markets[0].Status)
	assert.True(t, strings.HasPrefix(tick.Markets[0].TimeRemaining, "1h "))
	assert.Zero(t, f.contract.countCalls.Load())
}

func TestTicker_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	tk := service.NewTicker(f.refresher, &recordingBus{}, time.Millisecond, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tk.Run(ctx), context.DeadlineExceeded)
}
