package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

// Store holds the current snapshot. Readers see either the previous or the
// next snapshot, never a partially built one.
type Store struct {
	cur atomic.Pointer[domain.Snapshot]
}

// Load returns the current snapshot, or nil before the first swap.
func (s *Store) Load() *domain.Snapshot {
	return s.cur.Load()
}

// Swap installs snap and returns the snapshot it replaced.
func (s *Store) Swap(snap *domain.Snapshot) *domain.Snapshot {
	return s.cur.Swap(snap)
}

// Listener is called after a refreshed snapshot has been installed.
type Listener func(ctx context.Context, snap *domain.Snapshot)

// Refresher keeps one Store per viewer and coalesces concurrent refreshes of
// the same viewer into a single contract read.
type Refresher struct {
	reader *Reader
	group  singleflight.Group
	logger *slog.Logger

	mu        sync.RWMutex
	stores    map[string]*Store
	listeners []Listener
}

// NewRefresher creates a Refresher over reader.
func NewRefresher(reader *Reader, logger *slog.Logger) *Refresher {
	return &Refresher{
		reader: reader,
		logger: logger.With(slog.String("component", "snapshot_refresher")),
		stores: make(map[string]*Store),
	}
}

// OnRefresh registers fn to run after every successful refresh.
func (r *Refresher) OnRefresh(fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// ValidateViewer accepts the anonymous viewer "" or a hex address.
func ValidateViewer(viewer string) error {
	v := strings.TrimSpace(viewer)
	if v == "" || common.IsHexAddress(v) {
		return nil
	}
	return fmt.Errorf("%w: viewer %q is not an address", domain.ErrValidation, viewer)
}

// Refresh reads a new snapshot for viewer and installs it. On failure the
// previous snapshot stays in place.
func (r *Refresher) Refresh(ctx context.Context, viewer string) (*domain.Snapshot, error) {
	if err := ValidateViewer(viewer); err != nil {
		return nil, err
	}
	key := domain.NormalizeAddress(viewer)
	v, err, shared := r.group.Do(key, func() (any, error) {
		snap, err := r.reader.Read(ctx, viewer)
		if err != nil {
			return nil, err
		}
		r.store(key).Swap(snap)

		r.mu.RLock()
		listeners := append([]Listener(nil), r.listeners...)
		r.mu.RUnlock()
		for _, fn := range listeners {
			fn(ctx, snap)
		}
		return snap, nil
	})
	if err != nil {
		r.logger.WarnContext(ctx, "refresh failed, keeping previous snapshot",
			slog.String("viewer", key),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if shared {
		r.logger.DebugContext(ctx, "refresh coalesced", slog.String("viewer", key))
	}
	return v.(*domain.Snapshot), nil
}

// Current returns the installed snapshot for viewer without reading the
// contract. It returns nil if none has been read yet.
func (r *Refresher) Current(viewer string) *domain.Snapshot {
	r.mu.RLock()
	st, ok := r.stores[domain.NormalizeAddress(viewer)]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return st.Load()
}

// Install places a snapshot obtained elsewhere (e.g. a shared cache) without
// reading the contract or notifying listeners.
func (r *Refresher) Install(snap *domain.Snapshot) {
	if snap == nil {
		return
	}
	r.store(domain.NormalizeAddress(snap.Viewer)).Swap(snap)
}

// Viewers lists the viewers with an installed snapshot, sorted.
func (r *Refresher) Viewers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.stores))
	for k, st := range r.stores {
		if st.Load() != nil {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Refresher) store(key string) *Store {
	r.mu.RLock()
	st, ok := r.stores[key]
	r.mu.RUnlock()
	if ok {
		return st
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok = r.stores[key]; ok {
		return st
	}
	st = &Store{}
	r.stores[key] = st
	return st
}
