// Package snapshot assembles immutable views of the market contract. A read
// that fails for one market never aborts the rest; a snapshot is published
// only once it is fully assembled.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

// ContractReader is the read side of the market contract.
type ContractReader interface {
	MarketCount(ctx context.Context) (uint64, error)
	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	UserStakeIn(ctx context.Context, id uint64, user string, outcome int) (*big.Int, error)
}

// DefaultMaxMarkets bounds the market count a Reader accepts from the
// contract unless WithMaxMarkets overrides it.
const DefaultMaxMarkets = 10_000

// ErrTooManyMarkets is returned when the contract reports more markets than
// the reader is configured to load.
var ErrTooManyMarkets = errors.New("market count exceeds limit")

// Reader builds snapshots from a ContractReader.
type Reader struct {
	contract    ContractReader
	concurrency int
	maxMarkets  uint64
	logger      *slog.Logger
	now         func() time.Time
}

// NewReader creates a Reader that issues at most concurrency market reads at
// once. A concurrency below 1 reads sequentially.
func NewReader(contract ContractReader, concurrency int, logger *slog.Logger) *Reader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Reader{
		contract:    contract,
		concurrency: concurrency,
		maxMarkets:  DefaultMaxMarkets,
		logger:      logger.With(slog.String("component", "snapshot_reader")),
		now:         time.Now,
	}
}

// WithMaxMarkets sets the largest market count Read accepts. n below 1
// keeps the current limit.
func (r *Reader) WithMaxMarkets(n int) *Reader {
	if n > 0 {
		r.maxMarkets = uint64(n)
	}
	return r
}

type slot struct {
	market domain.Market
	stakes []*big.Int
	ok     bool
}

// Read fetches every market in [0, count) and, when viewer is set, the
// viewer's stake in each outcome. Failing or malformed markets are skipped
// and failing stake reads count as zero. Only a failed or oversized count, or
// the context ending mid-read, returns an error.
func (r *Reader) Read(ctx context.Context, viewer string) (*domain.Snapshot, error) {
	count, err := r.contract.MarketCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: market count: %w", err)
	}
	if count > r.maxMarkets {
		return nil, fmt.Errorf("snapshot: %w: contract reports %d, limit %d", ErrTooManyMarkets, count, r.maxMarkets)
	}

	slots := make([]slot, count)

	// Workers never return an error, so one failure cannot cancel siblings.
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for id := uint64(0); id < count; id++ {
		g.Go(func() error {
			slots[id] = r.readOne(ctx, id, viewer)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("snapshot: read interrupted: %w", err)
	}

	snap := &domain.Snapshot{
		Viewer:        viewer,
		Markets:       make([]domain.Market, 0, count),
		ReportedCount: count,
		FetchedAt:     r.now().UTC(),
	}
	if viewer != "" {
		snap.Stakes = make(domain.ViewerStakes, count)
	}
	for id, s := range slots {
		if !s.ok {
			snap.Skipped = append(snap.Skipped, uint64(id))
			continue
		}
		snap.Markets = append(snap.Markets, s.market)
		if viewer != "" {
			snap.Stakes[uint64(id)] = s.stakes
		}
	}

	r.logger.DebugContext(ctx, "snapshot assembled",
		slog.String("viewer", viewer),
		slog.Uint64("count", count),
		slog.Int("markets", len(snap.Markets)),
		slog.Int("skipped", len(snap.Skipped)),
	)
	return snap, nil
}

func (r *Reader) readOne(ctx context.Context, id uint64, viewer string) slot {
	m, err := r.contract.GetMarket(ctx, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "market read failed, skipping",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		return slot{}
	}
	if err := m.Validate(); err != nil {
		r.logger.ErrorContext(ctx, "market failed validation, skipping",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		return slot{}
	}
	if viewer == "" {
		return slot{market: m, ok: true}
	}

	stakes := make([]*big.Int, len(m.Outcomes))
	for i := range m.Outcomes {
		s, err := r.contract.UserStakeIn(ctx, id, viewer, i)
		if err != nil || s == nil {
			if err != nil {
				r.logger.WarnContext(ctx, "stake read failed, defaulting to zero",
					slog.Uint64("market_id", id),
					slog.Int("outcome", i),
					slog.String("error", err.Error()),
				)
			}
			s = new(big.Int)
		}
		stakes[i] = s
	}
	return slot{market: m, stakes: stakes, ok: true}
}
