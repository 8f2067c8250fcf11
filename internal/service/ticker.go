package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
	"github.com/Poornadinethyapa/predictionm/internal/query"
)

// SnapshotSource exposes installed snapshots only; it cannot read the
// contract.
type SnapshotSource interface {
	Viewers() []string
	Current(viewer string) *domain.Snapshot
}

// TickMarket is the countdown entry for one market.
type TickMarket struct {
	ID            uint64              `json:"id"`
	Status        domain.MarketStatus `json:"status"`
	TimeRemaining string              `json:"time_remaining"`
}

// Tick is published on ch:tick.
type Tick struct {
	At      time.Time    `json:"at"`
	Markets []TickMarket `json:"markets"`
}

// Ticker republishes countdown labels on a fixed interval so clients can
// age their display without refetching.
type Ticker struct {
	source   SnapshotSource
	bus      domain.SignalBus
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewTicker creates a Ticker. A non-positive interval means one second.
func NewTicker(source SnapshotSource, bus domain.SignalBus, interval time.Duration, logger *slog.Logger) *Ticker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Ticker{
		source:   source,
		bus:      bus,
		interval: interval,
		logger:   logger.With(slog.String("component", "ticker")),
		now:      time.Now,
	}
}

// Build computes the tick from the newest installed snapshot. ok is false
// when nothing is installed yet.
func (t *Ticker) Build() (Tick, bool) {
	var newest *domain.Snapshot
	for _, v := range t.source.Viewers() {
		snap := t.source.Current(v)
		if snap != nil && (newest == nil || snap.FetchedAt.After(newest.FetchedAt)) {
			newest = snap
		}
	}
	if newest == nil {
		return Tick{}, false
	}

	now := t.now()
	tick := Tick{At: now, Markets: make([]TickMarket, len(newest.Markets))}
	for i, m := range newest.Markets {
		tick.Markets[i] = TickMarket{
			ID:            m.ID,
			Status:        m.Status(now),
			TimeRemaining: query.TimeRemaining(m.Deadline, now),
		}
	}
	return tick, true
}

// Publish sends one tick.
func (t *Ticker) Publish(ctx context.Context) error {
	tick, ok := t.Build()
	if !ok {
		return nil
	}
	payload, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("ticker: marshal: %w", err)
	}
	if err := t.bus.Publish(ctx, domain.ChannelTick, payload); err != nil {
		return fmt.Errorf("ticker: publish: %w", err)
	}
	return nil
}

// Run publishes every interval until ctx ends.
func (t *Ticker) Run(ctx context.Context) error {
	tk := time.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
			if err := t.Publish(ctx); err != nil {
				t.logger.WarnContext(ctx, "tick failed", slog.String("error", err.Error()))
			}
		}
	}
}
