package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Poornadinethyapa/predictionm/internal/analytics"
	"github.com/Poornadinethyapa/predictionm/internal/chain"
	"github.com/Poornadinethyapa/predictionm/internal/domain"
	"github.com/Poornadinethyapa/predictionm/internal/notify"
	"github.com/Poornadinethyapa/predictionm/internal/render"
	"github.com/Poornadinethyapa/predictionm/internal/server"
	"github.com/Poornadinethyapa/predictionm/internal/server/handler"
	"github.com/Poornadinethyapa/predictionm/internal/server/ws"
	"github.com/Poornadinethyapa/predictionm/internal/service"
)

const shutdownTimeout = 10 * time.Second

// ServeMode runs the HTTP/WebSocket API together with the contract event
// watcher, the countdown ticker and the notification relay.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")
	if deps.Bus == nil {
		return fmt.Errorf("app: serve mode requires redis")
	}

	g, ctx := errgroup.WithContext(ctx)

	// Warm the anonymous and wallet snapshots so the first request is
	// served from memory.
	for _, viewer := range []string{"", deps.Orch.Wallet()} {
		if viewer == "" && deps.Refresher.Current("") != nil {
			continue
		}
		if _, err := deps.Markets.Snapshot(ctx, viewer); err != nil {
			a.logger.WarnContext(ctx, "initial snapshot failed",
				slog.String("viewer", viewer),
				slog.String("error", err.Error()),
			)
		}
	}

	// Contract events: every decoded event is published by the watcher;
	// bursts collapse into one refresh of every installed snapshot.
	events := newEventRefresher(deps.Markets.RefreshAll)
	watcher := chain.NewEventWatcher(deps.Chain, deps.Bus, a.cfg.Chain.StartBlock, a.logger)
	watcher.OnEvent(events.Handle)
	if _, err := watcher.Resume(ctx); err != nil {
		a.logger.WarnContext(ctx, "event stream resume failed", slog.String("error", err.Error()))
	}
	g.Go(func() error {
		return watcher.RunLoop(ctx, a.cfg.Chain.EventPoll.Duration)
	})
	g.Go(func() error {
		return events.Run(ctx)
	})

	ticker := service.NewTicker(deps.Refresher, deps.Bus, a.cfg.Server.TickInterval.Duration, a.logger)
	g.Go(func() error {
		return ticker.Run(ctx)
	})

	if deps.Notifier.Enabled() {
		relay := notify.NewEventRelay(deps.Bus, deps.Notifier, a.logger)
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}

	hub := ws.NewHub(deps.Bus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.Health, a.logger),
		Markets:   handler.NewMarketHandler(deps.Markets, a.logger),
		Tx:        handler.NewTxHandler(deps.Orch, deps.Markets, deps.TxStore, a.logger),
		Bookmarks: handler.NewBookmarkHandler(deps.Markets, a.logger),
		Archive:   handler.NewArchiveHandler(deps.Markets, a.logger),
	}, hub, deps.Limiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening", slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		if err := deps.Orch.Drain(shutCtx); err != nil {
			a.logger.Warn("pending receipts abandoned at shutdown", slog.String("error", err.Error()))
		}
		return nil
	})

	return g.Wait()
}

// SnapshotMode reads the contract once and prints the market table and the
// wallet's statistics.
func (a *App) SnapshotMode(ctx context.Context, deps *Dependencies) error {
	viewer := deps.Orch.Wallet()
	snap, err := deps.Markets.Refresh(ctx, viewer)
	if err != nil {
		return fmt.Errorf("app: snapshot: %w", err)
	}
	if len(snap.Skipped) > 0 {
		a.logger.WarnContext(ctx, "markets skipped", slog.Any("ids", snap.Skipped))
	}

	if err := render.Markets(a.out, snap.Markets, snap.Stakes, time.Now()); err != nil {
		return fmt.Errorf("app: render markets: %w", err)
	}
	fmt.Fprintln(a.out)

	var stats *analytics.Stats
	if viewer != "" {
		st, err := deps.Markets.Stats(ctx, viewer)
		if err != nil {
			return fmt.Errorf("app: stats: %w", err)
		}
		stats = st
	}
	if err := render.Stats(a.out, stats); err != nil {
		return fmt.Errorf("app: render stats: %w", err)
	}

	if deps.Archiver != nil {
		path, err := deps.Markets.Archive(ctx, viewer)
		if err != nil {
			a.logger.WarnContext(ctx, "archive failed", slog.String("error", err.Error()))
		} else {
			a.logger.InfoContext(ctx, "snapshot archived", slog.String("path", path))
		}
	}
	return nil
}

// ClaimAllMode claims every market the wallet can claim from, one at a time,
// and prints the aggregate.
func (a *App) ClaimAllMode(ctx context.Context, deps *Dependencies) error {
	wallet := deps.Orch.Wallet()
	if wallet == "" {
		return fmt.Errorf("app: claim-all: %w", domain.ErrNoSigner)
	}
	ids, err := deps.Markets.Claimable(ctx, wallet)
	if err != nil {
		return fmt.Errorf("app: claim-all: %w", err)
	}
	a.logger.InfoContext(ctx, "claimable markets", slog.Any("ids", ids))

	res, err := deps.Orch.ClaimAll(ctx, ids)
	if rerr := render.Batch(a.out, res); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return fmt.Errorf("app: claim-all: %w", err)
	}
	return nil
}

// eventRefresher turns contract events into snapshot refreshes. Events
// arriving while a refresh is pending collapse into it.
type eventRefresher struct {
	refresh func(ctx context.Context)
	dirty   chan struct{}
}

func newEventRefresher(refresh func(context.Context)) *eventRefresher {
	return &eventRefresher{refresh: refresh, dirty: make(chan struct{}, 1)}
}

// Handle is registered with the EventWatcher.
func (e *eventRefresher) Handle(_ context.Context, _ domain.ContractEvent) {
	select {
	case e.dirty <- struct{}{}:
	default:
	}
}

// Run performs pending refreshes until ctx ends.
func (e *eventRefresher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.dirty:
			e.refresh(ctx)
		}
	}
}
