package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

const (
	maxBlockRange  = 2000
	resumePageSize = 500
)

// EventSource is what the EventWatcher polls. *Client implements it.
type EventSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
	FilterEvents(ctx context.Context, from, to uint64) ([]domain.ContractEvent, error)
}

// EventHandler is called once per decoded event, in block order.
type EventHandler func(ctx context.Context, ev domain.ContractEvent)

// EventWatcher polls the contract logs from the last seen block, publishes
// each event on the signal bus and hands it to the registered handlers.
type EventWatcher struct {
	src    EventSource
	bus    domain.SignalBus
	logger *slog.Logger

	mu       sync.Mutex
	next     uint64
	started  bool
	handlers []EventHandler
}

// NewEventWatcher creates a watcher. A startBlock of zero means "from the
// current head". bus may be nil.
func NewEventWatcher(src EventSource, bus domain.SignalBus, startBlock uint64, logger *slog.Logger) *EventWatcher {
	return &EventWatcher{
		src:     src,
		bus:     bus,
		next:    startBlock,
		started: startBlock > 0,
		logger:  logger.With(slog.String("component", "event_watcher")),
	}
}

// OnEvent registers fn for every decoded event.
func (w *EventWatcher) OnEvent(fn EventHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, fn)
}

// Poll processes every block between the last seen block and the head, at
// most maxBlockRange blocks per call. It returns the number of events seen.
func (w *EventWatcher) Poll(ctx context.Context) (int, error) {
	head, err := w.src.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	if !w.started {
		w.next = head + 1
		w.started = true
		w.mu.Unlock()
		w.logger.InfoContext(ctx, "event watcher positioned at head", slog.Uint64("block", head))
		return 0, nil
	}
	from := w.next
	handlers := append([]EventHandler(nil), w.handlers...)
	w.mu.Unlock()

	if from > head {
		return 0, nil
	}
	to := head
	if to-from+1 > maxBlockRange {
		to = from + maxBlockRange - 1
	}

	events, err := w.src.FilterEvents(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("event watcher: blocks %d-%d: %w", from, to, err)
	}
	for _, ev := range events {
		w.publish(ctx, ev)
		for _, fn := range handlers {
			fn(ctx, ev)
		}
	}

	w.mu.Lock()
	w.next = to + 1
	w.mu.Unlock()

	if len(events) > 0 {
		w.logger.InfoContext(ctx, "contract events processed",
			slog.Int("count", len(events)),
			slog.Uint64("from", from),
			slog.Uint64("to", to),
		)
	}
	return len(events), nil
}

// Resume positions the watcher after the newest event in the durable event
// stream, so a restart neither replays nor skips events seen by an earlier
// run. An explicit start block beyond the stream wins. It reports whether the
// stream moved the watcher.
func (w *EventWatcher) Resume(ctx context.Context) (bool, error) {
	if w.bus == nil {
		return false, nil
	}
	var (
		last  uint64
		found bool
	)
	lastID := "0"
	for {
		msgs, err := w.bus.StreamRead(ctx, domain.StreamEvents, lastID, resumePageSize)
		if err != nil {
			return false, fmt.Errorf("event watcher: resume: %w", err)
		}
		for _, m := range msgs {
			var ev domain.ContractEvent
			if err := json.Unmarshal(m.Payload, &ev); err != nil {
				continue
			}
			if !found || ev.BlockNumber > last {
				last, found = ev.BlockNumber, true
			}
		}
		if len(msgs) < resumePageSize {
			break
		}
		lastID = msgs[len(msgs)-1].ID
	}
	if !found {
		return false, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started && w.next > last {
		return false, nil
	}
	w.next = last + 1
	w.started = true
	w.logger.InfoContext(ctx, "event watcher resumed from stream", slog.Uint64("block", w.next))
	return true, nil
}

// NextBlock returns the first block the next Poll will read.
func (w *EventWatcher) NextBlock() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next
}

func (w *EventWatcher) publish(ctx context.Context, ev domain.ContractEvent) {
	if w.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := w.bus.Publish(ctx, domain.ChannelEvents, payload); err != nil {
		w.logger.WarnContext(ctx, "publish event failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
	if err := w.bus.StreamAppend(ctx, domain.StreamEvents, payload); err != nil {
		w.logger.WarnContext(ctx, "append event stream failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// RunLoop polls on interval until ctx is cancelled.
func (w *EventWatcher) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "event poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			w.logger.Info("event watcher stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
