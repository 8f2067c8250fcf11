package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

// EventRelay turns contract events from the signal bus into notifications.
// Only market creation and resolution are announced; bets and claims are
// too frequent to be useful as alerts.
type EventRelay struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewEventRelay creates an EventRelay.
func NewEventRelay(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *EventRelay {
	return &EventRelay{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_relay")),
	}
}

// Run forwards events until ctx ends.
func (r *EventRelay) Run(ctx context.Context) error {
	events, err := r.bus.Subscribe(ctx, domain.ChannelEvents)
	if err != nil {
		return fmt.Errorf("notify: subscribe events: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			r.handle(ctx, payload)
		}
	}
}

func (r *EventRelay) handle(ctx context.Context, payload []byte) {
	var ev domain.ContractEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.logger.WarnContext(ctx, "bad event payload", slog.String("error", err.Error()))
		return
	}
	event, title, msg, ok := FormatEvent(ev)
	if !ok {
		return
	}
	if err := r.notifier.Notify(ctx, event, title, msg); err != nil {
		r.logger.WarnContext(ctx, "event notify failed",
			slog.Uint64("market_id", ev.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

// FormatEvent renders ev as a notification. ok is false for kinds that are
// not announced.
func FormatEvent(ev domain.ContractEvent) (event, title, message string, ok bool) {
	switch ev.Kind {
	case domain.EventMarketCreated:
		msg := fmt.Sprintf("#%d %s", ev.MarketID, ev.Question)
		if len(ev.Outcomes) > 0 {
			msg += "\nOutcomes: " + strings.Join(ev.Outcomes, ", ")
		}
		return EventMarketCreated, "Market created", msg, true
	case domain.EventMarketResolved:
		msg := fmt.Sprintf("#%d resolved to outcome %d", ev.MarketID, ev.Outcome)
		if ev.Outcome >= 0 && ev.Outcome < len(ev.Outcomes) {
			msg = fmt.Sprintf("#%d resolved to %q", ev.MarketID, ev.Outcomes[ev.Outcome])
		}
		return EventMarketResolved, "Market resolved", msg, true
	default:
		return "", "", "", false
	}
}
