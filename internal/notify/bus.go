package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/klashbet/wagerpool/internal/domain"
)

// BusNotifier fans domain events out over the signal bus. Each event is
// published twice: once on the market's own channel so room subscribers see
// only their market, and once on the firehose channel that the websocket hub
// and any external consumers drain.
//
// Delivery is best effort. A publish failure is logged and swallowed; the
// engine's state transitions never depend on an event reaching a subscriber.
type BusNotifier struct {
	bus    domain.SignalBus
	alerts *Notifier // operator alerts, may be nil
	logger *slog.Logger
}

// FirehoseChannel carries every event for every market.
const FirehoseChannel = "markets"

// MarketChannel returns the per-market event channel name.
func MarketChannel(marketID string) string {
	return "market:" + marketID
}

// NewBusNotifier creates a BusNotifier. alerts may be nil when no operator
// channels are configured.
func NewBusNotifier(bus domain.SignalBus, alerts *Notifier, logger *slog.Logger) *BusNotifier {
	return &BusNotifier{
		bus:    bus,
		alerts: alerts,
		logger: logger.With(slog.String("component", "bus_notifier")),
	}
}

func (bn *BusNotifier) publish(ctx context.Context, eventType, marketID string, payload any) {
	env := domain.EventEnvelope{
		Type:     eventType,
		MarketID: marketID,
		At:       time.Now().UTC(),
		Payload:  payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		bn.logger.ErrorContext(ctx, "marshal event",
			slog.String("type", eventType),
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, ch := range []string{MarketChannel(marketID), FirehoseChannel} {
		if err := bn.bus.Publish(ctx, ch, data); err != nil {
			bn.logger.WarnContext(ctx, "event publish failed",
				slog.String("channel", ch),
				slog.String("type", eventType),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ParticipantJoined announces a newly admitted stake.
func (bn *BusNotifier) ParticipantJoined(ctx context.Context, ev domain.ParticipantJoined) {
	bn.publish(ctx, domain.EventParticipantJoined, ev.MarketID, ev)
}

// MarketStatusChanged announces a lifecycle transition.
func (bn *BusNotifier) MarketStatusChanged(ctx context.Context, ev domain.MarketStatusChanged) {
	bn.publish(ctx, domain.EventMarketStatusChanged, ev.MarketID, ev)
}

// MarketResolved announces settlement, including the per-winner payout so
// clients can display results without a follow-up fetch. Operator channels get
// a human-readable summary as well.
func (bn *BusNotifier) MarketResolved(ctx context.Context, ev domain.MarketResolved) {
	bn.publish(ctx, domain.EventMarketResolved, ev.MarketID, ev)

	if bn.alerts == nil {
		return
	}
	var msg string
	if ev.IsRefund {
		msg = fmt.Sprintf("Market %s resolved as refund, pool %.2f returned", ev.MarketID, ev.TotalPool)
	} else {
		msg = fmt.Sprintf("Market %s resolved, %d winner(s) paid %.2f each (fee %.2f)",
			ev.MarketID, ev.WinnerCount, ev.PayoutPerWin, ev.Fee)
	}
	if err := bn.alerts.Notify(ctx, domain.EventMarketResolved, "Market resolved", msg); err != nil {
		bn.logger.WarnContext(ctx, "operator alert failed", slog.String("error", err.Error()))
	}
}

// Compile-time interface check.
var _ domain.Notifier = (*BusNotifier)(nil)
