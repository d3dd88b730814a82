package notify

import (
	"context"
	"log/slog"

	"github.com/klashbet/wagerpool/internal/domain"
)

// LogNotifier writes lifecycle events to the structured log. It is the
// fallback event sink when no signal bus is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(slog.String("component", "events"))}
}

func (ln *LogNotifier) ParticipantJoined(ctx context.Context, ev domain.ParticipantJoined) {
	ln.logger.InfoContext(ctx, domain.EventParticipantJoined,
		slog.String("market_id", ev.MarketID),
		slog.String("participant", ev.ParticipantKey),
		slog.Int("outcome", ev.Outcome),
		slog.Float64("amount", ev.Amount),
		slog.Int("count", ev.CurrentCount),
		slog.Int("limit", ev.Limit),
	)
}

func (ln *LogNotifier) MarketStatusChanged(ctx context.Context, ev domain.MarketStatusChanged) {
	ln.logger.InfoContext(ctx, domain.EventMarketStatusChanged,
		slog.String("market_id", ev.MarketID),
		slog.String("status", string(ev.Status)),
	)
}

func (ln *LogNotifier) MarketResolved(ctx context.Context, ev domain.MarketResolved) {
	attrs := []any{
		slog.String("market_id", ev.MarketID),
		slog.Bool("is_refund", ev.IsRefund),
		slog.Float64("total_pool", ev.TotalPool),
		slog.Float64("fee", ev.Fee),
		slog.Int("winner_count", ev.WinnerCount),
		slog.Float64("payout_per_win", ev.PayoutPerWin),
	}
	if ev.WinningOutcome != nil {
		attrs = append(attrs, slog.Int("winning_outcome", *ev.WinningOutcome))
	}
	ln.logger.InfoContext(ctx, domain.EventMarketResolved, attrs...)
}

// Compile-time interface check.
var _ domain.Notifier = (*LogNotifier)(nil)
