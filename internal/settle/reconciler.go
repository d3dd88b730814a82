package settle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/klashbet/wagerpool/internal/domain"
)

// reconcileLockKey guards a reconciliation pass so only one instance drains
// the unpaid set at a time.
const reconcileLockKey = "settle:reconcile"

// reconcileLockTTL bounds how long a crashed holder can block other
// instances.
const reconcileLockTTL = 2 * time.Minute

// Reconciler retries payout transfers that failed when a market settled.
// Settlement never rolls back on a transfer failure; the bet stays unpaid on
// the ledger and this worker drains it out-of-band until the gateway
// accepts the transfer.
type Reconciler struct {
	ledger   domain.BetLedger
	settler  domain.Settler
	locks    domain.LockManager // may be nil in single-instance deployments
	interval time.Duration
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler. locks may be nil, in which case passes
// run unguarded.
func NewReconciler(ledger domain.BetLedger, settler domain.Settler, locks domain.LockManager, interval time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		settler:  settler,
		locks:    locks,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconciler")),
	}
}

// Run executes reconciliation passes at the configured interval until the
// context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

// pass retries every unpaid payout once. Individual failures are logged and
// left for the next pass.
func (r *Reconciler) pass(ctx context.Context) {
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, reconcileLockKey, reconcileLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return
			}
			r.logger.WarnContext(ctx, "reconcile lock acquire failed", slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}

	unpaid := r.ledger.ListUnpaid(ctx)
	if len(unpaid) == 0 {
		return
	}

	r.logger.InfoContext(ctx, "reconciling unpaid payouts", slog.Int("count", len(unpaid)))

	var settled int
	for _, bet := range unpaid {
		txRef, err := r.settler.Transfer(ctx, bet.ParticipantKey, bet.Payout, bet.ID)
		if err != nil {
			r.logger.WarnContext(ctx, "payout retry failed",
				slog.String("bet_id", bet.ID),
				slog.String("market_id", bet.MarketID),
				slog.Float64("amount", bet.Payout),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := r.ledger.MarkPaid(ctx, bet.ID, txRef, time.Now().UTC()); err != nil {
			r.logger.ErrorContext(ctx, "mark paid failed",
				slog.String("bet_id", bet.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		settled++
	}

	if settled > 0 {
		r.logger.InfoContext(ctx, "reconcile pass complete",
			slog.Int("settled", settled),
			slog.Int("remaining", len(unpaid)-settled),
		)
	}
}
