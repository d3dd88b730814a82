package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/klashbet/wagerpool/internal/domain"
)

// errNotClaimed signals that another resolver already moved the market out of
// ACTIVE; the current attempt is absorbed as a no-op.
var errNotClaimed = errors.New("market not claimed")

// settlementPlan is the computed outcome of a resolution, applied to the
// ledger before the market is marked RESOLVED.
type settlementPlan struct {
	winningOutcome *int
	isRefund       bool
	fee            float64
	total          float64
	winnerCount    int
	payoutPerWin   float64
	updates        []betUpdate
}

type betUpdate struct {
	bet    domain.Bet
	status domain.BetStatus
	payout float64
	profit float64
}

// Resolution drives market lifecycle transitions and settles each market
// exactly once. It mutates the bet ledger only through the same primitives
// the admission controller uses, so both paths serialize per market.
type Resolution struct {
	markets  domain.MarketStore
	ledger   domain.BetLedger
	notifier domain.Notifier
	oracle   domain.ResolveFunc
	settler  domain.Settler
	marketAr domain.MarketArchive
	betAr    domain.BetArchive
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewResolution creates a Resolution engine. settler, marketAr, betAr and
// audit may be nil; settlement and archival are then skipped (payouts stay
// pending for the reconciler).
func NewResolution(
	markets domain.MarketStore,
	ledger domain.BetLedger,
	notifier domain.Notifier,
	oracle domain.ResolveFunc,
	settler domain.Settler,
	marketAr domain.MarketArchive,
	betAr domain.BetArchive,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Resolution {
	return &Resolution{
		markets:  markets,
		ledger:   ledger,
		notifier: notifier,
		oracle:   oracle,
		settler:  settler,
		marketAr: marketAr,
		betAr:    betAr,
		audit:    audit,
		logger:   logger.With(slog.String("component", "resolution")),
	}
}

// Resolve settles an ACTIVE market using the engine's configured oracle.
// Invoking it concurrently is safe: only the first caller to claim the
// market's exclusive section executes, later callers observe a status other
// than ACTIVE and return nil without effect.
func (r *Resolution) Resolve(ctx context.Context, marketID string) error {
	return r.resolve(ctx, marketID, r.oracle)
}

// ResolveWithOutcome settles an ACTIVE market with an explicitly supplied
// winning outcome (administrative override of the oracle).
func (r *Resolution) ResolveWithOutcome(ctx context.Context, marketID string, outcome int) error {
	return r.resolve(ctx, marketID, func(m domain.Market, bets []domain.Bet) (int, bool, error) {
		if outcome < 0 || outcome >= len(m.Outcomes) {
			return 0, false, fmt.Errorf("%w: index %d", domain.ErrInvalidOutcome, outcome)
		}
		return outcome, false, nil
	})
}

func (r *Resolution) resolve(ctx context.Context, marketID string, oracle domain.ResolveFunc) error {
	// Claim: ACTIVE -> RESOLVING under the exclusive section. The RESOLVING
	// state is committed before payout math so concurrent readers see the
	// market as no longer open instead of stale odds presented as final.
	var claimed domain.Market
	err := r.markets.MutateAtomic(ctx, marketID, func(m *domain.Market) error {
		if m.Status != domain.MarketStatusActive {
			return errNotClaimed
		}
		m.Status = domain.MarketStatusResolving
		claimed = m.Clone()
		return nil
	})
	if errors.Is(err, errNotClaimed) {
		r.logger.InfoContext(ctx, "resolution skipped, market not active",
			slog.String("market_id", marketID),
		)
		return nil
	}
	if err != nil {
		return err
	}

	plan, err := r.computeSettlement(ctx, claimed, oracle)
	if err != nil {
		// Roll the claim back so a later attempt can retry; nothing has been
		// written to the ledger yet.
		if revertErr := r.markets.MutateAtomic(ctx, marketID, func(m *domain.Market) error {
			if m.Status == domain.MarketStatusResolving {
				m.Status = domain.MarketStatusActive
			}
			return nil
		}); revertErr != nil {
			r.logger.ErrorContext(ctx, "failed to revert resolving claim",
				slog.String("market_id", marketID),
				slog.String("error", revertErr.Error()),
			)
		}
		return fmt.Errorf("resolution: compute settlement for %s: %w", marketID, err)
	}

	// Persist bet outcomes, then mark the market RESOLVED. UpdateStatus is
	// idempotent, so a crash between these steps is recoverable by retrying
	// against the same plan.
	for _, u := range plan.updates {
		if err := r.ledger.UpdateStatus(ctx, u.bet.ID, u.status, u.payout, u.profit); err != nil {
			return fmt.Errorf("resolution: update bet %s: %w", u.bet.ID, err)
		}
	}

	var resolved domain.Market
	err = r.markets.MutateAtomic(ctx, marketID, func(m *domain.Market) error {
		now := time.Now().UTC()
		m.Status = domain.MarketStatusResolved
		m.WinningOutcome = plan.winningOutcome
		m.ResolutionTime = &now
		resolved = m.Clone()
		return nil
	})
	if err != nil {
		return fmt.Errorf("resolution: finalize %s: %w", marketID, err)
	}

	r.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", marketID),
		slog.Bool("refund", plan.isRefund),
		slog.Float64("total_pool", plan.total),
		slog.Float64("fee", plan.fee),
		slog.Int("winners", plan.winnerCount),
	)

	// Everything below happens outside the exclusive section and never rolls
	// back the committed RESOLVED state.
	r.notifier.MarketStatusChanged(ctx, domain.MarketStatusChanged{
		MarketID: marketID,
		Status:   domain.MarketStatusResolved,
	})
	r.notifier.MarketResolved(ctx, domain.MarketResolved{
		MarketID:       marketID,
		WinningOutcome: plan.winningOutcome,
		IsRefund:       plan.isRefund,
		TotalPool:      plan.total,
		Fee:            plan.fee,
		WinnerCount:    plan.winnerCount,
		PayoutPerWin:   plan.payoutPerWin,
	})

	r.settlePayouts(ctx, plan)
	r.archive(ctx, resolved)

	if r.audit != nil {
		if err := r.audit.Log(ctx, "market_resolved", map[string]any{
			"market_id": marketID,
			"refund":    plan.isRefund,
			"fee":       plan.fee,
			"total":     plan.total,
		}); err != nil {
			r.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	return nil
}

// computeSettlement derives the winning outcome and per-bet payouts for a
// claimed market. The market is RESOLVING, so its bet set is stable.
func (r *Resolution) computeSettlement(ctx context.Context, m domain.Market, oracle domain.ResolveFunc) (settlementPlan, error) {
	bets := confirmedBets(r.ledger.ListByMarket(ctx, m.ID))

	plan := settlementPlan{total: m.Pools.Total}

	// Degenerate market: every stake backs the same outcome, so there is no
	// genuine opposition. Unwind without a fee.
	if sameOutcome(bets) {
		plan.isRefund = true
		for _, b := range bets {
			plan.updates = append(plan.updates, betUpdate{
				bet:    b,
				status: domain.BetStatusRefunded,
				payout: b.Amount,
				profit: 0,
			})
		}
		return plan, nil
	}

	winning, isRefund, err := oracle(m, bets)
	if err != nil {
		return settlementPlan{}, fmt.Errorf("oracle: %w", err)
	}
	if isRefund {
		plan.isRefund = true
		for _, b := range bets {
			plan.updates = append(plan.updates, betUpdate{
				bet:    b,
				status: domain.BetStatusRefunded,
				payout: b.Amount,
				profit: 0,
			})
		}
		return plan, nil
	}
	if winning < 0 || winning >= len(m.Outcomes) {
		return settlementPlan{}, fmt.Errorf("%w: oracle returned %d", domain.ErrInvalidOutcome, winning)
	}

	winners := 0
	for _, b := range bets {
		if b.Outcome == winning {
			winners++
		}
	}
	if winners == 0 {
		return settlementPlan{}, fmt.Errorf("oracle picked outcome %d with no backers", winning)
	}

	plan.winningOutcome = &winning
	plan.fee = m.Pools.Total * m.PlatformFeePercent
	plan.winnerCount = winners
	distributable := m.Pools.Total - plan.fee
	plan.payoutPerWin = distributable / float64(winners)

	for _, b := range bets {
		if b.Outcome == winning {
			plan.updates = append(plan.updates, betUpdate{
				bet:    b,
				status: domain.BetStatusWon,
				payout: plan.payoutPerWin,
				profit: plan.payoutPerWin - b.Amount,
			})
		} else {
			plan.updates = append(plan.updates, betUpdate{
				bet:    b,
				status: domain.BetStatusLost,
				payout: 0,
				profit: -b.Amount,
			})
		}
	}
	return plan, nil
}

// Cancel expires a market that never filled: WAITING_PARTICIPANTS ->
// CANCELLED with every confirmed stake refunded in full. Terminal markets
// and markets past the waiting stage are left untouched (no-op for terminal,
// error for ACTIVE/RESOLVING since those must resolve).
func (r *Resolution) Cancel(ctx context.Context, marketID string) error {
	var cancelled domain.Market
	err := r.markets.MutateAtomic(ctx, marketID, func(m *domain.Market) error {
		switch m.Status {
		case domain.MarketStatusWaiting:
			m.Status = domain.MarketStatusCancelled
			cancelled = m.Clone()
			return nil
		case domain.MarketStatusResolved, domain.MarketStatusCancelled:
			return errNotClaimed
		default:
			return fmt.Errorf("market %s is %s: %w", m.ID, m.Status, domain.ErrMarketClosed)
		}
	})
	if errors.Is(err, errNotClaimed) {
		return nil
	}
	if err != nil {
		return err
	}

	bets := confirmedBets(r.ledger.ListByMarket(ctx, marketID))
	plan := settlementPlan{isRefund: true, total: cancelled.Pools.Total}
	for _, b := range bets {
		plan.updates = append(plan.updates, betUpdate{
			bet:    b,
			status: domain.BetStatusRefunded,
			payout: b.Amount,
			profit: 0,
		})
	}
	for _, u := range plan.updates {
		if err := r.ledger.UpdateStatus(ctx, u.bet.ID, u.status, u.payout, u.profit); err != nil {
			return fmt.Errorf("resolution: refund bet %s: %w", u.bet.ID, err)
		}
	}

	r.logger.InfoContext(ctx, "market cancelled",
		slog.String("market_id", marketID),
		slog.Int("refunded", len(plan.updates)),
	)

	r.notifier.MarketStatusChanged(ctx, domain.MarketStatusChanged{
		MarketID: marketID,
		Status:   domain.MarketStatusCancelled,
	})

	r.settlePayouts(ctx, plan)
	r.archive(ctx, cancelled)
	return nil
}

// settlePayouts pushes each owed payout through the settlement collaborator.
// Transfer failures are recorded only as an unset paidAt; the reconciler
// retries them out-of-band and the ledger state is never rolled back.
func (r *Resolution) settlePayouts(ctx context.Context, plan settlementPlan) {
	if r.settler == nil {
		return
	}
	for _, u := range plan.updates {
		if u.payout <= 0 {
			continue
		}
		ref, err := r.settler.Transfer(ctx, u.bet.ParticipantKey, u.payout, u.bet.ID)
		if err != nil {
			r.logger.WarnContext(ctx, "payout transfer failed, left for reconciler",
				slog.String("bet_id", u.bet.ID),
				slog.String("recipient", u.bet.ParticipantKey),
				slog.Float64("amount", u.payout),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := r.ledger.MarkPaid(ctx, u.bet.ID, ref, time.Now()); err != nil {
			r.logger.ErrorContext(ctx, "failed to record payout",
				slog.String("bet_id", u.bet.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// archive writes the terminal market and its bets to the durable archive.
// Failures are logged; the in-memory engine state is already authoritative.
func (r *Resolution) archive(ctx context.Context, m domain.Market) {
	if r.marketAr != nil {
		if err := r.marketAr.Archive(ctx, m); err != nil {
			r.logger.WarnContext(ctx, "market archive failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if r.betAr != nil {
		bets := r.ledger.ListByMarket(ctx, m.ID)
		if err := r.betAr.ArchiveBatch(ctx, bets); err != nil {
			r.logger.WarnContext(ctx, "bet archive failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func confirmedBets(bets []domain.Bet) []domain.Bet {
	out := bets[:0:0]
	for _, b := range bets {
		if b.Status == domain.BetStatusConfirmed {
			out = append(out, b)
		}
	}
	return out
}

func sameOutcome(bets []domain.Bet) bool {
	if len(bets) == 0 {
		return true
	}
	first := bets[0].Outcome
	for _, b := range bets[1:] {
		if b.Outcome != first {
			return false
		}
	}
	return true
}
