package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/klashbet/wagerpool/internal/domain"
)

// ResolutionScheduler arms the delayed-resolution timer for a market that has
// just gone active. Implemented by Scheduler; declared here so the admission
// controller does not depend on the concrete type.
type ResolutionScheduler interface {
	ScheduleResolution(marketID string, delay time.Duration)
}

// Admission validates and admits stakes. It is stateless: every admission is
// one atomic unit through the market store's exclusive section, with the bet
// ledger written from inside the same boundary so the idempotency check and
// the write it guards can never be split by a concurrent retry.
type Admission struct {
	markets   domain.MarketStore
	ledger    domain.BetLedger
	notifier  domain.Notifier
	scheduler ResolutionScheduler
	audit     domain.AuditStore
	delay     time.Duration // resolution delay once a market goes active
	logger    *slog.Logger
}

// NewAdmission creates an Admission controller. audit may be nil.
func NewAdmission(
	markets domain.MarketStore,
	ledger domain.BetLedger,
	notifier domain.Notifier,
	scheduler ResolutionScheduler,
	audit domain.AuditStore,
	resolutionDelay time.Duration,
	logger *slog.Logger,
) *Admission {
	return &Admission{
		markets:   markets,
		ledger:    ledger,
		notifier:  notifier,
		scheduler: scheduler,
		audit:     audit,
		delay:     resolutionDelay,
		logger:    logger.With(slog.String("component", "admission")),
	}
}

// PlaceWager admits a stake into a market's pool and ledger as one logical
// transaction. Retrying with the same idempotency key returns the original
// bet unchanged: at most one economic effect per client-submitted transaction.
func (a *Admission) PlaceWager(
	ctx context.Context,
	marketID string,
	outcome int,
	amount float64,
	participantKey string,
	idempotencyKey string,
) (domain.Bet, error) {
	var (
		placed    domain.Bet
		replayed  bool
		activated bool
		joined    domain.ParticipantJoined
	)

	err := a.markets.MutateAtomic(ctx, marketID, func(m *domain.Market) error {
		// Idempotent retry: the key was already admitted to this market, so
		// return the stored bet and leave the market untouched. A key seen on
		// a different market is a conflict, not a replay.
		if idempotencyKey != "" {
			if prior, ok := a.ledger.GetByIdempotencyKey(ctx, idempotencyKey); ok {
				if prior.MarketID != m.ID {
					return fmt.Errorf("key %s belongs to market %s: %w",
						idempotencyKey, prior.MarketID, domain.ErrIdempotencyConflict)
				}
				placed = prior
				replayed = true
				return nil
			}
		}

		if amount <= 0 {
			return fmt.Errorf("%w: %v", domain.ErrInvalidAmount, amount)
		}
		if m.Status != domain.MarketStatusWaiting && m.Status != domain.MarketStatusActive {
			return fmt.Errorf("market %s is %s: %w", m.ID, m.Status, domain.ErrMarketClosed)
		}
		if outcome < 0 || outcome >= len(m.Pools.Outcomes) {
			return fmt.Errorf("%w: index %d", domain.ErrInvalidOutcome, outcome)
		}
		if m.HasParticipant(participantKey) {
			return fmt.Errorf("%s in market %s: %w", participantKey, m.ID, domain.ErrDuplicateParticipant)
		}
		if m.Full() {
			return fmt.Errorf("market %s at limit %d: %w", m.ID, m.PlayerLimit, domain.ErrMarketFull)
		}

		// Indicative payout multiple at this exact pool snapshot. Final
		// payout uses settlement-time pool sizes, not this figure.
		odds := (m.Pools.Total + amount) / (m.Pools.Outcomes[outcome] + amount)

		now := time.Now().UTC()
		m.Participants = append(m.Participants, domain.Participant{
			Key:      participantKey,
			Outcome:  outcome,
			Amount:   amount,
			JoinedAt: now,
		})
		m.Pools.Outcomes[outcome] += amount
		m.Pools.Total += amount

		bet, err := a.ledger.Place(ctx, domain.Bet{
			MarketID:        m.ID,
			Outcome:         outcome,
			Amount:          amount,
			ParticipantKey:  participantKey,
			IdempotencyKey:  idempotencyKey,
			Status:          domain.BetStatusConfirmed,
			OddsAtPlacement: odds,
			PlacedAt:        now,
		})
		if err != nil {
			return fmt.Errorf("ledger place: %w", err)
		}
		placed = bet

		if m.Full() {
			m.Status = domain.MarketStatusActive
			activated = true
		}

		joined = domain.ParticipantJoined{
			MarketID:       m.ID,
			ParticipantKey: participantKey,
			Outcome:        outcome,
			Amount:         amount,
			CurrentCount:   len(m.Participants),
			Limit:          m.PlayerLimit,
		}
		return nil
	})
	if err != nil {
		return domain.Bet{}, err
	}

	if replayed {
		a.logger.InfoContext(ctx, "idempotent replay",
			slog.String("market_id", marketID),
			slog.String("bet_id", placed.ID),
			slog.String("idempotency_key", idempotencyKey),
		)
		return placed, nil
	}

	// Events fire after the atomic mutation commits, never from inside it:
	// the per-market lock is never held across notifier I/O.
	a.notifier.ParticipantJoined(ctx, joined)
	if activated {
		a.notifier.MarketStatusChanged(ctx, domain.MarketStatusChanged{
			MarketID: marketID,
			Status:   domain.MarketStatusActive,
		})
		a.scheduler.ScheduleResolution(marketID, a.delay)
	}

	a.logger.InfoContext(ctx, "wager admitted",
		slog.String("market_id", marketID),
		slog.String("bet_id", placed.ID),
		slog.String("participant", participantKey),
		slog.Int("outcome", outcome),
		slog.Float64("amount", amount),
		slog.Bool("activated", activated),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, "wager_admitted", map[string]any{
			"market_id": marketID,
			"bet_id":    placed.ID,
			"outcome":   outcome,
			"amount":    amount,
		}); err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	return placed, nil
}
