package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klashbet/wagerpool/internal/domain"
)

// BetArchive implements domain.BetArchive using PostgreSQL. Settled bets are
// archived alongside their market in one pass after resolution.
type BetArchive struct {
	pool *pgxpool.Pool
}

// NewBetArchive creates a BetArchive backed by the given connection pool.
func NewBetArchive(pool *pgxpool.Pool) *BetArchive {
	return &BetArchive{pool: pool}
}

const betUpsert = `
	INSERT INTO bets_archive (
		id, market_id, outcome, amount, participant_key, idempotency_key,
		status, odds_at_placement, payout, profit,
		placed_at, resolved_at, paid_at, payout_ref, archived_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10,
		$11, $12, $13, $14, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		status      = EXCLUDED.status,
		payout      = EXCLUDED.payout,
		profit      = EXCLUDED.profit,
		resolved_at = EXCLUDED.resolved_at,
		paid_at     = EXCLUDED.paid_at,
		payout_ref  = EXCLUDED.payout_ref,
		archived_at = NOW()`

// ArchiveBatch upserts settled bets in a single batch round trip.
func (s *BetArchive) ArchiveBatch(ctx context.Context, bets []domain.Bet) error {
	if len(bets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, b := range bets {
		batch.Queue(betUpsert,
			b.ID, b.MarketID, b.Outcome, b.Amount, b.ParticipantKey, b.IdempotencyKey,
			string(b.Status), b.OddsAtPlacement, b.Payout, b.Profit,
			b.PlacedAt, b.ResolvedAt, b.PaidAt, b.PayoutRef,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range bets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: archive bet batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByMarket returns archived bets for a market ordered by placement time.
func (s *BetArchive) ListByMarket(ctx context.Context, marketID string) ([]domain.Bet, error) {
	const query = `
		SELECT id, market_id, outcome, amount, participant_key, idempotency_key,
			status, odds_at_placement, payout, profit,
			placed_at, resolved_at, paid_at, payout_ref
		FROM bets_archive
		WHERE market_id = $1
		ORDER BY placed_at ASC`

	rows, err := s.pool.Query(ctx, query, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list archived bets for %s: %w", marketID, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		var (
			b          domain.Bet
			status     string
			idemKey    *string
			payoutRef  *string
		)
		if err := rows.Scan(
			&b.ID, &b.MarketID, &b.Outcome, &b.Amount, &b.ParticipantKey, &idemKey,
			&status, &b.OddsAtPlacement, &b.Payout, &b.Profit,
			&b.PlacedAt, &b.ResolvedAt, &b.PaidAt, &payoutRef,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan archived bet: %w", err)
		}
		b.Status = domain.BetStatus(status)
		if idemKey != nil {
			b.IdempotencyKey = *idemKey
		}
		if payoutRef != nil {
			b.PayoutRef = *payoutRef
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list archived bets rows: %w", err)
	}
	return bets, nil
}

// Compile-time interface check.
var _ domain.BetArchive = (*BetArchive)(nil)
