package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klashbet/wagerpool/internal/domain"
)

// MarketArchive implements domain.MarketArchive using PostgreSQL. The live
// engine keeps markets in memory; terminal markets land here so history
// survives restarts and can be queried long after settlement.
type MarketArchive struct {
	pool *pgxpool.Pool
}

// NewMarketArchive creates a MarketArchive backed by the given connection pool.
func NewMarketArchive(pool *pgxpool.Pool) *MarketArchive {
	return &MarketArchive{pool: pool}
}

// Archive upserts a terminal market. Resolution retries make archival
// re-entrant, so conflicts overwrite rather than fail.
func (s *MarketArchive) Archive(ctx context.Context, m domain.Market) error {
	participants, err := json.Marshal(m.Participants)
	if err != nil {
		return fmt.Errorf("postgres: marshal participants for market %s: %w", m.ID, err)
	}

	const query = `
		INSERT INTO markets_archive (
			id, question, outcome_0, outcome_1, status,
			player_limit, fee_percent,
			pool_outcome_0, pool_outcome_1, pool_total,
			participants, closing_time, resolution_time, winning_outcome,
			created_at, updated_at, archived_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			$8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status          = EXCLUDED.status,
			pool_outcome_0  = EXCLUDED.pool_outcome_0,
			pool_outcome_1  = EXCLUDED.pool_outcome_1,
			pool_total      = EXCLUDED.pool_total,
			participants    = EXCLUDED.participants,
			resolution_time = EXCLUDED.resolution_time,
			winning_outcome = EXCLUDED.winning_outcome,
			updated_at      = EXCLUDED.updated_at,
			archived_at     = NOW()`

	var pool0, pool1 float64
	if len(m.Pools.Outcomes) > 0 {
		pool0 = m.Pools.Outcomes[0]
	}
	if len(m.Pools.Outcomes) > 1 {
		pool1 = m.Pools.Outcomes[1]
	}

	_, err = s.pool.Exec(ctx, query,
		m.ID, m.Question, m.Outcomes[0], m.Outcomes[1], string(m.Status),
		m.PlayerLimit, m.PlatformFeePercent,
		pool0, pool1, m.Pools.Total,
		participants, m.ClosingTime, m.ResolutionTime, m.WinningOutcome,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: archive market %s: %w", m.ID, err)
	}
	return nil
}

const marketArchiveCols = `id, question, outcome_0, outcome_1, status,
	player_limit, fee_percent,
	pool_outcome_0, pool_outcome_1, pool_total,
	participants, closing_time, resolution_time, winning_outcome,
	created_at, updated_at`

func scanArchivedMarket(row pgx.Row) (domain.Market, error) {
	var (
		m            domain.Market
		status       string
		pool0, pool1 float64
		participants []byte
	)
	err := row.Scan(
		&m.ID, &m.Question, &m.Outcomes[0], &m.Outcomes[1], &status,
		&m.PlayerLimit, &m.PlatformFeePercent,
		&pool0, &pool1, &m.Pools.Total,
		&participants, &m.ClosingTime, &m.ResolutionTime, &m.WinningOutcome,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	m.Pools.Outcomes = []float64{pool0, pool1}
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &m.Participants); err != nil {
			return domain.Market{}, fmt.Errorf("unmarshal participants: %w", err)
		}
	}
	return m, nil
}

// Get retrieves an archived market by ID.
func (s *MarketArchive) Get(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketArchiveCols+` FROM markets_archive WHERE id = $1`, id)
	m, err := scanArchivedMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("market %s: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get archived market %s: %w", id, err)
	}
	return m, nil
}

// ListResolvedBefore returns resolved markets settled before the cutoff,
// oldest first. The blob exporter walks this to build settlement dumps.
func (s *MarketArchive) ListResolvedBefore(ctx context.Context, cutoff time.Time, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketArchiveCols + `
		FROM markets_archive
		WHERE status = 'RESOLVED' AND resolution_time < $1
		ORDER BY resolution_time ASC`
	args := []any{cutoff}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanArchivedMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan archived market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list resolved markets rows: %w", err)
	}
	return markets, nil
}

// Compile-time interface check.
var _ domain.MarketArchive = (*MarketArchive)(nil)
