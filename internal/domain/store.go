package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore owns Market records and their pools. MutateAtomic is the only
// way to change a market: fn receives an exclusive, consistent view, and no
// partial mutation survives an fn error. Get returns a snapshot copy, never
// a live reference.
type MarketStore interface {
	Create(ctx context.Context, spec MarketSpec) (Market, error)
	Get(ctx context.Context, id string) (Market, bool)
	List(ctx context.Context, opts ListOpts) []Market
	MutateAtomic(ctx context.Context, id string, fn func(*Market) error) error
}

// BetLedger owns Bet records and enforces idempotency. Place returns the
// previously stored bet when the idempotency key was already recorded.
// UpdateStatus is a no-op (not an error) when the bet is already in the
// requested terminal status.
type BetLedger interface {
	Place(ctx context.Context, bet Bet) (Bet, error)
	Get(ctx context.Context, id string) (Bet, bool)
	GetByIdempotencyKey(ctx context.Context, key string) (Bet, bool)
	ListByMarket(ctx context.Context, marketID string) []Bet
	ListByParticipant(ctx context.Context, key string) []Bet
	UpdateStatus(ctx context.Context, betID string, status BetStatus, payout, profit float64) error
	MarkPaid(ctx context.Context, betID string, ref string, at time.Time) error
	ListUnpaid(ctx context.Context) []Bet
}

// Notifier publishes lifecycle events to interested observers. Delivery is
// best-effort; the engine never blocks on acknowledgement.
type Notifier interface {
	ParticipantJoined(ctx context.Context, e ParticipantJoined)
	MarketStatusChanged(ctx context.Context, e MarketStatusChanged)
	MarketResolved(ctx context.Context, e MarketResolved)
}

// Settler moves a payout to its recipient through an external transfer
// gateway. Calls are fallible and not assumed idempotent; callers key retries
// by bet ID via ref.
type Settler interface {
	Transfer(ctx context.Context, recipient string, amount float64, ref string) (txRef string, err error)
}

// ResolveFunc decides the winning outcome for a market. isRefund signals a
// degenerate market (all stakes on one outcome) that should be unwound
// without a fee.
type ResolveFunc func(m Market, bets []Bet) (winningOutcome int, isRefund bool, err error)

// MarketArchive persists terminal markets for audit. Markets are never
// deleted from the engine, only archived once terminal.
type MarketArchive interface {
	Archive(ctx context.Context, m Market) error
	Get(ctx context.Context, id string) (Market, error)
	ListResolvedBefore(ctx context.Context, cutoff time.Time, opts ListOpts) ([]Market, error)
}

// BetArchive persists settled bets alongside their markets.
type BetArchive interface {
	ArchiveBatch(ctx context.Context, bets []Bet) error
	ListByMarket(ctx context.Context, marketID string) ([]Bet, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of admissions and resolutions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
