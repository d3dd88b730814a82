package domain

import "time"

// BetStatus represents the settlement state of a single stake.
type BetStatus string

const (
	BetStatusPending   BetStatus = "PENDING"
	BetStatusConfirmed BetStatus = "CONFIRMED"
	BetStatusWon       BetStatus = "WON"
	BetStatusLost      BetStatus = "LOST"
	BetStatusRefunded  BetStatus = "REFUNDED"
)

// Terminal reports whether the bet has reached a settlement outcome.
func (s BetStatus) Terminal() bool {
	return s == BetStatusWon || s == BetStatusLost || s == BetStatusRefunded
}

// Bet is a participant's stake, tracked independently of the market's
// participant list for audit and idempotency. A bet weak-references its
// market by ID; the bet ledger is the sole owner of per-bet settlement state.
type Bet struct {
	ID              string     `json:"id"`
	MarketID        string     `json:"market_id"`
	Outcome         int        `json:"outcome"` // index into market outcomes
	Amount          float64    `json:"amount"`
	ParticipantKey  string     `json:"participant_key"`
	IdempotencyKey  string     `json:"idempotency_key,omitempty"` // client tx reference
	Status          BetStatus  `json:"status"`
	OddsAtPlacement float64    `json:"odds_at_placement"`
	Payout          float64    `json:"payout"`
	Profit          float64    `json:"profit"`
	PlacedAt        time.Time  `json:"placed_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	PayoutRef       string     `json:"payout_ref,omitempty"` // transfer reference from the settlement gateway
}

// Unpaid reports whether the bet is owed a payout that has not yet been
// delivered by the settlement collaborator.
func (b *Bet) Unpaid() bool {
	return (b.Status == BetStatusWon || b.Status == BetStatusRefunded) &&
		b.Payout > 0 && b.PaidAt == nil
}
