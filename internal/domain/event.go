package domain

import "time"

// Event type names published by the engine. These travel as the "type" field
// of the JSON envelope on the signal bus and out to WebSocket clients.
const (
	EventParticipantJoined   = "participant_joined"
	EventMarketStatusChanged = "market_status_changed"
	EventMarketResolved      = "market_resolved"
)

// ParticipantJoined is emitted after an admission commits.
type ParticipantJoined struct {
	MarketID       string  `json:"market_id"`
	ParticipantKey string  `json:"participant_key"`
	Outcome        int     `json:"outcome"`
	Amount         float64 `json:"amount"`
	CurrentCount   int     `json:"current_count"`
	Limit          int     `json:"limit"`
}

// MarketStatusChanged is emitted on every lifecycle transition.
type MarketStatusChanged struct {
	MarketID string       `json:"market_id"`
	Status   MarketStatus `json:"status"`
}

// MarketResolved is emitted exactly once per market, after settlement state
// has been committed to the ledger.
type MarketResolved struct {
	MarketID       string  `json:"market_id"`
	WinningOutcome *int    `json:"winning_outcome,omitempty"`
	IsRefund       bool    `json:"is_refund"`
	TotalPool      float64 `json:"total_pool"`
	Fee            float64 `json:"fee"`
	WinnerCount    int     `json:"winner_count"`
	PayoutPerWin   float64 `json:"payout_per_winner"`
}

// EventEnvelope wraps a payload for transport on the signal bus.
type EventEnvelope struct {
	Type     string    `json:"type"`
	MarketID string    `json:"market_id"`
	At       time.Time `json:"at"`
	Payload  any       `json:"payload"`
}
