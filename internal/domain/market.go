package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	// MarketStatusWaiting means the market is open and waiting for
	// participants to fill the player limit.
	MarketStatusWaiting MarketStatus = "WAITING_PARTICIPANTS"
	// MarketStatusActive means the player limit has been reached and the
	// market is playing out until resolution.
	MarketStatusActive MarketStatus = "ACTIVE"
	// MarketStatusResolving means resolution is in progress. Readers see the
	// market as no longer open but not yet settled.
	MarketStatusResolving MarketStatus = "RESOLVING"
	// MarketStatusResolved is terminal: payouts have been computed and
	// recorded on the ledger.
	MarketStatusResolved MarketStatus = "RESOLVED"
	// MarketStatusCancelled is terminal: the market expired before filling
	// and all stakes were refunded.
	MarketStatusCancelled MarketStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s MarketStatus) Terminal() bool {
	return s == MarketStatusResolved || s == MarketStatusCancelled
}

// Pools tracks the accumulated stake behind each outcome. Total must always
// equal the sum of the per-outcome pools.
type Pools struct {
	Outcomes []float64 `json:"outcomes"`
	Total    float64   `json:"total"`
}

// Participant is a single admitted stake inside a market.
type Participant struct {
	Key      string    `json:"key"` // wallet or account identifier
	Outcome  int       `json:"outcome"`
	Amount   float64   `json:"amount"`
	JoinedAt time.Time `json:"joined_at"`
}

// Market is a binary-outcome proposition open for staking. Exactly two
// outcomes; winner-take-all with a platform fee skimmed at settlement.
type Market struct {
	ID                 string        `json:"id"`
	Question           string        `json:"question"`
	Outcomes           [2]string     `json:"outcomes"`
	Status             MarketStatus  `json:"status"`
	PlayerLimit        int           `json:"player_limit"`
	PlatformFeePercent float64       `json:"platform_fee_percent"` // fraction in [0,1)
	Pools              Pools         `json:"pools"`
	Participants       []Participant `json:"participants"`
	ClosingTime        time.Time     `json:"closing_time"`
	ResolutionTime     *time.Time    `json:"resolution_time,omitempty"`
	WinningOutcome     *int          `json:"winning_outcome,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// MarketSpec is the caller-supplied input for creating a market.
type MarketSpec struct {
	Question           string    `json:"question"`
	Outcomes           [2]string `json:"outcomes"`
	PlayerLimit        int       `json:"player_limit"`
	PlatformFeePercent float64   `json:"platform_fee_percent"`
	ClosingTime        time.Time `json:"closing_time"`
}

// HasParticipant reports whether the given participant key already holds a
// stake in this market.
func (m *Market) HasParticipant(key string) bool {
	for _, p := range m.Participants {
		if p.Key == key {
			return true
		}
	}
	return false
}

// Full reports whether the market has reached its player limit.
func (m *Market) Full() bool {
	return len(m.Participants) >= m.PlayerLimit
}

// Clone returns a deep copy of the market so callers can never mutate store
// state through a returned snapshot.
func (m *Market) Clone() Market {
	out := *m
	out.Pools.Outcomes = append([]float64(nil), m.Pools.Outcomes...)
	out.Participants = append([]Participant(nil), m.Participants...)
	if m.WinningOutcome != nil {
		w := *m.WinningOutcome
		out.WinningOutcome = &w
	}
	if m.ResolutionTime != nil {
		t := *m.ResolutionTime
		out.ResolutionTime = &t
	}
	return out
}
