package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klashbet/wagerpool/internal/domain"
)

// BetLedger owns all bet records. It is the sole authority on per-bet
// settlement state and enforces idempotent placement: a replayed idempotency
// key returns the originally stored bet with no further side effects.
type BetLedger struct {
	mu        sync.RWMutex
	bets      map[string]*domain.Bet
	byIdemKey map[string]string   // idempotency key -> bet ID
	byMarket  map[string][]string // market ID -> bet IDs in placement order
	byKey     map[string][]string // participant key -> bet IDs in placement order
	now       func() time.Time
}

// NewBetLedger creates an empty BetLedger.
func NewBetLedger() *BetLedger {
	return &BetLedger{
		bets:      make(map[string]*domain.Bet),
		byIdemKey: make(map[string]string),
		byMarket:  make(map[string][]string),
		byKey:     make(map[string][]string),
		now:       time.Now,
	}
}

func cloneBet(b *domain.Bet) domain.Bet {
	out := *b
	if b.ResolvedAt != nil {
		t := *b.ResolvedAt
		out.ResolvedAt = &t
	}
	if b.PaidAt != nil {
		t := *b.PaidAt
		out.PaidAt = &t
	}
	return out
}

// Place inserts a new bet. An idempotency key is bound to the market it was
// first admitted to: replaying it there returns the originally stored bet
// instead of creating a duplicate, which is what makes client retries after a
// timeout safe. Reusing the key on another market fails with
// ErrIdempotencyConflict.
func (l *BetLedger) Place(ctx context.Context, bet domain.Bet) (domain.Bet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if bet.IdempotencyKey != "" {
		if id, ok := l.byIdemKey[bet.IdempotencyKey]; ok {
			prior := l.bets[id]
			if prior.MarketID != bet.MarketID {
				return domain.Bet{}, fmt.Errorf("key %s already used on market %s: %w",
					bet.IdempotencyKey, prior.MarketID, domain.ErrIdempotencyConflict)
			}
			return cloneBet(prior), nil
		}
	}

	if bet.ID == "" {
		bet.ID = uuid.New().String()
	}
	if bet.PlacedAt.IsZero() {
		bet.PlacedAt = l.now().UTC()
	}
	if bet.Status == "" {
		bet.Status = domain.BetStatusConfirmed
	}

	stored := cloneBet(&bet)
	l.bets[stored.ID] = &stored
	if stored.IdempotencyKey != "" {
		l.byIdemKey[stored.IdempotencyKey] = stored.ID
	}
	l.byMarket[stored.MarketID] = append(l.byMarket[stored.MarketID], stored.ID)
	l.byKey[stored.ParticipantKey] = append(l.byKey[stored.ParticipantKey], stored.ID)

	return cloneBet(&stored), nil
}

// Get returns a bet by ID.
func (l *BetLedger) Get(ctx context.Context, id string) (domain.Bet, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.bets[id]
	if !ok {
		return domain.Bet{}, false
	}
	return cloneBet(b), true
}

// GetByIdempotencyKey returns the bet recorded under the given client key.
func (l *BetLedger) GetByIdempotencyKey(ctx context.Context, key string) (domain.Bet, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byIdemKey[key]
	if !ok {
		return domain.Bet{}, false
	}
	return cloneBet(l.bets[id]), true
}

func (l *BetLedger) collect(ids []string) []domain.Bet {
	out := make([]domain.Bet, 0, len(ids))
	for _, id := range ids {
		if b, ok := l.bets[id]; ok {
			out = append(out, cloneBet(b))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PlacedAt.Before(out[j].PlacedAt)
	})
	return out
}

// ListByMarket returns all bets for a market ordered by placement time.
func (l *BetLedger) ListByMarket(ctx context.Context, marketID string) []domain.Bet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collect(l.byMarket[marketID])
}

// ListByParticipant returns all bets for a participant ordered by placement time.
func (l *BetLedger) ListByParticipant(ctx context.Context, key string) []domain.Bet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collect(l.byKey[key])
}

// UpdateStatus records a bet's settlement outcome. Unknown bets fail with
// ErrNotFound. Repeating an update that already took effect is a no-op so
// resolution retries stay idempotent; conflicting terminal transitions are
// rejected.
func (l *BetLedger) UpdateStatus(ctx context.Context, betID string, status domain.BetStatus, payout, profit float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.bets[betID]
	if !ok {
		return fmt.Errorf("bet %s: %w", betID, domain.ErrNotFound)
	}

	if b.Status.Terminal() {
		if b.Status == status {
			return nil
		}
		return fmt.Errorf("bet %s: cannot transition terminal status %s to %s", betID, b.Status, status)
	}

	b.Status = status
	b.Payout = payout
	b.Profit = profit
	if status.Terminal() {
		t := l.now().UTC()
		b.ResolvedAt = &t
	}
	return nil
}

// MarkPaid records a completed payout transfer against the bet.
func (l *BetLedger) MarkPaid(ctx context.Context, betID string, ref string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.bets[betID]
	if !ok {
		return fmt.Errorf("bet %s: %w", betID, domain.ErrNotFound)
	}
	if b.PaidAt != nil {
		return nil
	}
	t := at.UTC()
	b.PaidAt = &t
	b.PayoutRef = ref
	return nil
}

// ListUnpaid returns bets owed a payout whose transfer has not completed.
// The reconciler drains this set out-of-band.
func (l *BetLedger) ListUnpaid(ctx context.Context) []domain.Bet {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.Bet
	for _, b := range l.bets {
		if b.Unpaid() {
			out = append(out, cloneBet(b))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PlacedAt.Before(out[j].PlacedAt)
	})
	return out
}

// Compile-time interface check.
var _ domain.BetLedger = (*BetLedger)(nil)
