// Package engine implements the wager-pool and settlement engine: an
// in-memory market store with per-market exclusive mutation, a bet ledger
// with idempotent placement, the admission controller, and the resolution
// engine that settles each market exactly once.
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

// defaultMaxWait bounds how long a caller blocks waiting for a market's
// exclusive section before failing with ErrBusy.
const defaultMaxWait = 2 * time.Second

// marketEntry pairs a market with its exclusive section. The lock is a
// 1-buffered channel so acquisition can race against context cancellation
// and the bounded-wait timer.
type marketEntry struct {
	lock   chan struct{}
	market *domain.Market
}

// MarketStore owns all market records. Mutual exclusion is per-market: two
// different markets admit and resolve fully in parallel, while all writers of
// one market serialize through MutateAtomic.
type MarketStore struct {
	mu      sync.RWMutex
	entries map[string]*marketEntry
	maxWait time.Duration
	now     func() time.Time
}

// MarketStoreOption customizes a MarketStore.
type MarketStoreOption func(*MarketStore)

// WithMaxWait overrides the bounded wait for the per-market exclusive section.
func WithMaxWait(d time.Duration) MarketStoreOption {
	return func(s *MarketStore) { s.maxWait = d }
}

// WithClock overrides the store's time source. Used by tests.
func WithClock(now func() time.Time) MarketStoreOption {
	return func(s *MarketStore) { s.now = now }
}

// NewMarketStore creates an empty MarketStore.
func NewMarketStore(opts ...MarketStoreOption) *MarketStore {
	s := &MarketStore{
		entries: make(map[string]*marketEntry),
		maxWait: defaultMaxWait,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create allocates a new market in WAITING_PARTICIPANTS with zeroed pools.
func (s *MarketStore) Create(ctx context.Context, spec domain.MarketSpec) (domain.Market, error) {
	if err := validateSpec(spec); err != nil {
		return domain.Market{}, err
	}

	now := s.now().UTC()
	m := &domain.Market{
		ID:                 uuid.New().String(),
		Question:           spec.Question,
		Outcomes:           spec.Outcomes,
		Status:             domain.MarketStatusWaiting,
		PlayerLimit:        spec.PlayerLimit,
		PlatformFeePercent: spec.PlatformFeePercent,
		Pools: domain.Pools{
			Outcomes: make([]float64, len(spec.Outcomes)),
		},
		ClosingTime: spec.ClosingTime,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	entry := &marketEntry{
		lock:   make(chan struct{}, 1),
		market: m,
	}

	s.mu.Lock()
	s.entries[m.ID] = entry
	s.mu.Unlock()

	return m.Clone(), nil
}

func validateSpec(spec domain.MarketSpec) error {
	if spec.Question == "" {
		return fmt.Errorf("%w: empty question", domain.ErrInvalidSpec)
	}
	if spec.Outcomes[0] == "" || spec.Outcomes[1] == "" {
		return fmt.Errorf("%w: both outcomes must be named", domain.ErrInvalidSpec)
	}
	if spec.PlayerLimit < 2 {
		return fmt.Errorf("%w: player limit %d < 2", domain.ErrInvalidSpec, spec.PlayerLimit)
	}
	if spec.PlatformFeePercent < 0 || spec.PlatformFeePercent >= 1 {
		return fmt.Errorf("%w: fee percent %v outside [0,1)", domain.ErrInvalidSpec, spec.PlatformFeePercent)
	}
	return nil
}

// Get returns a snapshot copy of the market. The copy can be read without
// holding any lock and never aliases store state.
func (s *MarketStore) Get(ctx context.Context, id string) (domain.Market, bool) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Market{}, false
	}

	// Take the exclusive section briefly so the snapshot is consistent with
	// any in-flight mutation.
	entry.lock <- struct{}{}
	snapshot := entry.market.Clone()
	<-entry.lock

	return snapshot, true
}

// List returns snapshot copies of all markets ordered by creation time,
// newest first.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) []domain.Market {
	s.mu.RLock()
	entries := make([]*marketEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	markets := make([]domain.Market, 0, len(entries))
	for _, e := range entries {
		e.lock <- struct{}{}
		markets = append(markets, e.market.Clone())
		<-e.lock
	}

	sort.Slice(markets, func(i, j int) bool {
		if markets[i].CreatedAt.Equal(markets[j].CreatedAt) {
			return markets[i].ID < markets[j].ID
		}
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(markets) {
			return nil
		}
		markets = markets[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(markets) {
		markets = markets[:opts.Limit]
	}
	return markets
}

// MutateAtomic runs fn against an exclusive, consistent view of the market.
// fn operates on a working copy; only when fn returns nil is the copy swapped
// in, so a failed mutation leaves the market untouched. Acquisition of the
// exclusive section is bounded: if the caller's context expires or the
// configured max wait elapses first, ErrBusy is returned and the caller may
// safely retry.
func (s *MarketStore) MutateAtomic(ctx context.Context, id string, fn func(*domain.Market) error) error {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("market %s: %w", id, domain.ErrNotFound)
	}

	timer := time.NewTimer(s.maxWait)
	defer timer.Stop()

	select {
	case entry.lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("market %s: %w: %v", id, domain.ErrBusy, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("market %s: %w: lock wait exceeded %v", id, domain.ErrBusy, s.maxWait)
	}
	defer func() { <-entry.lock }()

	working := entry.market.Clone()
	if err := fn(&working); err != nil {
		return err
	}
	working.UpdatedAt = s.now().UTC()
	entry.market = &working

	return nil
}

// Count returns the number of markets in the store.
func (s *MarketStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
