package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/klashbet/wagerpool/internal/domain"
	"github.com/klashbet/wagerpool/internal/engine"
)

type admissionFixture struct {
	store     *engine.MarketStore
	ledger    *engine.BetLedger
	events    *eventRecorder
	scheduler *schedulerRecorder
	admission *engine.Admission
}

func newAdmissionFixture(t *testing.T) *admissionFixture {
	t.Helper()
	f := &admissionFixture{
		store:     engine.NewMarketStore(),
		ledger:    engine.NewBetLedger(),
		events:    &eventRecorder{},
		scheduler: &schedulerRecorder{},
	}
	f.admission = engine.NewAdmission(f.store, f.ledger, f.events, f.scheduler, nil, time.Minute, discardLogger())
	return f
}

func (f *admissionFixture) createMarket(t *testing.T, limit int) domain.Market {
	t.Helper()
	spec := validSpec()
	spec.PlayerLimit = limit
	m, err := f.store.Create(context.Background(), spec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return m
}

func TestAdmission_AdmitsWager(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, 3)

	bet, err := f.admission.PlaceWager(ctx, m.ID, 0, 100, "alice", "tx-1")
	if err != nil {
		t.Fatalf("PlaceWager: %v", err)
	}
	if bet.Status != domain.BetStatusConfirmed {
		t.Errorf("status = %s, want CONFIRMED", bet.Status)
	}
	// Sole backer of the sole funded outcome: indicative multiple is 1.
	if bet.OddsAtPlacement != 1 {
		t.Errorf("odds = %v, want 1", bet.OddsAtPlacement)
	}

	fresh, _ := f.store.Get(ctx, m.ID)
	if fresh.Pools.Outcomes[0] != 100 || fresh.Pools.Total != 100 {
		t.Errorf("pools = %+v", fresh.Pools)
	}
	if len(fresh.Participants) != 1 || fresh.Participants[0].Key != "alice" {
		t.Errorf("participants = %+v", fresh.Participants)
	}
	if fresh.Status != domain.MarketStatusWaiting {
		t.Errorf("status = %s, market below limit must stay waiting", fresh.Status)
	}
	if len(f.events.joined) != 1 {
		t.Errorf("joined events = %d, want 1", len(f.events.joined))
	}
}

func TestAdmission_OddsReflectPoolBalance(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, 4)

	if _, err := f.admission.PlaceWager(ctx, m.ID, 0, 300, "alice", ""); err != nil {
		t.Fatal(err)
	}
	bet, err := f.admission.PlaceWager(ctx, m.ID, 1, 100, "bob", "")
	if err != nil {
		t.Fatal(err)
	}
	// (300+100)/(0+100) = 4.
	if bet.OddsAtPlacement != 4 {
		t.Errorf("odds = %v, want 4", bet.OddsAtPlacement)
	}
}

func TestAdmission_ActivatesAtPlayerLimit(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, 2)

	if _, err := f.admission.PlaceWager(ctx, m.ID, 0, 100, "alice", ""); err != nil {
		t.Fatal(err)
	}
	if f.scheduler.count() != 0 {
		t.Fatal("resolution scheduled before the market filled")
	}
	if _, err := f.admission.PlaceWager(ctx, m.ID, 1, 100, "bob", ""); err != nil {
		t.Fatal(err)
	}

	fresh, _ := f.store.Get(ctx, m.ID)
	if fresh.Status != domain.MarketStatusActive {
		t.Errorf("status = %s, want ACTIVE", fresh.Status)
	}
	if f.scheduler.count() != 1 {
		t.Errorf("scheduled = %d, want 1", f.scheduler.count())
	}
	if st, ok := f.events.lastStatus(); !ok || st.Status != domain.MarketStatusActive {
		t.Errorf("last status event = %+v", st)
	}
}

func TestAdmission_ValidationFailures(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, 3)

	if _, err := f.admission.PlaceWager(ctx, m.ID, 0, 100, "alice", ""); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		outcome int
		amount  float64
		key     string
		want    error
	}{
		{"zero amount", 0, 0, "bob", domain.ErrInvalidAmount},
		{"negative amount", 0, -5, "bob", domain.ErrInvalidAmount},
		{"outcome out of range", 2, 100, "bob", domain.ErrInvalidOutcome},
		{"negative outcome", -1, 100, "bob", domain.ErrInvalidOutcome},
		{"duplicate participant", 1, 100, "alice", domain.ErrDuplicateParticipant},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.admission.PlaceWager(ctx, m.ID, tc.outcome, tc.amount, tc.key, "")
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}

	// Rejections must not touch the pools.
	fresh, _ := f.store.Get(ctx, m.ID)
	if fresh.Pools.Total != 100 || len(fresh.Participants) != 1 {
		t.Errorf("rejected wagers mutated the market: %+v", fresh.Pools)
	}
}

func TestAdmission_MarketFull(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, 2)

	if _, err := f.admission.PlaceWager(ctx, m.ID, 0, 100, "alice", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.admission.PlaceWager(ctx, m.ID, 1, 100, "bob", ""); err != nil {
		t.Fatal(err)
	}

	// A full market went ACTIVE, so the closed check trips first.
	_, err := f.admission.PlaceWager(ctx, m.ID, 0, 100, "carol", "")
	if !errors.Is(err, domain.ErrMarketFull) && !errors.Is(err, domain.ErrMarketClosed) {
		t.Errorf("err = %v, want full or closed", err)
	}
}

func TestAdmission_RejectsWagerOnResolvedMarket(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, 2)

	err := f.store.MutateAtomic(ctx, m.ID, func(w *domain.Market) error {
		w.Status = domain.MarketStatusResolved
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.admission.PlaceWager(ctx, m.ID, 0, 100, "alice", "")
	if !errors.Is(err, domain.ErrMarketClosed) {
		t.Errorf("err = %v, want ErrMarketClosed", err)
	}
}

func TestAdmission_IdempotentReplay(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, 3)

	first, err := f.admission.PlaceWager(ctx, m.ID, 0, 100, "alice", "tx-1")
	if err != nil {
		t.Fatal(err)
	}

	// Retrying the identical request must have no further economic effect.
	replay, err := f.admission.PlaceWager(ctx, m.ID, 0, 100, "alice", "tx-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.ID != first.ID {
		t.Errorf("replay bet ID %s, want original %s", replay.ID, first.ID)
	}

	fresh, _ := f.store.Get(ctx, m.ID)
	if fresh.Pools.Total != 100 {
		t.Errorf("pool total = %v after replay, want 100", fresh.Pools.Total)
	}
	if len(fresh.Participants) != 1 {
		t.Errorf("participants = %d after replay, want 1", len(fresh.Participants))
	}
	if got := f.ledger.ListByMarket(ctx, m.ID); len(got) != 1 {
		t.Errorf("ledger has %d bets after replay, want 1", len(got))
	}
	if len(f.events.joined) != 1 {
		t.Errorf("joined events = %d after replay, want 1", len(f.events.joined))
	}
}

func TestAdmission_IdempotencyKeyBoundToMarket(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	mA := f.createMarket(t, 3)
	mB := f.createMarket(t, 3)

	if _, err := f.admission.PlaceWager(ctx, mA.ID, 0, 100, "alice", "tx-1"); err != nil {
		t.Fatal(err)
	}

	// Reusing the key on another market must fail and unwind that market's
	// mutation, not hand back the first market's bet.
	_, err := f.admission.PlaceWager(ctx, mB.ID, 0, 100, "alice", "tx-1")
	if !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Fatalf("err = %v, want ErrIdempotencyConflict", err)
	}

	fresh, _ := f.store.Get(ctx, mB.ID)
	bets := f.ledger.ListByMarket(ctx, mB.ID)
	var sum float64
	for _, b := range bets {
		sum += b.Amount
	}
	if fresh.Pools.Total != sum {
		t.Errorf("pools.total = %v but sum(bets) = %v", fresh.Pools.Total, sum)
	}
	if len(fresh.Participants) != 0 || fresh.Pools.Total != 0 {
		t.Errorf("rejected key reuse mutated the market: %+v", fresh.Pools)
	}
	if len(bets) != 0 {
		t.Errorf("ledger has %d bets for the second market, want 0", len(bets))
	}
}

func TestAdmission_PoolConservation(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, 5)

	amounts := []float64{10, 25.5, 40, 7.25}
	var sum float64
	for i, amt := range amounts {
		key := fmt.Sprintf("player-%d", i)
		if _, err := f.admission.PlaceWager(ctx, m.ID, i%2, amt, key, ""); err != nil {
			t.Fatal(err)
		}
		sum += amt
	}

	fresh, _ := f.store.Get(ctx, m.ID)
	if fresh.Pools.Total != sum {
		t.Errorf("total = %v, want %v", fresh.Pools.Total, sum)
	}
	if got := fresh.Pools.Outcomes[0] + fresh.Pools.Outcomes[1]; got != fresh.Pools.Total {
		t.Errorf("outcome pools sum %v != total %v", got, fresh.Pools.Total)
	}
}

func TestAdmission_UnknownMarket(t *testing.T) {
	f := newAdmissionFixture(t)
	_, err := f.admission.PlaceWager(context.Background(), "nope", 0, 100, "alice", "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
