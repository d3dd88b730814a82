package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/klashbet/wagerpool/internal/domain"
	"github.com/klashbet/wagerpool/internal/engine"
)

func TestBetLedger_PlaceAssignsDefaults(t *testing.T) {
	ledger := engine.NewBetLedger()

	bet, err := ledger.Place(context.Background(), domain.Bet{
		MarketID:       "m1",
		Outcome:        0,
		Amount:         50,
		ParticipantKey: "alice",
	})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if bet.ID == "" {
		t.Error("expected a generated bet ID")
	}
	if bet.Status != domain.BetStatusConfirmed {
		t.Errorf("status = %s, want CONFIRMED", bet.Status)
	}
	if bet.PlacedAt.IsZero() {
		t.Error("expected PlacedAt to be set")
	}
}

func TestBetLedger_PlaceIdempotent(t *testing.T) {
	ledger := engine.NewBetLedger()
	ctx := context.Background()

	first, err := ledger.Place(ctx, domain.Bet{
		MarketID:       "m1",
		Amount:         50,
		ParticipantKey: "alice",
		IdempotencyKey: "tx-1",
	})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	replay, err := ledger.Place(ctx, domain.Bet{
		MarketID:       "m1",
		Amount:         9999, // different payload must not matter
		ParticipantKey: "alice",
		IdempotencyKey: "tx-1",
	})
	if err != nil {
		t.Fatalf("replay Place: %v", err)
	}
	if replay.ID != first.ID {
		t.Errorf("replay returned a new bet: %s != %s", replay.ID, first.ID)
	}
	if replay.Amount != 50 {
		t.Errorf("replay amount = %v, want the original 50", replay.Amount)
	}
	if got := ledger.ListByMarket(ctx, "m1"); len(got) != 1 {
		t.Errorf("market has %d bets, want 1", len(got))
	}
}

func TestBetLedger_PlaceRejectsKeyReuseAcrossMarkets(t *testing.T) {
	ledger := engine.NewBetLedger()
	ctx := context.Background()

	_, err := ledger.Place(ctx, domain.Bet{
		MarketID:       "m1",
		Amount:         50,
		ParticipantKey: "alice",
		IdempotencyKey: "tx-1",
	})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	// The same key on a different market is a conflict, not a replay.
	_, err = ledger.Place(ctx, domain.Bet{
		MarketID:       "m2",
		Amount:         50,
		ParticipantKey: "alice",
		IdempotencyKey: "tx-1",
	})
	if !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Fatalf("cross-market reuse err = %v, want ErrIdempotencyConflict", err)
	}
	if got := ledger.ListByMarket(ctx, "m2"); len(got) != 0 {
		t.Errorf("m2 has %d bets, want 0", len(got))
	}
}

func TestBetLedger_GetByIdempotencyKey(t *testing.T) {
	ledger := engine.NewBetLedger()
	ctx := context.Background()

	placed, _ := ledger.Place(ctx, domain.Bet{MarketID: "m1", ParticipantKey: "bob", IdempotencyKey: "tx-9"})

	got, ok := ledger.GetByIdempotencyKey(ctx, "tx-9")
	if !ok || got.ID != placed.ID {
		t.Errorf("lookup failed: ok=%v id=%s", ok, got.ID)
	}
	if _, ok := ledger.GetByIdempotencyKey(ctx, "missing"); ok {
		t.Error("unexpected hit for unknown key")
	}
}

func TestBetLedger_UpdateStatus(t *testing.T) {
	ledger := engine.NewBetLedger()
	ctx := context.Background()

	bet, _ := ledger.Place(ctx, domain.Bet{MarketID: "m1", Amount: 100, ParticipantKey: "alice"})

	if err := ledger.UpdateStatus(ctx, bet.ID, domain.BetStatusWon, 196, 96); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, _ := ledger.Get(ctx, bet.ID)
	if got.Status != domain.BetStatusWon || got.Payout != 196 || got.Profit != 96 {
		t.Errorf("bet = %+v", got)
	}
	if got.ResolvedAt == nil {
		t.Error("expected ResolvedAt on terminal status")
	}

	// Repeating the same terminal update is a no-op.
	if err := ledger.UpdateStatus(ctx, bet.ID, domain.BetStatusWon, 196, 96); err != nil {
		t.Errorf("idempotent repeat: %v", err)
	}

	// A conflicting terminal transition is rejected.
	err := ledger.UpdateStatus(ctx, bet.ID, domain.BetStatusLost, 0, -100)
	if err == nil || !strings.Contains(err.Error(), "terminal") {
		t.Errorf("conflicting transition err = %v", err)
	}

	if err := ledger.UpdateStatus(ctx, "missing", domain.BetStatusWon, 0, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown bet err = %v, want ErrNotFound", err)
	}
}

func TestBetLedger_MarkPaidAndListUnpaid(t *testing.T) {
	ledger := engine.NewBetLedger()
	ctx := context.Background()

	winner, _ := ledger.Place(ctx, domain.Bet{MarketID: "m1", Amount: 100, ParticipantKey: "alice"})
	loser, _ := ledger.Place(ctx, domain.Bet{MarketID: "m1", Amount: 100, ParticipantKey: "bob"})

	if err := ledger.UpdateStatus(ctx, winner.ID, domain.BetStatusWon, 196, 96); err != nil {
		t.Fatal(err)
	}
	if err := ledger.UpdateStatus(ctx, loser.ID, domain.BetStatusLost, 0, -100); err != nil {
		t.Fatal(err)
	}

	unpaid := ledger.ListUnpaid(ctx)
	if len(unpaid) != 1 || unpaid[0].ID != winner.ID {
		t.Fatalf("unpaid = %+v, want just the winner", unpaid)
	}

	paidAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := ledger.MarkPaid(ctx, winner.ID, "tx-abc", paidAt); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	got, _ := ledger.Get(ctx, winner.ID)
	if got.PaidAt == nil || !got.PaidAt.Equal(paidAt) || got.PayoutRef != "tx-abc" {
		t.Errorf("paid record = %+v", got)
	}

	// Paying twice keeps the first record.
	if err := ledger.MarkPaid(ctx, winner.ID, "tx-other", time.Now()); err != nil {
		t.Fatalf("second MarkPaid: %v", err)
	}
	got, _ = ledger.Get(ctx, winner.ID)
	if got.PayoutRef != "tx-abc" {
		t.Errorf("payout ref overwritten: %s", got.PayoutRef)
	}

	if len(ledger.ListUnpaid(ctx)) != 0 {
		t.Error("unpaid set should be empty after MarkPaid")
	}
}

func TestBetLedger_ListByParticipant(t *testing.T) {
	ledger := engine.NewBetLedger()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := ledger.Place(ctx, domain.Bet{
			MarketID:       "m1",
			Amount:         float64(10 * (i + 1)),
			ParticipantKey: "alice",
			PlacedAt:       base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	_, _ = ledger.Place(ctx, domain.Bet{MarketID: "m1", Amount: 5, ParticipantKey: "bob", PlacedAt: base})

	got := ledger.ListByParticipant(ctx, "alice")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].PlacedAt.Before(got[i-1].PlacedAt) {
			t.Errorf("not ordered by placement time at %d", i)
		}
	}
}
