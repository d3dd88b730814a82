package engine_test

import (
	"errors"
	"testing"

	"github.com/klashbet/wagerpool/internal/domain"
	"github.com/klashbet/wagerpool/internal/engine"
)

func marketWithOutcomes() domain.Market {
	return domain.Market{
		ID:       "m1",
		Outcomes: [2]string{"Yes", "No"},
	}
}

func TestFixedOracle(t *testing.T) {
	oracle := engine.FixedOracle(1)
	winning, refund, err := oracle(marketWithOutcomes(), nil)
	if err != nil || refund || winning != 1 {
		t.Errorf("got (%d, %v, %v), want (1, false, nil)", winning, refund, err)
	}

	_, _, err = engine.FixedOracle(7)(marketWithOutcomes(), nil)
	if !errors.Is(err, domain.ErrInvalidOutcome) {
		t.Errorf("err = %v, want ErrInvalidOutcome", err)
	}
}

func TestRandomOracle_PicksBackedOutcome(t *testing.T) {
	oracle := engine.RandomOracle()
	bets := []domain.Bet{
		{Outcome: 0, Amount: 100},
		{Outcome: 1, Amount: 100},
	}

	for i := 0; i < 50; i++ {
		winning, refund, err := oracle(marketWithOutcomes(), bets)
		if err != nil {
			t.Fatalf("oracle: %v", err)
		}
		if refund {
			t.Fatal("unexpected refund with two-sided backing")
		}
		if winning != 0 && winning != 1 {
			t.Fatalf("winning = %d, want 0 or 1", winning)
		}
	}
}

func TestRandomOracle_NoOppositionRefunds(t *testing.T) {
	oracle := engine.RandomOracle()

	_, refund, err := oracle(marketWithOutcomes(), nil)
	if err != nil || !refund {
		t.Errorf("empty bet set: refund=%v err=%v, want refund", refund, err)
	}

	oneSided := []domain.Bet{{Outcome: 1, Amount: 100}, {Outcome: 1, Amount: 50}}
	_, refund, err = oracle(marketWithOutcomes(), oneSided)
	if err != nil || !refund {
		t.Errorf("one-sided bet set: refund=%v err=%v, want refund", refund, err)
	}
}

func TestNewOracle(t *testing.T) {
	if _, err := engine.NewOracle(""); err != nil {
		t.Errorf("empty name should default to random: %v", err)
	}
	if _, err := engine.NewOracle("random"); err != nil {
		t.Errorf("random: %v", err)
	}
	if _, err := engine.NewOracle("tea-leaves"); err == nil {
		t.Error("unknown oracle name should fail")
	}
}
