package engine

import (
	"fmt"
	"math/rand/v2"

	"github.com/klashbet/wagerpool/internal/domain"
)

// RandomOracle picks a uniform random winner among the outcomes that have at
// least one backer. This is the alpha/demo decision strategy; production
// deployments plug in an external judgement source instead.
func RandomOracle() domain.ResolveFunc {
	return func(m domain.Market, bets []domain.Bet) (int, bool, error) {
		backed := backedOutcomes(m, bets)
		switch len(backed) {
		case 0:
			return 0, true, nil
		case 1:
			// No opposition; resolution should already have taken the
			// refund path, but be safe.
			return 0, true, nil
		default:
			return backed[rand.IntN(len(backed))], false, nil
		}
	}
}

// FixedOracle always declares the given outcome the winner. Used for
// administrative pre-seeding and in tests.
func FixedOracle(outcome int) domain.ResolveFunc {
	return func(m domain.Market, bets []domain.Bet) (int, bool, error) {
		if outcome < 0 || outcome >= len(m.Outcomes) {
			return 0, false, fmt.Errorf("%w: index %d", domain.ErrInvalidOutcome, outcome)
		}
		return outcome, false, nil
	}
}

// NewOracle returns the ResolveFunc for a configured oracle name.
func NewOracle(name string) (domain.ResolveFunc, error) {
	switch name {
	case "", "random":
		return RandomOracle(), nil
	default:
		return nil, fmt.Errorf("unknown oracle %q", name)
	}
}

func backedOutcomes(m domain.Market, bets []domain.Bet) []int {
	seen := make(map[int]bool)
	for _, b := range bets {
		seen[b.Outcome] = true
	}
	backed := make([]int, 0, len(m.Outcomes))
	for i := range m.Outcomes {
		if seen[i] {
			backed = append(backed, i)
		}
	}
	return backed
}
