package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/klashbet/wagerpool/internal/domain"
	"github.com/klashbet/wagerpool/internal/engine"
)

func validSpec() domain.MarketSpec {
	return domain.MarketSpec{
		Question:           "Will it rain tomorrow?",
		Outcomes:           [2]string{"Yes", "No"},
		PlayerLimit:        2,
		PlatformFeePercent: 0.02,
		ClosingTime:        time.Now().Add(time.Hour),
	}
}

func TestMarketStore_CreateDefaults(t *testing.T) {
	store := engine.NewMarketStore()

	m, err := store.Create(context.Background(), validSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if m.ID == "" {
		t.Error("expected a generated ID")
	}
	if m.Status != domain.MarketStatusWaiting {
		t.Errorf("status = %s, want %s", m.Status, domain.MarketStatusWaiting)
	}
	if len(m.Pools.Outcomes) != 2 {
		t.Fatalf("pools outcomes = %d, want 2", len(m.Pools.Outcomes))
	}
	if m.Pools.Outcomes[0] != 0 || m.Pools.Outcomes[1] != 0 || m.Pools.Total != 0 {
		t.Errorf("pools not zeroed: %+v", m.Pools)
	}
	if len(m.Participants) != 0 {
		t.Errorf("participants = %d, want 0", len(m.Participants))
	}
}

func TestMarketStore_CreateInvalidSpec(t *testing.T) {
	store := engine.NewMarketStore()

	cases := []struct {
		name   string
		mutate func(*domain.MarketSpec)
	}{
		{"empty question", func(s *domain.MarketSpec) { s.Question = "" }},
		{"unnamed outcome", func(s *domain.MarketSpec) { s.Outcomes[1] = "" }},
		{"player limit below two", func(s *domain.MarketSpec) { s.PlayerLimit = 1 }},
		{"negative fee", func(s *domain.MarketSpec) { s.PlatformFeePercent = -0.01 }},
		{"fee of one", func(s *domain.MarketSpec) { s.PlatformFeePercent = 1.0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := validSpec()
			tc.mutate(&spec)
			_, err := store.Create(context.Background(), spec)
			if !errors.Is(err, domain.ErrInvalidSpec) {
				t.Errorf("err = %v, want ErrInvalidSpec", err)
			}
		})
	}
}

func TestMarketStore_GetSnapshotIsolation(t *testing.T) {
	store := engine.NewMarketStore()
	ctx := context.Background()

	m, err := store.Create(ctx, validSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Mutating the returned snapshot must not leak into the store.
	m.Pools.Outcomes[0] = 999
	m.Status = domain.MarketStatusResolved
	m.Participants = append(m.Participants, domain.Participant{Key: "intruder"})

	fresh, ok := store.Get(ctx, m.ID)
	if !ok {
		t.Fatal("Get: market not found")
	}
	if fresh.Pools.Outcomes[0] != 0 {
		t.Errorf("pool mutated through snapshot: %v", fresh.Pools.Outcomes[0])
	}
	if fresh.Status != domain.MarketStatusWaiting {
		t.Errorf("status mutated through snapshot: %s", fresh.Status)
	}
	if len(fresh.Participants) != 0 {
		t.Errorf("participants mutated through snapshot: %d", len(fresh.Participants))
	}
}

func TestMarketStore_MutateAtomicRollback(t *testing.T) {
	store := engine.NewMarketStore()
	ctx := context.Background()

	m, err := store.Create(ctx, validSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	failErr := errors.New("boom")
	err = store.MutateAtomic(ctx, m.ID, func(w *domain.Market) error {
		w.Pools.Outcomes[0] = 100
		w.Pools.Total = 100
		w.Status = domain.MarketStatusActive
		return failErr
	})
	if !errors.Is(err, failErr) {
		t.Fatalf("err = %v, want boom", err)
	}

	fresh, _ := store.Get(ctx, m.ID)
	if fresh.Pools.Total != 0 || fresh.Status != domain.MarketStatusWaiting {
		t.Errorf("failed mutation leaked: total=%v status=%s", fresh.Pools.Total, fresh.Status)
	}
}

func TestMarketStore_MutateAtomicNotFound(t *testing.T) {
	store := engine.NewMarketStore()
	err := store.MutateAtomic(context.Background(), "nope", func(*domain.Market) error { return nil })
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMarketStore_MutateAtomicBusy(t *testing.T) {
	store := engine.NewMarketStore(engine.WithMaxWait(30 * time.Millisecond))
	ctx := context.Background()

	m, err := store.Create(ctx, validSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- store.MutateAtomic(ctx, m.ID, func(*domain.Market) error {
			close(inside)
			<-release
			return nil
		})
	}()

	<-inside
	err = store.MutateAtomic(ctx, m.ID, func(*domain.Market) error { return nil })
	if !errors.Is(err, domain.ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("holder mutation failed: %v", err)
	}
}

func TestMarketStore_ListNewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store := engine.NewMarketStore(engine.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		m, err := store.Create(ctx, validSpec())
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, m.ID)
	}

	all := store.List(ctx, domain.ListOpts{})
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].ID != ids[2] || all[2].ID != ids[0] {
		t.Errorf("not newest-first: got %s,%s,%s", all[0].ID, all[1].ID, all[2].ID)
	}

	page := store.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != ids[1] {
		t.Errorf("pagination broken: %+v", page)
	}

	if got := store.List(ctx, domain.ListOpts{Offset: 10}); got != nil {
		t.Errorf("offset past end should return nil, got %d items", len(got))
	}
}
