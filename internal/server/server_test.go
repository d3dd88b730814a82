package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klashbet/wagerpool/internal/domain"
	"github.com/klashbet/wagerpool/internal/engine"
	"github.com/klashbet/wagerpool/internal/server"
	"github.com/klashbet/wagerpool/internal/server/handler"
)

// noopNotifier drops events; HTTP tests assert through the API surface.
type noopNotifier struct{}

func (noopNotifier) ParticipantJoined(context.Context, domain.ParticipantJoined)     {}
func (noopNotifier) MarketStatusChanged(context.Context, domain.MarketStatusChanged) {}
func (noopNotifier) MarketResolved(context.Context, domain.MarketResolved)           {}

type apiFixture struct {
	srv *httptest.Server
}

// newAPIFixture stands up the full route table over a real engine with no
// external backends: memory-only stores, no cache, no archive, no settler.
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := engine.NewMarketStore()
	ledger := engine.NewBetLedger()
	notifier := noopNotifier{}

	resolution := engine.NewResolution(store, ledger, notifier, engine.RandomOracle(), nil, nil, nil, nil, logger)
	scheduler := engine.NewScheduler(resolution, logger)
	scheduler.Start(context.Background())
	t.Cleanup(scheduler.Stop)
	admission := engine.NewAdmission(store, ledger, notifier, scheduler, nil, time.Minute, logger)

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(nil, logger),
		Markets: handler.NewMarketHandler(store, nil, nil, scheduler, logger),
		Wagers:  handler.NewWagerHandler(admission, ledger, nil, logger),
		Resolve: handler.NewResolveHandler(resolution, store, nil, logger),
		Admin:   handler.NewAdminHandler(nil, nil, logger),
	}

	s := server.NewServer(server.Config{Port: 0}, handlers, nil, logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &apiFixture{srv: ts}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, header http.Header) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func createMarketViaAPI(t *testing.T, f *apiFixture, playerLimit int) domain.Market {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/markets", map[string]any{
		"question":             "Will the release ship on time?",
		"outcomes":             [2]string{"Yes", "No"},
		"player_limit":         playerLimit,
		"platform_fee_percent": 0.02,
		"closing_time":         time.Now().Add(time.Hour).Format(time.RFC3339),
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create market: %d %s", resp.StatusCode, body)
	}
	var m domain.Market
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatal(err)
	}
	return m
}

func placeWager(t *testing.T, f *apiFixture, marketID string, outcome int, amount float64, key, idemKey string) (*http.Response, domain.Bet) {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/markets/"+marketID+"/wagers", map[string]any{
		"outcome":         outcome,
		"amount":          amount,
		"participant_key": key,
		"idempotency_key": idemKey,
	}, nil)
	var bet domain.Bet
	if resp.StatusCode == http.StatusCreated {
		if err := json.Unmarshal(body, &bet); err != nil {
			t.Fatal(err)
		}
	}
	return resp, bet
}

func TestAPI_MarketLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	m := createMarketViaAPI(t, f, 2)
	if m.Status != domain.MarketStatusWaiting {
		t.Fatalf("status = %s", m.Status)
	}

	resp, _ := placeWager(t, f, m.ID, 0, 100, "alice", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first wager: %d", resp.StatusCode)
	}
	resp, _ = placeWager(t, f, m.ID, 1, 100, "bob", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("second wager: %d", resp.StatusCode)
	}

	// The market filled and went active.
	resp, body := f.do(t, http.MethodGet, "/api/markets/"+m.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get market: %d", resp.StatusCode)
	}
	var active domain.Market
	if err := json.Unmarshal(body, &active); err != nil {
		t.Fatal(err)
	}
	if active.Status != domain.MarketStatusActive || active.Pools.Total != 200 {
		t.Errorf("market = %s total %v", active.Status, active.Pools.Total)
	}

	// Administrative resolution with an explicit outcome.
	resp, body = f.do(t, http.MethodPost, "/api/markets/"+m.ID+"/resolve", map[string]any{"outcome": 0}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve: %d %s", resp.StatusCode, body)
	}
	var resolved domain.Market
	if err := json.Unmarshal(body, &resolved); err != nil {
		t.Fatal(err)
	}
	if resolved.Status != domain.MarketStatusResolved || resolved.WinningOutcome == nil || *resolved.WinningOutcome != 0 {
		t.Errorf("resolved = %s winner %v", resolved.Status, resolved.WinningOutcome)
	}

	// Settled bets are visible with payouts applied.
	resp, body = f.do(t, http.MethodGet, "/api/markets/"+m.ID+"/bets", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list bets: %d", resp.StatusCode)
	}
	var betsResp struct {
		Bets []domain.Bet `json:"bets"`
	}
	if err := json.Unmarshal(body, &betsResp); err != nil {
		t.Fatal(err)
	}
	if len(betsResp.Bets) != 2 {
		t.Fatalf("bets = %d", len(betsResp.Bets))
	}
	for _, b := range betsResp.Bets {
		if b.Outcome == 0 && (b.Status != domain.BetStatusWon || b.Payout != 196) {
			t.Errorf("winner = %s payout %v", b.Status, b.Payout)
		}
		if b.Outcome == 1 && b.Status != domain.BetStatusLost {
			t.Errorf("loser = %s", b.Status)
		}
	}

	// A wager on a settled market is a conflict.
	resp, _ = placeWager(t, f, m.ID, 0, 50, "carol", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("wager on resolved market: %d, want 409", resp.StatusCode)
	}
}

func TestAPI_IdempotentWagerReplay(t *testing.T) {
	f := newAPIFixture(t)
	m := createMarketViaAPI(t, f, 3)

	resp, first := placeWager(t, f, m.ID, 0, 100, "alice", "tx-1")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("wager: %d", resp.StatusCode)
	}
	resp, replay := placeWager(t, f, m.ID, 0, 100, "alice", "tx-1")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("replay: %d", resp.StatusCode)
	}
	if replay.ID != first.ID {
		t.Errorf("replay created a new bet: %s != %s", replay.ID, first.ID)
	}

	_, body := f.do(t, http.MethodGet, "/api/markets/"+m.ID, nil, nil)
	var fresh domain.Market
	if err := json.Unmarshal(body, &fresh); err != nil {
		t.Fatal(err)
	}
	if fresh.Pools.Total != 100 {
		t.Errorf("pool total = %v after replay, want 100", fresh.Pools.Total)
	}
}

func TestAPI_IdempotencyKeyHeaderFallback(t *testing.T) {
	f := newAPIFixture(t)
	m := createMarketViaAPI(t, f, 3)

	h := http.Header{}
	h.Set("Idempotency-Key", "tx-h1")
	resp, body := f.do(t, http.MethodPost, "/api/markets/"+m.ID+"/wagers", map[string]any{
		"outcome":         0,
		"amount":          25.0,
		"participant_key": "alice",
	}, h)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("wager: %d %s", resp.StatusCode, body)
	}
	var bet domain.Bet
	if err := json.Unmarshal(body, &bet); err != nil {
		t.Fatal(err)
	}
	if bet.IdempotencyKey != "tx-h1" {
		t.Errorf("idempotency key = %q, want header value", bet.IdempotencyKey)
	}
}

func TestAPI_ValidationErrors(t *testing.T) {
	f := newAPIFixture(t)
	m := createMarketViaAPI(t, f, 3)

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing participant", map[string]any{"outcome": 0, "amount": 10.0}, http.StatusBadRequest},
		{"zero amount", map[string]any{"outcome": 0, "amount": 0.0, "participant_key": "a"}, http.StatusBadRequest},
		{"bad outcome", map[string]any{"outcome": 9, "amount": 10.0, "participant_key": "a"}, http.StatusBadRequest},
		{"unknown field", map[string]any{"outcome": 0, "amount": 10.0, "participant_key": "a", "bogus": 1}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/api/markets/"+m.ID+"/wagers", tc.body, nil)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tc.want, body)
			}
		})
	}

	resp, _ := f.do(t, http.MethodPost, "/api/markets/unknown/wagers", map[string]any{
		"outcome": 0, "amount": 10.0, "participant_key": "a",
	}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown market: %d, want 404", resp.StatusCode)
	}
}

func TestAPI_CancelRefunds(t *testing.T) {
	f := newAPIFixture(t)
	m := createMarketViaAPI(t, f, 3)

	_, bet := placeWager(t, f, m.ID, 0, 80, "alice", "")

	resp, body := f.do(t, http.MethodPost, "/api/markets/"+m.ID+"/cancel", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: %d %s", resp.StatusCode, body)
	}
	var cancelled domain.Market
	if err := json.Unmarshal(body, &cancelled); err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != domain.MarketStatusCancelled {
		t.Errorf("status = %s", cancelled.Status)
	}

	_, body = f.do(t, http.MethodGet, "/api/bets/"+bet.ID, nil, nil)
	var refunded domain.Bet
	if err := json.Unmarshal(body, &refunded); err != nil {
		t.Fatal(err)
	}
	if refunded.Status != domain.BetStatusRefunded || refunded.Payout != 80 {
		t.Errorf("refund = %s payout %v", refunded.Status, refunded.Payout)
	}
}

func TestAPI_ParticipantBets(t *testing.T) {
	f := newAPIFixture(t)
	m1 := createMarketViaAPI(t, f, 3)
	m2 := createMarketViaAPI(t, f, 3)

	placeWager(t, f, m1.ID, 0, 10, "alice", "")
	placeWager(t, f, m2.ID, 1, 20, "alice", "")
	placeWager(t, f, m1.ID, 1, 30, "bob", "")

	resp, body := f.do(t, http.MethodGet, "/api/bets?participant=alice", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", resp.StatusCode)
	}
	var got struct {
		Bets []domain.Bet `json:"bets"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Bets) != 2 {
		t.Errorf("alice bets = %d, want 2", len(got.Bets))
	}

	resp, _ = f.do(t, http.MethodGet, "/api/bets", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing participant param: %d, want 400", resp.StatusCode)
	}
}

func TestAPI_HealthAndAdminStubs(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: %d", resp.StatusCode)
	}

	// Without archive backends the admin surface reports not implemented.
	resp, _ = f.do(t, http.MethodPost, "/api/admin/export", nil, nil)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("export without archiver: %d, want 501", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/admin/audit", nil, nil)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("audit without store: %d, want 501", resp.StatusCode)
	}
}

func TestAPI_AuthRequiredWhenConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := engine.NewMarketStore()
	ledger := engine.NewBetLedger()
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(nil, logger),
		Markets: handler.NewMarketHandler(store, nil, nil, nil, logger),
		Wagers:  handler.NewWagerHandler(nil, ledger, nil, logger),
		Resolve: handler.NewResolveHandler(nil, store, nil, logger),
		Admin:   handler.NewAdminHandler(nil, nil, logger),
	}
	s := server.NewServer(server.Config{Port: 0, APIKey: "sekrit"}, handlers, nil, logger)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/markets")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated: %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/markets", nil)
	req.Header.Set("X-API-Key", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated: %d, want 200", resp.StatusCode)
	}

	// The health probe stays open without credentials.
	resp, err = http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health without credentials: %d, want 200", resp.StatusCode)
	}
}
