package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/klashbet/wagerpool/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventRecorder captures emitted events for assertions.
type eventRecorder struct {
	mu       sync.Mutex
	joined   []domain.ParticipantJoined
	statuses []domain.MarketStatusChanged
	resolved []domain.MarketResolved
}

func (r *eventRecorder) ParticipantJoined(ctx context.Context, ev domain.ParticipantJoined) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, ev)
}

func (r *eventRecorder) MarketStatusChanged(ctx context.Context, ev domain.MarketStatusChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, ev)
}

func (r *eventRecorder) MarketResolved(ctx context.Context, ev domain.MarketResolved) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, ev)
}

func (r *eventRecorder) lastStatus() (domain.MarketStatusChanged, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return domain.MarketStatusChanged{}, false
	}
	return r.statuses[len(r.statuses)-1], true
}

func (r *eventRecorder) resolvedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resolved)
}

// schedulerRecorder captures resolution timer requests.
type schedulerRecorder struct {
	mu        sync.Mutex
	scheduled []scheduledTimer
}

type scheduledTimer struct {
	marketID string
	delay    time.Duration
}

func (s *schedulerRecorder) ScheduleResolution(marketID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, scheduledTimer{marketID, delay})
}

func (s *schedulerRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}

// fakeSettler records transfers and can be told to fail.
type fakeSettler struct {
	mu        sync.Mutex
	transfers []fakeTransfer
	fail      bool
}

type fakeTransfer struct {
	recipient string
	amount    float64
	ref       string
}

func (s *fakeSettler) Transfer(ctx context.Context, recipient string, amount float64, ref string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", errors.New("gateway unavailable")
	}
	s.transfers = append(s.transfers, fakeTransfer{recipient, amount, ref})
	return "tx-" + ref, nil
}

func (s *fakeSettler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}
