package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/klashbet/wagerpool/internal/domain"
)

// busyRetryDelay is how long a fired timer waits before re-arming when the
// market's exclusive section was contended.
const busyRetryDelay = 500 * time.Millisecond

// Resolver is the subset of the resolution engine the scheduler drives.
type Resolver interface {
	Resolve(ctx context.Context, marketID string) error
	Cancel(ctx context.Context, marketID string) error
}

// Scheduler owns the asynchronous timers of the engine: the delayed
// resolution armed when a market goes active, and the expiry deadline for
// markets that never fill. Timers are cancellable and a wake-up only
// requests a transition; the resolution engine decides under the per-market
// lock whether it still applies.
type Scheduler struct {
	resolver Resolver
	logger   *slog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer // key: marketID + ":" + kind
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// NewScheduler creates a Scheduler. Start must be called before timers fire.
func NewScheduler(resolver Resolver, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		resolver: resolver,
		logger:   logger.With(slog.String("component", "scheduler")),
		timers:   make(map[string]*time.Timer),
	}
}

// Start binds the scheduler to a lifecycle context. Timers firing after the
// context is cancelled become no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(ctx)
}

// Stop cancels all pending timers and waits for in-flight wake-ups to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// ScheduleResolution arms the post-activation delay after which the market is
// judged. Re-arming an existing timer resets it. A market that filled can no
// longer expire, so its expiry deadline is dropped here.
func (s *Scheduler) ScheduleResolution(marketID string, delay time.Duration) {
	s.dropTimer(marketID, "expire")
	s.arm(marketID, "resolve", delay, func(ctx context.Context) error {
		return s.resolver.Resolve(ctx, marketID)
	})
}

// ScheduleExpiry arms the closing-time deadline for a waiting market. The
// deadline is dropped when the market activates; a fire that races the
// activation finds the market closed and is absorbed as a no-op.
func (s *Scheduler) ScheduleExpiry(marketID string, at time.Time) {
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.arm(marketID, "expire", delay, func(ctx context.Context) error {
		err := s.resolver.Cancel(ctx, marketID)
		if errors.Is(err, domain.ErrMarketClosed) {
			return nil
		}
		return err
	})
}

// CancelTimers drops any pending timers for the market (administrative
// cancellation before a timer fires).
func (s *Scheduler) CancelTimers(marketID string) {
	s.dropTimer(marketID, "resolve")
	s.dropTimer(marketID, "expire")
}

func (s *Scheduler) dropTimer(marketID, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := marketID + ":" + kind
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

func (s *Scheduler) arm(marketID, kind string, delay time.Duration, fire func(context.Context) error) {
	key := marketID + ":" + kind

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.timers[key]; ok {
		prev.Stop()
	}

	s.timers[key] = time.AfterFunc(delay, func() {
		// Registration and the stopped check share the mutex, so Stop either
		// observes this wake-up in the WaitGroup or this wake-up observes
		// stopped and exits.
		s.mu.Lock()
		if s.stopped || s.ctx == nil || s.ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		delete(s.timers, key)
		ctx := s.ctx
		s.mu.Unlock()
		defer s.wg.Done()

		err := fire(ctx)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrBusy):
			// Contended lock: back off and re-arm instead of losing the
			// transition.
			s.logger.Warn("timer fire contended, re-arming",
				slog.String("market_id", marketID),
				slog.String("kind", kind),
			)
			s.arm(marketID, kind, busyRetryDelay, fire)
		default:
			s.logger.Error("timer fire failed",
				slog.String("market_id", marketID),
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
		}
	})
}
