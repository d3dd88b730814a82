// Package app wires configuration, storage, caching, and the wager-pool
// engine into a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/klashbet/wagerpool/internal/config"
	"github.com/klashbet/wagerpool/internal/domain"
	"github.com/klashbet/wagerpool/internal/engine"
	"github.com/klashbet/wagerpool/internal/server"
	"github.com/klashbet/wagerpool/internal/server/handler"
	"github.com/klashbet/wagerpool/internal/server/ws"
	"github.com/klashbet/wagerpool/internal/settle"
)

// shutdownTimeout bounds graceful HTTP shutdown on exit.
const shutdownTimeout = 10 * time.Second

// App is the top-level application. It owns the dependency graph and the
// long-running workers.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()
}

// New creates the application shell. Dependencies are wired lazily in Run so
// connection failures surface under the caller's lifecycle context.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run wires all dependencies, seeds configured markets, and runs the engine
// workers and API server until ctx is cancelled or a worker fails.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.cleanup = cleanup
	defer a.Close()

	// Engine assembly. The scheduler drives the resolution engine; admission
	// arms the scheduler when a market fills.
	oracle, err := engine.NewOracle(a.cfg.Engine.Oracle)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	resolution := engine.NewResolution(
		deps.Markets,
		deps.Ledger,
		deps.Notifier,
		oracle,
		deps.Settler,
		deps.MarketArchive,
		deps.BetArchive,
		deps.AuditStore,
		a.logger,
	)
	scheduler := engine.NewScheduler(resolution, a.logger)
	admission := engine.NewAdmission(
		deps.Markets,
		deps.Ledger,
		deps.Notifier,
		scheduler,
		deps.AuditStore,
		a.cfg.Engine.ResolutionDelay.Duration,
		a.logger,
	)

	scheduler.Start(ctx)
	defer scheduler.Stop()

	if err := a.seedMarkets(ctx, deps.Markets, scheduler); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	// WebSocket hub, only useful with a signal bus to feed it.
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("app: ws hub: %w", err)
			}
			return nil
		})
	}

	// Payout reconciler retries transfers the settlement path could not
	// complete.
	if deps.Settler != nil {
		reconciler := settle.NewReconciler(
			deps.Ledger,
			deps.Settler,
			deps.LockManager,
			a.cfg.Settlement.ReconcileInterval.Duration,
			a.logger,
		)
		g.Go(func() error {
			if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("app: reconciler: %w", err)
			}
			return nil
		})
	}

	// HTTP API server.
	if a.cfg.Server.Enabled {
		srv := a.buildServer(deps, admission, resolution, scheduler, hub)
		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.logger.Info("app: running",
		slog.Bool("server", a.cfg.Server.Enabled),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("postgres", a.cfg.Postgres.Enabled),
		slog.Bool("settlement", a.cfg.Settlement.Enabled),
	)

	return g.Wait()
}

// buildServer assembles the HTTP handler set on top of the wired dependencies.
func (a *App) buildServer(
	deps *Dependencies,
	admission *engine.Admission,
	resolution *engine.Resolution,
	scheduler *engine.Scheduler,
	hub *ws.Hub,
) *server.Server {
	pingers := make(map[string]handler.Pinger, len(deps.Pingers))
	for name, p := range deps.Pingers {
		pingers[name] = p
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(pingers, a.logger),
		Markets: handler.NewMarketHandler(deps.Markets, deps.MarketArchive, deps.MarketCache, scheduler, a.logger),
		Wagers:  handler.NewWagerHandler(admission, deps.Ledger, deps.MarketCache, a.logger),
		Resolve: handler.NewResolveHandler(resolution, deps.Markets, deps.MarketCache, a.logger),
		Admin:   handler.NewAdminHandler(deps.AuditStore, deps.Archiver, a.logger),
	}

	return server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimiter:     deps.RateLimiter,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, a.logger)
}

// seedMarkets opens the markets declared in configuration and arms their
// expiry deadlines. Seeding failures abort startup: a misconfigured seed list
// should be fixed, not skipped.
func (a *App) seedMarkets(ctx context.Context, markets domain.MarketStore, scheduler *engine.Scheduler) error {
	for i, s := range a.cfg.Seed {
		fee := s.FeePercent
		if fee == 0 {
			fee = a.cfg.Engine.DefaultFeePercent
		}
		m, err := markets.Create(ctx, domain.MarketSpec{
			Question:           s.Question,
			Outcomes:           [2]string{s.Outcomes[0], s.Outcomes[1]},
			PlayerLimit:        s.PlayerLimit,
			PlatformFeePercent: fee,
			ClosingTime:        time.Now().UTC().Add(s.ClosesIn.Duration),
		})
		if err != nil {
			return fmt.Errorf("app: seed market %d: %w", i, err)
		}
		scheduler.ScheduleExpiry(m.ID, m.ClosingTime)
		a.logger.Info("app: seeded market",
			slog.String("market_id", m.ID),
			slog.String("question", m.Question),
		)
	}
	return nil
}

// Close releases wired resources. Safe to call more than once.
func (a *App) Close() {
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}
