// Package server exposes the wager-pool engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/klashbet/wagerpool/internal/domain"
	"github.com/klashbet/wagerpool/internal/server/handler"
	"github.com/klashbet/wagerpool/internal/server/middleware"
	"github.com/klashbet/wagerpool/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string             // if empty, authentication is disabled
	RateLimiter     domain.RateLimiter // if nil, rate limiting is disabled
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Wagers  *handler.WagerHandler
	Resolve *handler.ResolveHandler
	Admin   *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the wager-pool engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, rate limiting, auth) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market lifecycle.
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)

	// Wagers.
	mux.HandleFunc("POST /api/markets/{id}/wagers", handlers.Wagers.PlaceWager)
	mux.HandleFunc("GET /api/markets/{id}/bets", handlers.Wagers.ListMarketBets)
	mux.HandleFunc("GET /api/bets", handlers.Wagers.ListParticipantBets)
	mux.HandleFunc("GET /api/bets/{id}", handlers.Wagers.GetBet)

	// Administrative resolution.
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Resolve.Resolve)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Resolve.Cancel)

	// Audit and export.
	mux.HandleFunc("GET /api/admin/audit", handlers.Admin.ListAudit)
	mux.HandleFunc("POST /api/admin/export", handlers.Admin.Export)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey)(h)

	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, window)(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Handler returns the fully assembled handler chain. Exposed for tests that
// drive the server through httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
