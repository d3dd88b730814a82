package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/klashbet/wagerpool/internal/domain"
)

// ExpiryScheduler arms the closing-time deadline for a freshly created
// market. Declared locally so the handler package does not depend on the
// concrete scheduler.
type ExpiryScheduler interface {
	ScheduleExpiry(marketID string, at time.Time)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets   domain.MarketStore
	archive   domain.MarketArchive // may be nil
	cache     domain.MarketCache   // may be nil
	scheduler ExpiryScheduler
	logger    *slog.Logger
}

// NewMarketHandler creates a MarketHandler. archive and cache may be nil.
func NewMarketHandler(markets domain.MarketStore, archive domain.MarketArchive, cache domain.MarketCache, scheduler ExpiryScheduler, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:   markets,
		archive:   archive,
		cache:     cache,
		scheduler: scheduler,
		logger:    logger,
	}
}

// CreateMarket opens a new market and arms its closing-time expiry.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var spec domain.MarketSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	market, err := h.markets.Create(r.Context(), spec)
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidSpec) {
			h.logger.ErrorContext(r.Context(), "handler: create market failed",
				slog.String("error", err.Error()),
			)
		}
		writeDomainError(w, err)
		return
	}

	if h.scheduler != nil && !market.ClosingTime.IsZero() {
		h.scheduler.ScheduleExpiry(market.ID, market.ClosingTime)
	}

	writeJSON(w, http.StatusCreated, market)
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	markets := h.markets.List(r.Context(), opts)

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID. Reads go through the cache
// when one is configured; misses fall back to the live store, then to the
// archive for markets settled before the last restart.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	if h.cache != nil {
		if m, err := h.cache.Get(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}

	if m, ok := h.markets.Get(r.Context(), id); ok {
		if h.cache != nil {
			if err := h.cache.Set(r.Context(), m); err != nil {
				h.logger.WarnContext(r.Context(), "handler: market cache set failed",
					slog.String("market_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
		writeJSON(w, http.StatusOK, m)
		return
	}

	if h.archive != nil {
		m, err := h.archive.Get(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, m)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.ErrorContext(r.Context(), "handler: archive lookup failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to get market")
			return
		}
	}

	writeError(w, http.StatusNotFound, "market not found")
}
