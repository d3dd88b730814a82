package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/klashbet/wagerpool/internal/domain"
)

// ResolutionService is the slice of the resolution engine the admin
// endpoints drive.
type ResolutionService interface {
	Resolve(ctx context.Context, marketID string) error
	ResolveWithOutcome(ctx context.Context, marketID string, outcome int) error
	Cancel(ctx context.Context, marketID string) error
}

// ResolveHandler serves administrative resolution and cancellation.
type ResolveHandler struct {
	resolution ResolutionService
	markets    domain.MarketStore
	cache      domain.MarketCache // may be nil
	logger     *slog.Logger
}

// NewResolveHandler creates a ResolveHandler. cache may be nil.
func NewResolveHandler(resolution ResolutionService, markets domain.MarketStore, cache domain.MarketCache, logger *slog.Logger) *ResolveHandler {
	return &ResolveHandler{
		resolution: resolution,
		markets:    markets,
		cache:      cache,
		logger:     logger,
	}
}

// resolveRequest optionally overrides the oracle with an explicit winning
// outcome.
type resolveRequest struct {
	Outcome *int `json:"outcome"`
}

// Resolve settles an active market immediately instead of waiting for the
// scheduled timer. With an outcome in the body the oracle is bypassed.
// POST /api/markets/{id}/resolve
func (h *ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req resolveRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var err error
	if req.Outcome != nil {
		err = h.resolution.ResolveWithOutcome(r.Context(), marketID, *req.Outcome)
	} else {
		err = h.resolution.Resolve(r.Context(), marketID)
	}
	if err != nil {
		if isInternal(err) {
			h.logger.ErrorContext(r.Context(), "handler: resolve failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
		writeDomainError(w, err)
		return
	}

	h.respondWithMarket(w, r, marketID)
}

// Cancel voids a waiting market and refunds its participants.
// POST /api/markets/{id}/cancel
func (h *ResolveHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	if err := h.resolution.Cancel(r.Context(), marketID); err != nil {
		if isInternal(err) {
			h.logger.ErrorContext(r.Context(), "handler: cancel failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
		writeDomainError(w, err)
		return
	}

	h.respondWithMarket(w, r, marketID)
}

func (h *ResolveHandler) respondWithMarket(w http.ResponseWriter, r *http.Request, marketID string) {
	if h.cache != nil {
		if err := h.cache.Invalidate(r.Context(), marketID); err != nil {
			h.logger.WarnContext(r.Context(), "handler: cache invalidate failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}

	m, ok := h.markets.Get(r.Context(), marketID)
	if !ok {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
