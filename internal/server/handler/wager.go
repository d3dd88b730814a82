package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/klashbet/wagerpool/internal/domain"
)

// AdmissionService is the slice of the admission controller the wager
// handler drives.
type AdmissionService interface {
	PlaceWager(ctx context.Context, marketID string, outcome int, amount float64, participantKey, idempotencyKey string) (domain.Bet, error)
}

// WagerHandler serves wager placement and bet query endpoints.
type WagerHandler struct {
	admission AdmissionService
	ledger    domain.BetLedger
	cache     domain.MarketCache // may be nil
	logger    *slog.Logger
}

// NewWagerHandler creates a WagerHandler. cache may be nil.
func NewWagerHandler(admission AdmissionService, ledger domain.BetLedger, cache domain.MarketCache, logger *slog.Logger) *WagerHandler {
	return &WagerHandler{
		admission: admission,
		ledger:    ledger,
		cache:     cache,
		logger:    logger,
	}
}

// placeWagerRequest is the body for wager placement. The idempotency key can
// also be supplied via the Idempotency-Key header; the body wins when both
// are present.
type placeWagerRequest struct {
	Outcome        int     `json:"outcome"`
	Amount         float64 `json:"amount"`
	ParticipantKey string  `json:"participant_key"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// PlaceWager admits a stake into the market.
// POST /api/markets/{id}/wagers
func (h *WagerHandler) PlaceWager(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req placeWagerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ParticipantKey == "" {
		writeError(w, http.StatusBadRequest, "missing participant_key")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	bet, err := h.admission.PlaceWager(r.Context(), marketID, req.Outcome, req.Amount, req.ParticipantKey, req.IdempotencyKey)
	if err != nil {
		if isInternal(err) {
			h.logger.ErrorContext(r.Context(), "handler: place wager failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
		writeDomainError(w, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.Invalidate(r.Context(), marketID); err != nil {
			h.logger.WarnContext(r.Context(), "handler: cache invalidate failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusCreated, bet)
}

// ListMarketBets returns every bet placed in a market.
// GET /api/markets/{id}/bets
func (h *WagerHandler) ListMarketBets(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bets": h.ledger.ListByMarket(r.Context(), marketID),
	})
}

// GetBet returns a single bet by ID.
// GET /api/bets/{id}
func (h *WagerHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	bet, ok := h.ledger.Get(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, "bet not found")
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

// ListParticipantBets returns a participant's bets across all markets.
// GET /api/bets?participant=<key>
func (h *WagerHandler) ListParticipantBets(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("participant")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing participant query parameter")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bets": h.ledger.ListByParticipant(r.Context(), key),
	})
}

// isInternal reports whether the error is unexpected rather than a mapped
// domain condition, and therefore worth an error-level log line.
func isInternal(err error) bool {
	for _, sentinel := range []error{
		domain.ErrNotFound,
		domain.ErrInvalidSpec,
		domain.ErrInvalidAmount,
		domain.ErrInvalidOutcome,
		domain.ErrMarketClosed,
		domain.ErrMarketFull,
		domain.ErrDuplicateParticipant,
		domain.ErrBusy,
		domain.ErrLockHeld,
	} {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	return true
}
