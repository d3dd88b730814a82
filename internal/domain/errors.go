package domain

import "errors"

var (
	// ErrNotFound is returned when a market or bet does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidSpec is returned when a market spec is malformed.
	ErrInvalidSpec = errors.New("invalid market spec")
	// ErrInvalidAmount is returned for a non-positive stake amount.
	ErrInvalidAmount = errors.New("invalid stake amount")
	// ErrInvalidOutcome is returned for an out-of-range outcome index.
	ErrInvalidOutcome = errors.New("invalid outcome")
	// ErrMarketClosed is returned when the market no longer accepts stakes.
	ErrMarketClosed = errors.New("market closed")
	// ErrMarketFull is returned when the market already holds playerLimit stakes.
	ErrMarketFull = errors.New("market full")
	// ErrDuplicateParticipant is returned when the participant already holds
	// a stake in the market.
	ErrDuplicateParticipant = errors.New("participant already joined")
	// ErrIdempotencyConflict is returned when an idempotency key is replayed
	// against a different market than the one it was first admitted to.
	ErrIdempotencyConflict = errors.New("idempotency key already used")
	// ErrBusy is returned when the per-market exclusive section could not be
	// acquired in time. Safe to retry with the same idempotency key.
	ErrBusy = errors.New("market busy")
	// ErrLockHeld is returned when a distributed lock is already held.
	ErrLockHeld = errors.New("lock already held")
)
