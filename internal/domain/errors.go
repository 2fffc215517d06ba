package domain

import "errors"

// Sentinel errors for the core engine. Callers branch on these with
// errors.Is; the HTTP layer maps them to status codes. No other error
// values cross package boundaries as control flow.
var (
	// ErrProviderUnavailable - every quote/FX source failed, including
	// cached and static fallbacks where the caller allowed them.
	ErrProviderUnavailable = errors.New("all market data providers unavailable")

	// ErrInsufficientQuantity - sell quantity exceeds held quantity.
	// The position is left untouched.
	ErrInsufficientQuantity = errors.New("insufficient quantity for sell")

	// ErrPositionNotFound - no position for the given (user, account, symbol).
	ErrPositionNotFound = errors.New("position not found")

	// ErrAccountNotFound - no savings account with the given id.
	ErrAccountNotFound = errors.New("savings account not found")

	// ErrPersistenceFailure - the store rejected a write. In-flight
	// mutations roll back; nothing partially commits.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrInvalidOrder - order validation failed (quantity <= 0, negative price).
	ErrInvalidOrder = errors.New("invalid order")

	// ErrRefreshInProgress - a refresh cycle is already running; the
	// on-demand trigger was coalesced into it.
	ErrRefreshInProgress = errors.New("refresh cycle already in progress")
)
