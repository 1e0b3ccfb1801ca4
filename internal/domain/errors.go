package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidOrder   = errors.New("invalid order parameters")
	ErrSigningFailed  = errors.New("signing failed")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrLockHeld       = errors.New("lock already held")

	// Pipeline rejection sentinels. These are expected, non-fatal outcomes:
	// a signal that trips one of them is logged and dropped, never retried.
	ErrAdmissionRejected     = errors.New("admission rejected")
	ErrLiquidityInsufficient = errors.New("insufficient book liquidity")
	ErrSlippageExceeded      = errors.New("slippage exceeds limit")
	ErrRiskGated             = errors.New("blocked by circuit breaker")
	ErrOrderPlacementFailed  = errors.New("order placement failed")
	ErrFillTimeout           = errors.New("no acceptable fill within phase timeout")
	ErrExecutionExhausted    = errors.New("all execution phases exhausted")
)
