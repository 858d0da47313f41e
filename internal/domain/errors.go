package domain

import "errors"

var (
	ErrNetwork              = errors.New("network error")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrNotFound             = errors.New("not found")
	ErrOrderRejected        = errors.New("order rejected")
	ErrIncompleteMarketData = errors.New("incomplete market data")
	ErrRateLimited          = errors.New("rate limited")
	ErrInvalidOrder         = errors.New("invalid order parameters")
	ErrLockHeld             = errors.New("lock already held")
	ErrLoopRunning          = errors.New("loop already running")
)
