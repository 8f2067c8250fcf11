package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrNoViewer     = errors.New("no viewer address")
	ErrTxInFlight   = errors.New("transaction already in flight")
	ErrTxReverted   = errors.New("transaction reverted")
	ErrNoSigner     = errors.New("no signing key configured")
	ErrLockHeld     = errors.New("lock already held")
	ErrInvalidState = errors.New("market invariant violated")
)
