package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrWalletNotConnected   = errors.New("wallet address required")
	ErrInvalidSignature     = errors.New("signature does not match wallet")
	ErrMarketClosed         = errors.New("market is not open for trading")
	ErrInsufficientPosition = errors.New("sell exceeds held position")
	ErrInsufficientReserve  = errors.New("trade exceeds pool reserve depth")
	ErrDepletedReserve      = errors.New("pool reserve is zero or negative")
	ErrStaleVersion         = errors.New("pool version changed during settlement")
	ErrLockHeld             = errors.New("lock already held")
)
