package domain

import "errors"

var (
	ErrMarketNotFound        = errors.New("market not found")
	ErrDuplicateMarket       = errors.New("market already exists")
	ErrInvalidEndTime        = errors.New("invalid end time")
	ErrMarketAlreadyResolved = errors.New("market already resolved")
	ErrMarketNotResolved     = errors.New("market not resolved")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrArithmeticOverflow    = errors.New("arithmetic overflow")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrLockHeld              = errors.New("lock already held")
)
