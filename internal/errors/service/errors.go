package service

import "errors"

var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInvalidPrice         = errors.New("price must be positive")
	ErrInvalidSlippage      = errors.New("slippage percent must be positive")
	ErrInsufficientFunds    = errors.New("insufficient available funds")
	ErrInsufficientShares   = errors.New("insufficient available shares")
	ErrInsufficientReserved = errors.New("insufficient reserved balance")
	ErrNotAuthorized        = errors.New("caller may not act for this user")
	ErrOrderClosed          = errors.New("order is already closed")
	ErrOrderNotFound        = errors.New("order not found")
	ErrRateLimitExceeded    = errors.New("order rate limit exceeded")
	ErrCurrencyMismatch     = errors.New("taker and maker currencies differ")
)
