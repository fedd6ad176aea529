package bybit

import (
	"errors"
	"fmt"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/safety"
)

// APIError is a non-zero retCode returned by Bybit.
type APIError struct {
	Code      int
	Message   string
	Operation string
}

func (e *APIError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("bybit %s: API error %d: %s", e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("bybit API error %d: %s", e.Code, e.Message)
}

// Unwrap exposes rate limiting so the safety layer backs off instead of counting a failure.
func (e *APIError) Unwrap() error {
	if e.IsRateLimit() {
		return safety.ErrRateLimited
	}
	return nil
}

// Common Bybit error codes
const (
	ErrCodeInvalidAPIKey       = 10003
	ErrCodeInvalidSignature    = 10004
	ErrCodeInvalidTimestamp    = 10005
	ErrCodeRateLimitExceeded   = 10006
	ErrCodeIPRateLimited       = 10018
	ErrCodeOrderNotFound       = 110001
	ErrCodeInvalidOrderType    = 110004
	ErrCodeInsufficientBalance = 110007
	ErrCodeSymbolNotFound      = 110009
	ErrCodeInvalidQuantity     = 110020
	ErrCodeInvalidPrice        = 110021
	ErrCodeMarketClosed        = 110043
	ErrCodeSpotInsufficient    = 170131
	ErrCodeSpotOrderTooSmall   = 170136
)

func (e *APIError) IsRateLimit() bool {
	return e.Code == ErrCodeRateLimitExceeded || e.Code == ErrCodeIPRateLimited
}

// IsAuthenticationError checks if the error is related to authentication
func IsAuthenticationError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature, ErrCodeInvalidTimestamp:
		return true
	}
	return false
}

// orderError classifies a failed order call into the tagged order result.
// Rate limiting stays reachable through the chain as safety.ErrRateLimited.
func orderError(symbol string, err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return exchange.NewOrderError(exchange.ExchangeFailure, symbol, "order request failed", err)
	}
	switch apiErr.Code {
	case ErrCodeInsufficientBalance, ErrCodeSpotInsufficient:
		return exchange.NewOrderError(exchange.InsufficientFunds, symbol, apiErr.Message, err)
	case ErrCodeInvalidOrderType, ErrCodeSymbolNotFound, ErrCodeInvalidQuantity,
		ErrCodeInvalidPrice, ErrCodeMarketClosed, ErrCodeSpotOrderTooSmall:
		return exchange.NewOrderError(exchange.OrderRejected, symbol, apiErr.Message, err)
	default:
		return exchange.NewOrderError(exchange.ExchangeFailure, symbol, apiErr.Message, err)
	}
}
