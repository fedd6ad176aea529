package safety

import (
	"fmt"
	"math"
	"strings"

	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

// Err returns nil for a valid result.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%s: %s", r.Code, r.Message)
}

func invalid(code, format string, args ...interface{}) ValidationResult {
	return ValidationResult{Code: code, Message: fmt.Sprintf(format, args...)}
}

var passed = ValidationResult{Valid: true}

// Validator checks order inputs before they reach an exchange.
type Validator struct {
	MinOrderValue float64
	MaxOrderValue float64
}

// NewValidator creates a validator with a 1-cent floor and a 1e9 ceiling on notional.
func NewValidator() *Validator {
	return &Validator{MinOrderValue: 0.01, MaxOrderValue: 1e9}
}

// checkNumber rejects NaN, infinities and non-positive values.
func checkNumber(field string, value float64, symbol string) ValidationResult {
	upper := strings.ToUpper(field)
	switch {
	case math.IsNaN(value):
		return invalid("INVALID_"+upper+"_NAN", "invalid %s for %s: value is NaN", field, symbol)
	case math.IsInf(value, 0):
		return invalid("INVALID_"+upper+"_INF", "invalid %s for %s: value is infinite", field, symbol)
	case value <= 0:
		return invalid("INVALID_"+upper+"_NEGATIVE", "invalid %s %.8f for %s: must be positive", field, value, symbol)
	}
	return passed
}

// ValidatePrice validates a price value for trading
func (v *Validator) ValidatePrice(price float64, symbol string) ValidationResult {
	if r := checkNumber("price", price, symbol); !r.Valid {
		return r
	}
	if price > 1e10 {
		return invalid("PRICE_OUT_OF_BOUNDS", "suspicious price %.8f for %s: exceeds reasonable bounds", price, symbol)
	}
	if price < 1e-8 {
		return invalid("PRICE_TOO_SMALL", "suspicious price %.10f for %s: below reasonable bounds", price, symbol)
	}
	return passed
}

// ValidateQuantity validates a quantity value for trading
func (v *Validator) ValidateQuantity(quantity float64, symbol string) ValidationResult {
	if r := checkNumber("quantity", quantity, symbol); !r.Valid {
		return r
	}
	if quantity > 1e12 {
		return invalid("QUANTITY_OUT_OF_BOUNDS", "suspicious quantity %.8f for %s: exceeds reasonable bounds", quantity, symbol)
	}
	return passed
}

// ValidateOrderValue validates the total value of an order
func (v *Validator) ValidateOrderValue(price, quantity float64, symbol string) ValidationResult {
	if r := v.ValidatePrice(price, symbol); !r.Valid {
		return r
	}
	if r := v.ValidateQuantity(quantity, symbol); !r.Valid {
		return r
	}

	value := price * quantity
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return invalid("INVALID_ORDER_VALUE", "invalid order value for %s", symbol)
	}
	if v.MaxOrderValue > 0 && value > v.MaxOrderValue {
		return invalid("ORDER_VALUE_TOO_LARGE", "order value %.2f for %s exceeds %.2f", value, symbol, v.MaxOrderValue)
	}
	if value < v.MinOrderValue {
		return invalid("ORDER_VALUE_TOO_SMALL", "order value %.8f for %s below minimum %.2f", value, symbol, v.MinOrderValue)
	}
	return passed
}

// ValidateSymbol validates a trading symbol format
func (v *Validator) ValidateSymbol(symbol string) ValidationResult {
	symbol = strings.TrimSpace(symbol)
	switch {
	case symbol == "":
		return invalid("SYMBOL_EMPTY", "symbol cannot be empty")
	case len(symbol) < 3:
		return invalid("SYMBOL_TOO_SHORT", "symbol '%s' too short: minimum 3 characters required", symbol)
	case len(symbol) > 20:
		return invalid("SYMBOL_TOO_LONG", "symbol '%s' too long: maximum 20 characters allowed", symbol)
	}

	for _, char := range symbol {
		if !((char >= 'A' && char <= 'Z') || (char >= 'a' && char <= 'z') || (char >= '0' && char <= '9')) {
			return invalid("SYMBOL_INVALID_CHARS", "symbol '%s' contains invalid characters: only alphanumeric allowed", symbol)
		}
	}
	return passed
}

// ValidateOrder runs symbol, side and notional checks for one order.
func (v *Validator) ValidateOrder(symbol string, side types.Side, price, quantity float64) ValidationResult {
	if r := v.ValidateSymbol(symbol); !r.Valid {
		return r
	}
	if !side.Valid() {
		return invalid("INVALID_SIDE", "unknown side %q for %s", side, symbol)
	}
	return v.ValidateOrderValue(price, quantity, symbol)
}

// ValidateBars checks ordering and OHLC consistency of a bar window.
func (v *Validator) ValidateBars(bars []types.OHLCV, symbol string) ValidationResult {
	for i, b := range bars {
		if b.Low > b.High || b.Close < b.Low || b.Close > b.High || b.Open < b.Low || b.Open > b.High {
			return invalid("BAR_INCONSISTENT", "bar %d for %s violates low <= open,close <= high", i, symbol)
		}
		if r := v.ValidatePrice(b.Close, symbol); !r.Valid {
			return r
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return invalid("BAR_ORDER", "bar %d for %s is not after bar %d", i, symbol, i-1)
		}
	}
	return passed
}
