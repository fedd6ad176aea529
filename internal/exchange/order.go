package exchange

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

// OrderSide is the direction of a single order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// EntrySide is the order side that opens a position on side.
func EntrySide(side types.Side) OrderSide {
	if side == types.SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitSide is the order side that closes a position on side.
func ExitSide(side types.Side) OrderSide {
	return EntrySide(side.Opposite())
}

// OrderRequest describes one order. LimitPrice zero means market.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Size          float64
	LimitPrice    float64
	ReduceOnly    bool
}

// NewOrderRequest stamps a fresh client order id so a retried submit can be deduplicated.
func NewOrderRequest(symbol string, side OrderSide, size, limitPrice float64) OrderRequest {
	return OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        symbol,
		Side:          side,
		Size:          size,
		LimitPrice:    limitPrice,
	}
}

func (r OrderRequest) IsMarket() bool {
	return r.LimitPrice <= 0
}

// FillStatus is the terminal state of an accepted order.
type FillStatus string

const (
	FillStatusFilled          FillStatus = "Filled"
	FillStatusPartiallyFilled FillStatus = "PartiallyFilled"
)

// Fill is the success branch of an order result.
type Fill struct {
	OrderID       string
	ClientOrderID string
	Price         float64
	Filled        float64
	Remaining     float64
	Status        FillStatus
}

// Partial reports whether only part of the requested size executed.
func (f Fill) Partial() bool {
	return f.Status == FillStatusPartiallyFilled || f.Remaining > 0
}

// OrderErrorKind tags the failure branch of an order result.
type OrderErrorKind int

const (
	// ExchangeFailure covers transport errors and unexpected responses.
	ExchangeFailure OrderErrorKind = iota
	OrderRejected
	InsufficientFunds
)

func (k OrderErrorKind) String() string {
	switch k {
	case OrderRejected:
		return "order_rejected"
	case InsufficientFunds:
		return "insufficient_funds"
	default:
		return "exchange_failure"
	}
}

// OrderError is returned by OrderPlacer when an order did not execute.
type OrderError struct {
	Kind   OrderErrorKind
	Symbol string
	Reason string
	Err    error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Kind, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError builds an OrderError. err may be nil.
func NewOrderError(kind OrderErrorKind, symbol, reason string, err error) *OrderError {
	return &OrderError{Kind: kind, Symbol: symbol, Reason: reason, Err: err}
}

// OrderErrorKindOf extracts the kind of an order failure anywhere in err's chain.
func OrderErrorKindOf(err error) (OrderErrorKind, bool) {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Kind, true
	}
	return 0, false
}
