package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

// MarketData supplies price history and the latest ticker.
type MarketData interface {
	// GetKlines returns up to limit closed bars ordered oldest first.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error)
	GetTicker(ctx context.Context, symbol string) (*types.Ticker, error)
}

// OrderPlacer submits orders. A failed order is reported as *OrderError.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
}

// OrderCanceller is implemented by exchanges that can drop resting orders.
type OrderCanceller interface {
	CancelAllOrders(ctx context.Context, symbol string) error
}

// BalanceProvider reports the account snapshot used for sizing.
type BalanceProvider interface {
	GetBalance(ctx context.Context) (*types.AccountBalance, error)
}

// Exchange is the full set of collaborators the bot trades through.
type Exchange interface {
	MarketData
	OrderPlacer
	BalanceProvider
	GetName() string
}

// Supported bar intervals.
const (
	Interval1m  = "1m"
	Interval5m  = "5m"
	Interval15m = "15m"
	Interval30m = "30m"
	Interval1h  = "1h"
	Interval4h  = "4h"
	Interval1d  = "1d"
)

var intervalDurations = map[string]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval1h:  time.Hour,
	Interval4h:  4 * time.Hour,
	Interval1d:  24 * time.Hour,
}

// IntervalDuration returns the bar length of interval.
func IntervalDuration(interval string) (time.Duration, error) {
	d, ok := intervalDurations[interval]
	if !ok {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	return d, nil
}
