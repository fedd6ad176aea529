package exchange

import (
	"context"

	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

// Guard runs one external call behind the safety gates.
type Guard interface {
	Guard(ctx context.Context, endpoint string, fn func(context.Context) error) error
}

// Endpoint names recorded by the rate limiter.
const (
	EndpointKlines    = "klines"
	EndpointTicker    = "ticker"
	EndpointOrder     = "order"
	EndpointBalance   = "balance"
	EndpointCancelAll = "cancel_all"
)

// GatedClient routes every call of an Exchange through a Guard:
// check gates, call, record the call and record a failure.
type GatedClient struct {
	inner Exchange
	guard Guard
}

var (
	_ Exchange       = (*GatedClient)(nil)
	_ OrderCanceller = (*GatedClient)(nil)
)

func NewGatedClient(inner Exchange, guard Guard) *GatedClient {
	return &GatedClient{inner: inner, guard: guard}
}

func (g *GatedClient) GetName() string {
	return g.inner.GetName()
}

func (g *GatedClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	var bars []types.OHLCV
	err := g.guard.Guard(ctx, EndpointKlines, func(ctx context.Context) error {
		var err error
		bars, err = g.inner.GetKlines(ctx, symbol, interval, limit)
		return err
	})
	return bars, err
}

func (g *GatedClient) GetTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	var ticker *types.Ticker
	err := g.guard.Guard(ctx, EndpointTicker, func(ctx context.Context) error {
		var err error
		ticker, err = g.inner.GetTicker(ctx, symbol)
		return err
	})
	return ticker, err
}

// PlaceOrder keeps req.ClientOrderID across retries so the exchange can drop duplicates.
func (g *GatedClient) PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	var fill Fill
	err := g.guard.Guard(ctx, EndpointOrder, func(ctx context.Context) error {
		var err error
		fill, err = g.inner.PlaceOrder(ctx, req)
		return err
	})
	return fill, err
}

func (g *GatedClient) GetBalance(ctx context.Context) (*types.AccountBalance, error) {
	var balance *types.AccountBalance
	err := g.guard.Guard(ctx, EndpointBalance, func(ctx context.Context) error {
		var err error
		balance, err = g.inner.GetBalance(ctx)
		return err
	})
	return balance, err
}

// CancelAllOrders is a no-op when the wrapped exchange cannot cancel.
func (g *GatedClient) CancelAllOrders(ctx context.Context, symbol string) error {
	canceller, ok := g.inner.(OrderCanceller)
	if !ok {
		return nil
	}
	return g.guard.Guard(ctx, EndpointCancelAll, func(ctx context.Context) error {
		return canceller.CancelAllOrders(ctx, symbol)
	})
}
