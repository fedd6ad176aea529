package bybit

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange"
)

// Bybit order states
const (
	statusNew                     = "New"
	statusPartiallyFilled         = "PartiallyFilled"
	statusFilled                  = "Filled"
	statusCancelled               = "Cancelled"
	statusPartiallyFilledCanceled = "PartiallyFilledCanceled"
	statusRejected                = "Rejected"
	statusDeactivated             = "Deactivated"
)

type placeResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type orderRecord struct {
	OrderID      string `json:"orderId"`
	OrderLinkID  string `json:"orderLinkId"`
	Symbol       string `json:"symbol"`
	OrderStatus  string `json:"orderStatus"`
	Qty          string `json:"qty"`
	AvgPrice     string `json:"avgPrice"`
	CumExecQty   string `json:"cumExecQty"`
	CumExecValue string `json:"cumExecValue"`
	RejectReason string `json:"rejectReason"`
}

type orderListResult struct {
	Category string        `json:"category"`
	List     []orderRecord `json:"list"`
}

// PlaceOrder submits a market order, or an IOC limit order when LimitPrice is
// set, and waits for the execution report. Nothing is left resting on the book.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Fill, error) {
	lot, err := c.instruments.LotSize(ctx, req.Symbol)
	if err != nil {
		return exchange.Fill{}, orderError(req.Symbol, err)
	}
	qty, err := lot.Adjust(req.Size)
	if err != nil {
		return exchange.Fill{}, exchange.NewOrderError(exchange.OrderRejected, req.Symbol, err.Error(), nil)
	}

	params := map[string]interface{}{
		"category": c.cfg.Category,
		"symbol":   req.Symbol,
		"side":     string(req.Side),
		"qty":      formatFloat(qty),
	}
	if req.ClientOrderID != "" {
		params["orderLinkId"] = req.ClientOrderID
	}
	if req.IsMarket() {
		params["orderType"] = "Market"
		if c.cfg.Category == "spot" {
			params["marketUnit"] = "baseCoin"
		}
	} else {
		params["orderType"] = "Limit"
		params["price"] = formatFloat(req.LimitPrice)
		params["timeInForce"] = "IOC"
	}
	if req.ReduceOnly && c.cfg.Category != "spot" {
		params["reduceOnly"] = true
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return exchange.Fill{}, orderError(req.Symbol, fmt.Errorf("failed to place order: %w", err))
	}

	var placed placeResult
	if _, err := decodeResult("place order", result, &placed); err != nil {
		return exchange.Fill{}, orderError(req.Symbol, err)
	}

	fill, err := resolveFill(ctx, c, req.Symbol, placed.OrderID, qty, c.cfg.FillPollAttempts, c.cfg.FillPollInterval)
	if err != nil {
		return exchange.Fill{}, err
	}
	fill.ClientOrderID = req.ClientOrderID
	return fill, nil
}

// resolveTimeout bounds the cancel and final lookup of an unconfirmed order.
const resolveTimeout = 10 * time.Second

// orderSource looks an order up and cancels it.
type orderSource interface {
	openOrder(ctx context.Context, symbol, orderID string) (orderRecord, bool, error)
	historicOrder(ctx context.Context, symbol, orderID string) (orderRecord, bool, error)
	cancelOrder(ctx context.Context, symbol, orderID string) error
}

// resolveFill polls until the order reaches a final state. An order that is
// still unconfirmed when the polls run out or ctx ends is cancelled and read
// back from order history, so the caller always learns what was executed.
func resolveFill(ctx context.Context, src orderSource, symbol, orderID string, requested float64, attempts int, interval time.Duration) (exchange.Fill, error) {
	var (
		last      orderRecord
		lookupErr error
	)
	lookup := func(ctx context.Context) (exchange.Fill, bool, error) {
		record, found, err := src.openOrder(ctx, symbol, orderID)
		if err == nil && !found {
			// Finished orders drop off the realtime endpoint.
			record, found, err = src.historicOrder(ctx, symbol, orderID)
		}
		if err != nil {
			lookupErr = err
			return exchange.Fill{}, false, nil
		}
		if !found {
			return exchange.Fill{}, false, nil
		}
		last = record
		return fillFromOrder(symbol, record, requested)
	}

poll:
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				break poll
			case <-time.After(interval):
			}
		}
		if fill, done, err := lookup(ctx); done {
			return fill, err
		}
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
	defer cancel()

	cancelErr := src.cancelOrder(rctx, symbol, orderID)
	if fill, done, err := lookup(rctx); done {
		return fill, err
	}

	if parseFloat64(last.CumExecQty) > 0 {
		fill, _, err := fillFromOrder(symbol, orderRecord{
			OrderID:      last.OrderID,
			OrderStatus:  statusPartiallyFilledCanceled,
			AvgPrice:     last.AvgPrice,
			CumExecQty:   last.CumExecQty,
			CumExecValue: last.CumExecValue,
		}, requested)
		return fill, err
	}
	if cancelErr == nil {
		return exchange.Fill{}, exchange.NewOrderError(exchange.OrderRejected, symbol,
			fmt.Sprintf("order %s cancelled after %d unconfirmed polls", orderID, attempts), nil)
	}
	// The order was placed, so nothing in the chain may read as retryable.
	reason := fmt.Sprintf("order %s unresolved: cancel failed: %v", orderID, cancelErr)
	if lookupErr != nil {
		reason += fmt.Sprintf("; last lookup: %v", lookupErr)
	}
	return exchange.Fill{}, exchange.NewOrderError(exchange.ExchangeFailure, symbol, reason, nil)
}

// fillFromOrder interprets an order record. done is false while the order is still working.
func fillFromOrder(symbol string, o orderRecord, requested float64) (exchange.Fill, bool, error) {
	filled := parseFloat64(o.CumExecQty)
	price := parseFloat64(o.AvgPrice)
	if price == 0 && filled > 0 {
		price = parseFloat64(o.CumExecValue) / filled
	}

	switch o.OrderStatus {
	case statusFilled:
		return exchange.Fill{
			OrderID: o.OrderID,
			Price:   price,
			Filled:  filled,
			Status:  exchange.FillStatusFilled,
		}, true, nil
	case statusPartiallyFilledCanceled, statusCancelled, statusDeactivated:
		if filled == 0 {
			return exchange.Fill{}, true, exchange.NewOrderError(exchange.OrderRejected, symbol,
				fmt.Sprintf("order %s %s without execution", o.OrderID, o.OrderStatus), nil)
		}
		remaining := requested - filled
		if remaining < 0 {
			remaining = 0
		}
		return exchange.Fill{
			OrderID:   o.OrderID,
			Price:     price,
			Filled:    filled,
			Remaining: remaining,
			Status:    exchange.FillStatusPartiallyFilled,
		}, true, nil
	case statusRejected:
		reason := o.RejectReason
		if reason == "" {
			reason = "rejected"
		}
		return exchange.Fill{}, true, exchange.NewOrderError(exchange.OrderRejected, symbol, reason, nil)
	default:
		return exchange.Fill{}, false, nil
	}
}

func (c *Client) openOrder(ctx context.Context, symbol, orderID string) (orderRecord, bool, error) {
	result, err := c.httpClient.NewUtaBybitServiceWithParams(c.orderParams(symbol, orderID)).GetOpenOrders(ctx)
	if err != nil {
		return orderRecord{}, false, fmt.Errorf("failed to get order status: %w", err)
	}
	return findOrder("order status", orderID, result)
}

func (c *Client) historicOrder(ctx context.Context, symbol, orderID string) (orderRecord, bool, error) {
	result, err := c.httpClient.NewUtaBybitServiceWithParams(c.orderParams(symbol, orderID)).GetOrderHistory(ctx)
	if err != nil {
		return orderRecord{}, false, fmt.Errorf("failed to get order history: %w", err)
	}
	return findOrder("order history", orderID, result)
}

// cancelOrder cancels one order by id.
func (c *Client) cancelOrder(ctx context.Context, symbol, orderID string) error {
	result, err := c.httpClient.NewUtaBybitServiceWithParams(c.orderParams(symbol, orderID)).CancelOrder(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	var ignored interface{}
	_, err = decodeResult("cancel order", result, &ignored)
	return err
}

func (c *Client) orderParams(symbol, orderID string) map[string]interface{} {
	return map[string]interface{}{
		"category": c.cfg.Category,
		"symbol":   symbol,
		"orderId":  orderID,
	}
}

func findOrder(operation, orderID string, result interface{}) (orderRecord, bool, error) {
	var orders orderListResult
	if _, err := decodeResult(operation, result, &orders); err != nil {
		return orderRecord{}, false, err
	}
	for _, o := range orders.List {
		if o.OrderID == orderID {
			return o, true, nil
		}
	}
	return orderRecord{}, false, nil
}

// CancelAllOrders cancels all open orders for a symbol
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	params := map[string]interface{}{
		"category": c.cfg.Category,
		"symbol":   symbol,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).CancelAllOrders(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel all orders: %w", err)
	}
	var ignored interface{}
	_, err = decodeResult("cancel all", result, &ignored)
	return err
}
