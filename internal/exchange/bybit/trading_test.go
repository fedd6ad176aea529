package bybit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/safety"
)

// stubOrders serves one order from scripted realtime and history answers.
// Once cancelled, the open endpoint stops listing the order.
type stubOrders struct {
	mu sync.Mutex

	open       []orderRecord
	openErr    error
	history    *orderRecord
	historyErr error
	cancelErr  error

	afterCancel *orderRecord
	cancelled   int
	openCalls   int
}

func (s *stubOrders) openOrder(ctx context.Context, symbol, orderID string) (orderRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return orderRecord{}, false, err
	}
	s.openCalls++
	if s.openErr != nil {
		return orderRecord{}, false, s.openErr
	}
	if s.cancelled > 0 || len(s.open) == 0 {
		return orderRecord{}, false, nil
	}
	r := s.open[0]
	if len(s.open) > 1 {
		s.open = s.open[1:]
	}
	return r, true, nil
}

func (s *stubOrders) historicOrder(ctx context.Context, symbol, orderID string) (orderRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return orderRecord{}, false, err
	}
	if s.historyErr != nil {
		return orderRecord{}, false, s.historyErr
	}
	if s.cancelled > 0 && s.afterCancel != nil {
		return *s.afterCancel, true, nil
	}
	if s.history == nil {
		return orderRecord{}, false, nil
	}
	return *s.history, true, nil
}

func (s *stubOrders) cancelOrder(ctx context.Context, symbol, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled++
	return s.cancelErr
}

// TestResolveFill_FilledOrderFoundInHistory reads a market fill that left the realtime endpoint
func TestResolveFill_FilledOrderFoundInHistory(t *testing.T) {
	src := &stubOrders{history: &orderRecord{OrderID: "o1", OrderStatus: statusFilled, AvgPrice: "100", CumExecQty: "0.5"}}

	fill, err := resolveFill(context.Background(), src, "BTCUSDT", "o1", 0.5, 8, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, exchange.FillStatusFilled, fill.Status)
	assert.Equal(t, 0.5, fill.Filled)
	assert.Equal(t, 100.0, fill.Price)
	assert.Zero(t, src.cancelled)
}

// TestResolveFill_CancelsWorkingOrderAfterPolls cancels and reports the executed part
func TestResolveFill_CancelsWorkingOrderAfterPolls(t *testing.T) {
	src := &stubOrders{
		open: []orderRecord{{OrderID: "o2", OrderStatus: statusNew}},
		afterCancel: &orderRecord{
			OrderID: "o2", OrderStatus: statusPartiallyFilledCanceled, AvgPrice: "200", CumExecQty: "0.4",
		},
	}

	fill, err := resolveFill(context.Background(), src, "ETHUSDT", "o2", 1, 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, src.cancelled)
	assert.Equal(t, 4, src.openCalls)
	assert.Equal(t, exchange.FillStatusPartiallyFilled, fill.Status)
	assert.Equal(t, 0.4, fill.Filled)
	assert.InDelta(t, 0.6, fill.Remaining, 1e-9)
}

// TestResolveFill_CancelledWithoutExecution reports a rejection once the cancel went through
func TestResolveFill_CancelledWithoutExecution(t *testing.T) {
	src := &stubOrders{open: []orderRecord{{OrderID: "o3", OrderStatus: statusNew}}}

	_, err := resolveFill(context.Background(), src, "ETHUSDT", "o3", 1, 2, time.Millisecond)
	require.Error(t, err)
	kind, ok := exchange.OrderErrorKindOf(err)
	require.True(t, ok)
	assert.Equal(t, exchange.OrderRejected, kind)
	assert.Equal(t, 1, src.cancelled)
}

// TestResolveFill_ContextDoneStillResolves finds the fill with a detached context
func TestResolveFill_ContextDoneStillResolves(t *testing.T) {
	src := &stubOrders{
		open:        []orderRecord{{OrderID: "o4", OrderStatus: statusNew}},
		afterCancel: &orderRecord{OrderID: "o4", OrderStatus: statusFilled, AvgPrice: "50", CumExecQty: "2"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fill, err := resolveFill(ctx, src, "SOLUSDT", "o4", 2, 8, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, exchange.FillStatusFilled, fill.Status)
	assert.Equal(t, 2.0, fill.Filled)
	assert.Equal(t, 1, src.cancelled)
}

// TestResolveFill_UnreachableIsNotRetryable never asks the caller to place the order again
func TestResolveFill_UnreachableIsNotRetryable(t *testing.T) {
	rateLimited := &APIError{Code: ErrCodeRateLimitExceeded, Message: "too many visits", Operation: "order status"}
	src := &stubOrders{
		openErr:   rateLimited,
		cancelErr: errors.New("connection reset"),
	}

	_, err := resolveFill(context.Background(), src, "BTCUSDT", "o5", 1, 2, time.Millisecond)
	require.Error(t, err)
	kind, ok := exchange.OrderErrorKindOf(err)
	require.True(t, ok)
	assert.Equal(t, exchange.ExchangeFailure, kind)
	assert.NotErrorIs(t, err, safety.ErrRateLimited)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Contains(t, err.Error(), "too many visits")
}
