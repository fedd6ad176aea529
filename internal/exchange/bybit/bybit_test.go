package bybit

import (
	"errors"
	"fmt"
	"testing"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/safety"
)

// TestNewClient_Environment picks the endpoint from the config flags
func TestNewClient_Environment(t *testing.T) {
	assert.Equal(t, "mainnet", NewClient(Config{}).GetEnvironment())
	assert.Equal(t, "testnet", NewClient(Config{Testnet: true}).GetEnvironment())
	assert.Equal(t, "demo", NewClient(Config{Demo: true, Testnet: true}).GetEnvironment())

	c := NewClient(Config{})
	assert.Equal(t, "spot", c.Category())
	assert.Equal(t, "bybit", c.GetName())
}

// TestParseKlines orders bars oldest first and drops bad rows
func TestParseKlines(t *testing.T) {
	rows := [][]string{
		{"1714561200000", "102", "103", "101", "102.5", "10", "1025"},
		{"1714557600000", "100", "102", "99", "101", "12", "1212"},
		{"1714557600000", "100", "102", "99", "101", "12", "1212"},
		{"bad"},
	}

	bars := parseKlines(rows)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Timestamp.Before(bars[1].Timestamp))
	assert.Equal(t, 101.0, bars[0].Close)
	assert.Equal(t, 102.5, bars[1].Close)
	assert.Equal(t, time.UTC, bars[0].Timestamp.Location())
}

// TestDecodeResult_APIError surfaces a non-zero retCode
func TestDecodeResult_APIError(t *testing.T) {
	resp := &bybit_api.ServerResponse{RetCode: ErrCodeRateLimitExceeded, RetMsg: "Too many visits"}

	var out klineResult
	_, err := decodeResult("klines", resp, &out)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, ErrCodeRateLimitExceeded, apiErr.Code)
	assert.ErrorIs(t, err, safety.ErrRateLimited)
}

// TestDecodeResult_Result unmarshals the result payload
func TestDecodeResult_Result(t *testing.T) {
	resp := &bybit_api.ServerResponse{
		Result: map[string]interface{}{
			"category": "spot",
			"list": []interface{}{
				map[string]interface{}{"symbol": "BTCUSDT", "lastPrice": "64000.5", "volume24h": "100"},
			},
		},
	}

	var out tickerResult
	_, err := decodeResult("ticker", resp, &out)
	require.NoError(t, err)
	require.Len(t, out.List, 1)
	assert.Equal(t, 64000.5, parseFloat64(out.List[0].LastPrice))

	_, err = decodeResult("ticker", "not a response", &out)
	assert.Error(t, err)
}

// TestOrderError_Classification maps Bybit codes to order failure kinds
func TestOrderError_Classification(t *testing.T) {
	cases := []struct {
		code int
		kind exchange.OrderErrorKind
	}{
		{ErrCodeInsufficientBalance, exchange.InsufficientFunds},
		{ErrCodeSpotInsufficient, exchange.InsufficientFunds},
		{ErrCodeInvalidQuantity, exchange.OrderRejected},
		{ErrCodeMarketClosed, exchange.OrderRejected},
		{ErrCodeInvalidSignature, exchange.ExchangeFailure},
	}
	for _, tc := range cases {
		err := orderError("BTCUSDT", &APIError{Code: tc.code, Message: "x"})
		kind, ok := exchange.OrderErrorKindOf(err)
		require.True(t, ok, "code %d", tc.code)
		assert.Equal(t, tc.kind, kind, "code %d", tc.code)
	}

	kind, _ := exchange.OrderErrorKindOf(orderError("BTCUSDT", errors.New("EOF")))
	assert.Equal(t, exchange.ExchangeFailure, kind)
}

// TestOrderError_RateLimitStaysRetryable keeps the rate-limit sentinel in the chain
func TestOrderError_RateLimitStaysRetryable(t *testing.T) {
	err := orderError("BTCUSDT", fmt.Errorf("place: %w", &APIError{Code: ErrCodeIPRateLimited}))
	assert.ErrorIs(t, err, safety.ErrRateLimited)
	_, ok := exchange.OrderErrorKindOf(err)
	assert.True(t, ok)
}

// TestIsAuthenticationError detects signature problems
func TestIsAuthenticationError(t *testing.T) {
	assert.True(t, IsAuthenticationError(&APIError{Code: ErrCodeInvalidAPIKey}))
	assert.False(t, IsAuthenticationError(&APIError{Code: ErrCodeRateLimitExceeded}))
	assert.False(t, IsAuthenticationError(errors.New("other")))
}

// TestLotSize_Adjust floors to the step and enforces the minimum
func TestLotSize_Adjust(t *testing.T) {
	lot := LotSize{MinQty: 0.001, MaxQty: 100, QtyStep: 0.001}

	qty, err := lot.Adjust(0.123456)
	require.NoError(t, err)
	assert.Equal(t, 0.123, qty)

	qty, err = lot.Adjust(0.3)
	require.NoError(t, err)
	assert.Equal(t, 0.3, qty)

	qty, err = lot.Adjust(500)
	require.NoError(t, err)
	assert.Equal(t, 100.0, qty)

	_, err = lot.Adjust(0.0004)
	assert.Error(t, err)
}

// TestFillFromOrder covers terminal and working states
func TestFillFromOrder(t *testing.T) {
	fill, done, err := fillFromOrder("BTCUSDT", orderRecord{OrderID: "1", OrderStatus: statusFilled, AvgPrice: "100", CumExecQty: "2"}, 2)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 100.0, fill.Price)
	assert.Equal(t, exchange.FillStatusFilled, fill.Status)

	fill, done, err = fillFromOrder("BTCUSDT", orderRecord{OrderID: "2", OrderStatus: statusPartiallyFilledCanceled, CumExecQty: "1", CumExecValue: "101"}, 2)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 101.0, fill.Price)
	assert.Equal(t, 1.0, fill.Remaining)
	assert.True(t, fill.Partial())

	_, done, err = fillFromOrder("BTCUSDT", orderRecord{OrderID: "3", OrderStatus: statusCancelled, CumExecQty: "0"}, 2)
	assert.True(t, done)
	kind, _ := exchange.OrderErrorKindOf(err)
	assert.Equal(t, exchange.OrderRejected, kind)

	_, done, err = fillFromOrder("BTCUSDT", orderRecord{OrderID: "4", OrderStatus: statusNew}, 2)
	assert.False(t, done)
	assert.NoError(t, err)
}

// TestBalanceFromWallet splits cash and holdings and uses equity as total
func TestBalanceFromWallet(t *testing.T) {
	wallet := walletResult{List: []walletAccount{{
		Coin: []walletCoin{
			{Coin: "USDT", WalletBalance: "5000", Locked: "100", UsdValue: "5000"},
			{Coin: "BTC", WalletBalance: "0.1", UsdValue: "6400"},
		},
	}}}

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	bal, err := balanceFromWallet(wallet, "USDT", at)
	require.NoError(t, err)
	assert.Equal(t, 4900.0, bal.FreeCash)
	assert.Equal(t, 0.1, bal.Holdings["BTC"])
	assert.Equal(t, 11400.0, bal.TotalValue)
	assert.Equal(t, at, bal.Timestamp)

	_, err = balanceFromWallet(walletResult{}, "USDT", at)
	assert.Error(t, err)
}
