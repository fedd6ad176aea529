package bybit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange"
	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

// klineIntervals maps bar intervals to Bybit interval codes.
var klineIntervals = map[string]string{
	exchange.Interval1m:  "1",
	exchange.Interval5m:  "5",
	exchange.Interval15m: "15",
	exchange.Interval30m: "30",
	exchange.Interval1h:  "60",
	exchange.Interval4h:  "240",
	exchange.Interval1d:  "D",
}

const maxKlineLimit = 1000

type klineResult struct {
	Category string     `json:"category"`
	Symbol   string     `json:"symbol"`
	List     [][]string `json:"list"`
}

// GetKlines fetches bars oldest first. Bybit lists newest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	code, ok := klineIntervals[interval]
	if !ok {
		return nil, fmt.Errorf("bybit klines: unsupported interval %q", interval)
	}
	if limit <= 0 {
		limit = 200
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	params := map[string]interface{}{
		"category": c.cfg.Category,
		"symbol":   symbol,
		"interval": code,
		"limit":    limit,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", err)
	}

	var klines klineResult
	if _, err := decodeResult("klines", result, &klines); err != nil {
		return nil, err
	}
	return parseKlines(klines.List), nil
}

// GetKlinesBetween pages through the kline endpoint to return every bar
// starting in [start, end], oldest first.
func (c *Client) GetKlinesBetween(ctx context.Context, symbol, interval string, start, end time.Time) ([]types.OHLCV, error) {
	code, ok := klineIntervals[interval]
	if !ok {
		return nil, fmt.Errorf("bybit klines: unsupported interval %q", interval)
	}

	fetch := func(ctx context.Context, from, to time.Time) ([]types.OHLCV, error) {
		params := map[string]interface{}{
			"category": c.cfg.Category,
			"symbol":   symbol,
			"interval": code,
			"start":    from.UnixMilli(),
			"end":      to.UnixMilli(),
			"limit":    maxKlineLimit,
		}
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get klines: %w", err)
		}
		var klines klineResult
		if _, err := decodeResult("klines", result, &klines); err != nil {
			return nil, err
		}
		return parseKlines(klines.List), nil
	}
	return pageKlines(ctx, fetch, start, end, maxKlineLimit)
}

type klinePageFunc func(ctx context.Context, from, to time.Time) ([]types.OHLCV, error)

// pageKlines walks backwards from end. Bybit returns the newest pageSize
// bars of a range, so each request ends just before the oldest bar seen.
func pageKlines(ctx context.Context, fetch klinePageFunc, start, end time.Time, pageSize int) ([]types.OHLCV, error) {
	var pages [][]types.OHLCV
	total := 0
	cursor := end
	for !cursor.Before(start) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := fetch(ctx, start, cursor)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		pages = append(pages, page)
		total += len(page)

		next := page[0].Timestamp.Add(-time.Millisecond)
		if len(page) < pageSize || !next.Before(cursor) {
			break
		}
		cursor = next
	}

	out := make([]types.OHLCV, 0, total)
	for i := len(pages) - 1; i >= 0; i-- {
		out = append(out, pages[i]...)
	}
	return out, nil
}

// parseKlines converts [startTime, open, high, low, close, volume, turnover]
// rows into bars sorted by time, dropping incomplete rows and duplicates.
func parseKlines(rows [][]string) []types.OHLCV {
	bars := make([]types.OHLCV, 0, len(rows))
	for _, item := range rows {
		if len(item) < 6 {
			continue
		}
		bars = append(bars, types.OHLCV{
			Timestamp: timeFromMillis(parseInt64(item[0])),
			Open:      parseFloat64(item[1]),
			High:      parseFloat64(item[2]),
			Low:       parseFloat64(item[3]),
			Close:     parseFloat64(item[4]),
			Volume:    parseFloat64(item[5]),
		})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	out := bars[:0]
	for i, b := range bars {
		if i > 0 && !b.Timestamp.After(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, b)
	}
	return out
}

type tickerResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
		Volume24h string `json:"volume24h"`
	} `json:"list"`
}

// GetTicker returns the last traded price stamped with the server time.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	params := map[string]interface{}{
		"category": c.cfg.Category,
		"symbol":   symbol,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker: %w", err)
	}

	var tickers tickerResult
	serverTime, err := decodeResult("ticker", result, &tickers)
	if err != nil {
		return nil, err
	}
	for _, t := range tickers.List {
		if t.Symbol != symbol {
			continue
		}
		if serverTime.IsZero() {
			serverTime = c.now()
		}
		return &types.Ticker{
			Symbol:    symbol,
			Price:     parseFloat64(t.LastPrice),
			Volume:    parseFloat64(t.Volume24h),
			Timestamp: serverTime,
		}, nil
	}
	return nil, fmt.Errorf("bybit ticker: no data for %s", symbol)
}
