package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange"
	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

// ErrReplayExhausted is returned once every stored bar has been served.
var ErrReplayExhausted = errors.New("replay exhausted")

// ReplayFeed serves stored bars as if they were arriving live. Each
// GetTicker call reveals the next bar of that symbol; GetKlines only returns
// revealed bars. Tickers are stamped with the feed clock so freshness checks
// treat replayed prices as current.
type ReplayFeed struct {
	mu       sync.Mutex
	series   map[string][]types.OHLCV
	revealed map[string]int
	warmup   int
	now      func() time.Time
}

var _ exchange.MarketData = (*ReplayFeed)(nil)

// NewReplayFeed starts every symbol with warmup bars visible before the first tick.
func NewReplayFeed(series map[string][]types.OHLCV, warmup int) *ReplayFeed {
	if warmup < 0 {
		warmup = 0
	}
	f := &ReplayFeed{
		series:   make(map[string][]types.OHLCV, len(series)),
		revealed: make(map[string]int, len(series)),
		warmup:   warmup,
		now:      time.Now,
	}
	for symbol, bars := range series {
		f.series[symbol] = bars
		start := warmup - 1
		if start < 0 {
			start = 0
		}
		if start > len(bars) {
			start = len(bars)
		}
		f.revealed[symbol] = start
	}
	return f
}

// LoadReplayFeed reads one CSV per symbol from the DataPath layout.
func LoadReplayFeed(root, exchangeName, category, interval string, symbols []string, warmup int) (*ReplayFeed, error) {
	series := make(map[string][]types.OHLCV, len(symbols))
	for _, symbol := range symbols {
		path, err := DataPath(root, exchangeName, category, symbol, interval)
		if err != nil {
			return nil, err
		}
		bars, _, err := LoadCSV(path)
		if err != nil {
			return nil, fmt.Errorf("load bars for %s: %w", symbol, err)
		}
		if len(bars) == 0 {
			return nil, fmt.Errorf("no bars for %s in %s", symbol, path)
		}
		series[symbol] = bars
	}
	return NewReplayFeed(series, warmup), nil
}

func (f *ReplayFeed) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Remaining is how many bars of symbol are still unrevealed.
func (f *ReplayFeed) Remaining(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.series[symbol]) - f.revealed[symbol]
}

func (f *ReplayFeed) GetTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	bars, ok := f.series[symbol]
	if !ok {
		return nil, fmt.Errorf("replay: unknown symbol %s", symbol)
	}
	n := f.revealed[symbol]
	if n >= len(bars) {
		return nil, fmt.Errorf("%w: %s", ErrReplayExhausted, symbol)
	}
	n++
	f.revealed[symbol] = n

	bar := bars[n-1]
	return &types.Ticker{
		Symbol:    symbol,
		Price:     bar.Close,
		Volume:    bar.Volume,
		Timestamp: f.now(),
	}, nil
}

func (f *ReplayFeed) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	bars, ok := f.series[symbol]
	if !ok {
		return nil, fmt.Errorf("replay: unknown symbol %s", symbol)
	}
	visible := bars[:f.revealed[symbol]]
	if limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	out := make([]types.OHLCV, len(visible))
	copy(out, visible)
	return out, nil
}
