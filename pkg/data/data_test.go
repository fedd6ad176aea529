package data

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

func makeBars(n int) []types.OHLCV {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.OHLCV, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = types.OHLCV{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: 10,
		}
	}
	return bars
}

// TestCSV_WriteThenRead keeps every field
func TestCSV_WriteThenRead(t *testing.T) {
	bars := makeBars(5)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, bars))

	got, report, err := ReadCSV(&buf, DefaultCSVFormat)
	require.NoError(t, err)
	assert.Equal(t, ReadReport{Rows: 5}, report)
	assert.Equal(t, bars, got)
}

// TestReadCSV_SkipsBadRows drops rows that cannot be a candle
func TestReadCSV_SkipsBadRows(t *testing.T) {
	input := strings.Join([]string{
		"timestamp,open,high,low,close,volume",
		"2024-01-01 00:00:00,100,101,99,100.5,5",
		"2024-01-01 01:00:00,100,99,98,100,5",  // high below open
		"not-a-date,100,101,99,100,5",          // timestamp
		"2024-01-01 02:00:00,100,101,99",       // short
		"2024-01-01 03:00:00,-1,101,99,100,5",  // non-positive
		"2023-12-31 23:00:00,100,101,99,100,5", // out of order
		"2024-01-01 04:00:00,100,102,99,101,7",
	}, "\n")

	bars, report, err := ReadCSV(strings.NewReader(input), DefaultCSVFormat)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Rows)
	assert.Equal(t, 5, report.Skipped)
	require.Len(t, bars, 2)
	assert.Equal(t, 101.0, bars[1].Close)
}

// TestReadCSV_Empty returns no bars
func TestReadCSV_Empty(t *testing.T) {
	bars, _, err := ReadCSV(strings.NewReader(""), DefaultCSVFormat)
	require.NoError(t, err)
	assert.Empty(t, bars)
}

// TestDataPath uses interval minutes
func TestDataPath(t *testing.T) {
	path, err := DataPath("data", "Bybit", "spot", "btcusdt", "4h")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "bybit", "spot", "BTCUSDT", "240", "candles.csv"), path)

	_, err = DataPath("data", "bybit", "spot", "BTCUSDT", "2h")
	assert.Error(t, err)
}

// TestReplayFeed_RevealsOneBarPerTick advances on each ticker
func TestReplayFeed_RevealsOneBarPerTick(t *testing.T) {
	ctx := context.Background()
	bars := makeBars(5)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	feed := NewReplayFeed(map[string][]types.OHLCV{"BTCUSDT": bars}, 3)
	feed.SetClock(func() time.Time { return now })

	got, err := feed.GetKlines(ctx, "BTCUSDT", "1h", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	ticker, err := feed.GetTicker(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, bars[2].Close, ticker.Price)
	assert.Equal(t, now, ticker.Timestamp)

	got, err = feed.GetKlines(ctx, "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	assert.Equal(t, bars[1:3], got)
	assert.Equal(t, 2, feed.Remaining("BTCUSDT"))

	_, err = feed.GetTicker(ctx, "BTCUSDT")
	require.NoError(t, err)
	_, err = feed.GetTicker(ctx, "BTCUSDT")
	require.NoError(t, err)

	_, err = feed.GetTicker(ctx, "BTCUSDT")
	assert.True(t, errors.Is(err, ErrReplayExhausted))
}

// TestReplayFeed_UnknownSymbol fails both calls
func TestReplayFeed_UnknownSymbol(t *testing.T) {
	feed := NewReplayFeed(nil, 0)
	_, err := feed.GetTicker(context.Background(), "DOGEUSDT")
	assert.Error(t, err)
	_, err = feed.GetKlines(context.Background(), "DOGEUSDT", "1h", 10)
	assert.Error(t, err)
}

// TestLoadReplayFeed reads the stored layout
func TestLoadReplayFeed(t *testing.T) {
	root := t.TempDir()
	path, err := DataPath(root, "bybit", "spot", "ETHUSDT", "1h")
	require.NoError(t, err)
	require.NoError(t, SaveCSV(path, makeBars(10)))

	feed, err := LoadReplayFeed(root, "bybit", "spot", "1h", []string{"ETHUSDT"}, 4)
	require.NoError(t, err)
	assert.Equal(t, 7, feed.Remaining("ETHUSDT"))

	_, err = LoadReplayFeed(root, "bybit", "spot", "1h", []string{"SOLUSDT"}, 4)
	assert.Error(t, err)
}
