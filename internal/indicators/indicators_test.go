package indicators

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barsFromCloses(closes []float64) []types.OHLCV {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.OHLCV, len(closes))
	for i, c := range closes {
		bars[i] = types.OHLCV{
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    1000,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
		}
	}
	return bars
}

func randomWalk(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	closes := make([]float64, n)
	price := 45000.0
	for i := range closes {
		price *= 1 + rng.NormFloat64()*0.02
		closes[i] = price
	}
	return closes
}

// TestRSI_SeriesBounded checks RSI stays within [0, 100] and is NaN only during warm-up
func TestRSI_SeriesBounded(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		closes := randomWalk(300, seed)
		series := NewRSI(14).Series(closes)

		for i, v := range series {
			if i < 14 {
				assert.True(t, math.IsNaN(v), "index %d should be undefined", i)
				continue
			}
			require.False(t, math.IsNaN(v), "index %d should be defined", i)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 100.0)
		}
	}
}

// TestRSI_WilderSmoothing verifies the seed average and one smoothing step
func TestRSI_WilderSmoothing(t *testing.T) {
	series := NewRSI(2).Series([]float64{1, 2, 1, 2})

	assert.True(t, math.IsNaN(series[0]))
	assert.True(t, math.IsNaN(series[1]))
	assert.InDelta(t, 50.0, series[2], 1e-9)
	assert.InDelta(t, 75.0, series[3], 1e-9)
}

func TestRSI_Extremes(t *testing.T) {
	rising := make([]float64, 20)
	falling := make([]float64, 20)
	flat := make([]float64, 20)
	for i := range rising {
		rising[i] = 100 + float64(i)
		falling[i] = 100 - float64(i)
		flat[i] = 100
	}

	rsi := NewRSI(14)
	up := rsi.Series(rising)
	down := rsi.Series(falling)
	none := rsi.Series(flat)

	assert.Equal(t, 100.0, up[19])
	assert.Equal(t, 0.0, down[19])
	assert.Equal(t, 50.0, none[19])
}

func TestRSI_Calculate_InsufficientData(t *testing.T) {
	rsi := NewRSI(14)

	_, err := rsi.Calculate(barsFromCloses(randomWalk(14, 3)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientData)

	value, err := rsi.Calculate(barsFromCloses(randomWalk(15, 3)))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(value))
}

func TestRSI_Metadata(t *testing.T) {
	rsi := NewRSI(14)
	assert.Equal(t, "RSI", rsi.GetName())
	assert.Equal(t, 15, rsi.GetRequiredPeriods())
}

func TestEMA_Series(t *testing.T) {
	ema := NewEMA(3) // alpha = 0.5
	series := ema.Series([]float64{2, 4, 6})

	assert.Equal(t, []float64{2, 3, 4.5}, series)
}

func TestEMA_Calculate(t *testing.T) {
	ema := NewEMA(3)

	_, err := ema.Calculate(barsFromCloses([]float64{1, 2}))
	assert.ErrorIs(t, err, ErrInsufficientData)

	value, err := ema.Calculate(barsFromCloses([]float64{2, 4, 6}))
	require.NoError(t, err)
	assert.InDelta(t, 4.5, value, 1e-9)
}

func TestTrueRange(t *testing.T) {
	candle := types.OHLCV{High: 12, Low: 9, Close: 10}

	assert.Equal(t, 5.0, TrueRange(candle, 14))
	assert.Equal(t, 3.0, TrueRange(candle, 10))
	assert.Equal(t, 4.0, TrueRange(candle, 8))
}

func TestATR_FlatMarketIsZero(t *testing.T) {
	bars := make([]types.OHLCV, 30)
	for i := range bars {
		bars[i] = types.OHLCV{Open: 100, High: 100, Low: 100, Close: 100}
	}

	value, err := NewATR(14).Calculate(bars)
	require.NoError(t, err)
	assert.Equal(t, 0.0, value)
}

func TestATR_PositiveForVolatileMarket(t *testing.T) {
	bars := barsFromCloses(randomWalk(50, 7))

	value, err := NewATR(14).Calculate(bars)
	require.NoError(t, err)
	assert.Greater(t, value, 0.0)

	_, err = NewATR(14).Calculate(bars[:10])
	assert.ErrorIs(t, err, ErrInsufficientData)
}
