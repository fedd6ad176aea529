package indicators

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

// ATR represents the Average True Range technical indicator
// ATR measures market volatility by decomposing the entire range of an asset price for that period
type ATR struct {
	period int
	ema    *EMA
}

// NewATR creates a new ATR indicator
func NewATR(period int) *ATR {
	return &ATR{
		period: period,
		ema:    NewEMA(period),
	}
}

// Calculate returns the ATR at the latest bar.
func (a *ATR) Calculate(data []types.OHLCV) (float64, error) {
	if len(data) < a.GetRequiredPeriods() {
		return 0, fmt.Errorf("%w for ATR(%d): have %d bars, need %d",
			ErrInsufficientData, a.period, len(data), a.GetRequiredPeriods())
	}

	series := a.Series(data)
	return series[len(series)-1], nil
}

// Series computes the ATR for every bar as an EMA of the true range.
func (a *ATR) Series(data []types.OHLCV) []float64 {
	ranges := make([]float64, len(data))
	for i, candle := range data {
		if i == 0 {
			ranges[i] = candle.High - candle.Low // First candle
			continue
		}
		ranges[i] = TrueRange(candle, data[i-1].Close)
	}
	return a.ema.Series(ranges)
}

// TrueRange = max(High-Low, abs(High-PrevClose), abs(Low-PrevClose))
func TrueRange(current types.OHLCV, prevClose float64) float64 {
	hl := current.High - current.Low
	hc := math.Abs(current.High - prevClose)
	lc := math.Abs(current.Low - prevClose)

	return math.Max(hl, math.Max(hc, lc))
}

// GetName returns the indicator name
func (a *ATR) GetName() string {
	return "ATR"
}

// GetRequiredPeriods returns the minimum number of periods needed
func (a *ATR) GetRequiredPeriods() int {
	return a.period + 1 // Need extra period for True Range calculation
}

// GetPeriod returns the period used for ATR calculation
func (a *ATR) GetPeriod() int {
	return a.period
}
