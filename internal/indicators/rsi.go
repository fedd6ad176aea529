package indicators

import (
	"errors"
	"fmt"
	"math"

	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

// ErrInsufficientData is returned when a series is shorter than an indicator's warm-up.
var ErrInsufficientData = errors.New("insufficient data")

// RSI calculates the Relative Strength Index with Wilder smoothing.
type RSI struct {
	period int
}

// NewRSI creates a new RSI instance with the given period
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

// Calculate returns the RSI of the latest bar.
func (r *RSI) Calculate(data []types.OHLCV) (float64, error) {
	if len(data) < r.GetRequiredPeriods() {
		return 0, fmt.Errorf("%w for RSI(%d): have %d bars, need %d",
			ErrInsufficientData, r.period, len(data), r.GetRequiredPeriods())
	}

	series := r.Series(types.Closes(data))
	return series[len(series)-1], nil
}

// Series computes RSI for every index of closes. Indices before period are NaN.
//
// Average gain/loss are seeded with the simple mean of the first period
// changes and then smoothed with alpha = 1/period.
func (r *RSI) Series(closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if r.period <= 0 || len(closes) <= r.period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= r.period; i++ {
		gain, loss := splitChange(closes[i] - closes[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(r.period)
	avgLoss /= float64(r.period)
	out[r.period] = rsiFromAverages(avgGain, avgLoss)

	p := float64(r.period)
	for i := r.period + 1; i < len(closes); i++ {
		gain, loss := splitChange(closes[i] - closes[i-1])
		avgGain += (gain - avgGain) / p
		avgLoss += (loss - avgLoss) / p
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}

	return out
}

// GetName returns the indicator name
func (r *RSI) GetName() string {
	return "RSI"
}

// GetRequiredPeriods returns the minimum number of bars needed
func (r *RSI) GetRequiredPeriods() int {
	return r.period + 1
}

func splitChange(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			// flat window, no momentum either way
			return 50
		}
		return 100
	}

	rs := avgGain / avgLoss
	rsi := 100 - (100 / (1 + rs))
	return math.Max(0, math.Min(100, rsi))
}
