package indicators

import (
	"fmt"

	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

// EMA represents the Exponential Moving Average technical indicator
type EMA struct {
	period int
	alpha  float64
}

// NewEMA creates a new EMA indicator
func NewEMA(period int) *EMA {
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1), // Standard EMA alpha calculation
	}
}

// Calculate returns the EMA of closes at the latest bar.
func (e *EMA) Calculate(data []types.OHLCV) (float64, error) {
	if len(data) < e.period || len(data) == 0 {
		return 0, fmt.Errorf("%w for EMA(%d): have %d bars", ErrInsufficientData, e.period, len(data))
	}

	series := e.Series(types.Closes(data))
	return series[len(series)-1], nil
}

// Series computes the EMA for every index, seeded with the first value.
func (e *EMA) Series(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		// EMA = (Value * Alpha) + (Previous EMA * (1 - Alpha))
		out[i] = values[i]*e.alpha + out[i-1]*(1-e.alpha)
	}
	return out
}

// GetName returns the indicator name
func (e *EMA) GetName() string {
	return "EMA"
}

// GetRequiredPeriods returns the minimum number of periods needed
func (e *EMA) GetRequiredPeriods() int {
	return e.period
}
