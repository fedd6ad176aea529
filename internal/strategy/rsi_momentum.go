package strategy

import (
	"fmt"
	"math"

	boterrors "github.com/ducminhle1904/rsi-momentum-bot/internal/errors"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/indicators"
	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

// confidenceScale is the RSI distance past a threshold that maps to full confidence.
const confidenceScale = 20.0

func insufficientData(operation, format string, args ...any) error {
	err := fmt.Errorf("%w: "+format, append([]any{ErrInsufficientData}, args...)...)
	return boterrors.NewInsufficientDataError("strategy", operation, err)
}

// GenerateSignal classifies the latest bar of an ordered window.
//
// LONG when RSI is below Oversold while price holds above the trend EMA,
// SHORT on the mirrored condition, HOLD otherwise.
func GenerateSignal(bars []types.OHLCV, params Params) (SignalResult, error) {
	required := params.RequiredBars()
	if len(bars) < required {
		return SignalResult{}, insufficientData("generate_signal", "have %d bars, need %d", len(bars), required)
	}

	closes := types.Closes(bars)
	rsiSeries := indicators.NewRSI(params.RSIPeriod).Series(closes)
	trendSeries := indicators.NewEMA(params.TrendPeriod).Series(closes)

	last := len(bars) - 1
	result := SignalResult{
		Signal:         SignalHold,
		RSI:            rsiSeries[last],
		Price:          closes[last],
		TrendReference: trendSeries[last],
		Timestamp:      bars[last].Timestamp,
	}

	if math.IsNaN(result.RSI) {
		return result, insufficientData("generate_signal", "RSI undefined at latest bar")
	}

	switch {
	case result.RSI < params.Oversold && result.Price > result.TrendReference:
		result.Signal = SignalLong
		result.Confidence = math.Min(1, (params.Oversold-result.RSI)/confidenceScale)
	case result.RSI > params.Overbought && result.Price < result.TrendReference:
		result.Signal = SignalShort
		result.Confidence = math.Min(1, (result.RSI-params.Overbought)/confidenceScale)
	}

	return result, nil
}

// CheckExit decides whether an open position should be closed on the latest bar.
//
// The RSI rule fires once RSI has reverted through ExitRSI. The ATR rule fires
// when price has moved against the entry by more than ATRStopMultiplier x ATR;
// it is skipped when ATR is zero or NaN.
func CheckExit(bars []types.OHLCV, entryPrice float64, side types.Side, params Params) (ExitDecision, error) {
	minBars := params.RSIPeriod + 1
	if len(bars) < minBars {
		return ExitDecision{}, insufficientData("check_exit", "have %d bars, need %d", len(bars), minBars)
	}
	if !side.Valid() {
		return ExitDecision{}, fmt.Errorf("unknown position side %q", side)
	}

	closes := types.Closes(bars)
	last := len(bars) - 1
	rsi := indicators.NewRSI(params.RSIPeriod).Series(closes)[last]
	atr := currentATR(bars, params.ATRPeriod)

	decision := ExitDecision{RSI: rsi, ATR: atr}

	switch side {
	case types.SideLong:
		if rsi >= params.ExitRSI {
			decision.Exit, decision.Reason = true, ExitReasonRSIReversion
			return decision, nil
		}
	case types.SideShort:
		if rsi <= params.ExitRSI {
			decision.Exit, decision.Reason = true, ExitReasonRSIReversion
			return decision, nil
		}
	}

	if atrIndeterminate(atr) {
		decision.ATRIndeterminate = true
		return decision, nil
	}

	adverse := entryPrice - closes[last]
	if side == types.SideShort {
		adverse = -adverse
	}
	if adverse > params.ATRStopMultiplier*atr {
		decision.Exit, decision.Reason = true, ExitReasonATRStop
	}

	return decision, nil
}

// StopPrice returns the protective stop for an entry at the latest close.
// When ATR is indeterminate the stop sits FallbackStopPct away from price.
func StopPrice(bars []types.OHLCV, side types.Side, params Params) (float64, error) {
	latest, ok := types.Latest(bars)
	if !ok {
		return 0, insufficientData("stop_price", "no bars")
	}

	distance := params.ATRStopMultiplier * currentATR(bars, params.ATRPeriod)
	if atrIndeterminate(distance) {
		distance = latest.Close * params.FallbackStopPct
	}

	if side == types.SideShort {
		return latest.Close + distance, nil
	}
	return latest.Close - distance, nil
}

func currentATR(bars []types.OHLCV, period int) float64 {
	atr := indicators.NewATR(period)
	if len(bars) < atr.GetRequiredPeriods() {
		return math.NaN()
	}
	series := atr.Series(bars)
	return series[len(series)-1]
}

func atrIndeterminate(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0) || v <= 0
}
