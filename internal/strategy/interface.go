package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/indicators"
)

// ErrInsufficientData is returned when the bar window is shorter than the
// longest indicator warm-up.
var ErrInsufficientData = indicators.ErrInsufficientData

// ErrInvalidParams is returned by Params.Validate.
var ErrInvalidParams = errors.New("invalid strategy parameters")

// Signal is the directional call for the latest bar.
type Signal int

const (
	SignalHold Signal = iota
	SignalLong
	SignalShort
)

func (s Signal) String() string {
	switch s {
	case SignalHold:
		return "HOLD"
	case SignalLong:
		return "LONG"
	case SignalShort:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// SignalResult is recomputed from the bar window on every evaluation and never persisted.
type SignalResult struct {
	Signal         Signal
	RSI            float64
	Price          float64
	TrendReference float64
	Confidence     float64
	Timestamp      time.Time
}

// ExitReason names why a position was closed.
type ExitReason string

const (
	ExitReasonNone         ExitReason = ""
	ExitReasonRSIReversion ExitReason = "rsi_reversion"
	ExitReasonATRStop      ExitReason = "atr_stop"
	ExitReasonMaxHolding   ExitReason = "max_holding"
	ExitReasonEmergency    ExitReason = "emergency"
	ExitReasonShutdown     ExitReason = "shutdown"
)

// ExitDecision is the result of CheckExit.
// ATRIndeterminate is set when ATR was zero or NaN and the adverse-move rule was skipped.
type ExitDecision struct {
	Exit             bool
	Reason           ExitReason
	RSI              float64
	ATR              float64
	ATRIndeterminate bool
}

// Params configures the RSI momentum rules.
type Params struct {
	RSIPeriod         int     `yaml:"rsi_period" default:"14" validate:"gt=1"`
	TrendPeriod       int     `yaml:"trend_period" default:"200" validate:"gt=1"`
	Oversold          float64 `yaml:"oversold" default:"30" validate:"gt=0,lt=100"`
	Overbought        float64 `yaml:"overbought" default:"70" validate:"gt=0,lt=100"`
	ExitRSI           float64 `yaml:"exit_rsi" default:"50" validate:"gt=0,lt=100"`
	ATRPeriod         int     `yaml:"atr_period" default:"14" validate:"gt=0"`
	ATRStopMultiplier float64 `yaml:"atr_stop_multiplier" default:"3" validate:"gt=0"`
	// Stop distance as a fraction of price when ATR is indeterminate.
	FallbackStopPct float64 `yaml:"fallback_stop_pct" default:"0.02" validate:"gt=0,lt=1"`
}

// DefaultParams returns the standard 14/200 RSI momentum configuration.
func DefaultParams() Params {
	return Params{
		RSIPeriod:         14,
		TrendPeriod:       200,
		Oversold:          30,
		Overbought:        70,
		ExitRSI:           50,
		ATRPeriod:         14,
		ATRStopMultiplier: 3,
		FallbackStopPct:   0.02,
	}
}

// Validate checks the thresholds are ordered and periods usable.
func (p Params) Validate() error {
	switch {
	case p.RSIPeriod < 2 || p.TrendPeriod < 2 || p.ATRPeriod < 1:
		return fmt.Errorf("%w: periods must be positive (rsi=%d trend=%d atr=%d)",
			ErrInvalidParams, p.RSIPeriod, p.TrendPeriod, p.ATRPeriod)
	case !(0 < p.Oversold && p.Oversold < p.ExitRSI && p.ExitRSI < p.Overbought && p.Overbought < 100):
		return fmt.Errorf("%w: need 0 < oversold(%.1f) < exit(%.1f) < overbought(%.1f) < 100",
			ErrInvalidParams, p.Oversold, p.ExitRSI, p.Overbought)
	case p.ATRStopMultiplier <= 0:
		return fmt.Errorf("%w: atr stop multiplier must be positive", ErrInvalidParams)
	case p.FallbackStopPct <= 0 || p.FallbackStopPct >= 1:
		return fmt.Errorf("%w: fallback stop pct must be in (0,1)", ErrInvalidParams)
	}
	return nil
}

// RequiredBars is the minimum window GenerateSignal accepts.
func (p Params) RequiredBars() int {
	if p.RSIPeriod > p.TrendPeriod {
		return p.RSIPeriod + 1
	}
	return p.TrendPeriod + 1
}
