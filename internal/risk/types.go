package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

var (
	// ErrInvalidRisk is returned when a trade has no measurable risk (zero stop distance) or bad inputs.
	ErrInvalidRisk = errors.New("invalid risk")
	// ErrPositionExists is returned when adding a second position for a symbol.
	ErrPositionExists = errors.New("position already open for symbol")
	// ErrInvalidLimits is returned by Limits.Validate.
	ErrInvalidLimits = errors.New("invalid risk limits")
)

// Limits are the portfolio-level risk settings.
//
// MaxDailyLoss is a fraction of day-start equity when the engine knows it,
// otherwise an absolute quote-currency amount.
type Limits struct {
	MaxRiskPerTrade float64 `yaml:"max_risk_per_trade" default:"0.01" validate:"gt=0,lte=1"`
	MaxDailyLoss    float64 `yaml:"max_daily_loss" default:"0.05" validate:"gt=0"`
	MaxPositions    int     `yaml:"max_positions" default:"3" validate:"gt=0"`
	MaxLeverage     float64 `yaml:"max_leverage" default:"2" validate:"gt=0"`
}

// DefaultLimits returns 1% risk per trade, 5% daily loss, 3 positions, 2x leverage.
func DefaultLimits() Limits {
	return Limits{
		MaxRiskPerTrade: 0.01,
		MaxDailyLoss:    0.05,
		MaxPositions:    3,
		MaxLeverage:     2.0,
	}
}

// Validate enforces 0 < MaxRiskPerTrade <= MaxLeverage and positive limits.
func (l Limits) Validate() error {
	switch {
	case l.MaxRiskPerTrade <= 0:
		return fmt.Errorf("%w: max risk per trade must be positive, got %.4f", ErrInvalidLimits, l.MaxRiskPerTrade)
	case l.MaxLeverage <= 0:
		return fmt.Errorf("%w: max leverage must be positive, got %.2f", ErrInvalidLimits, l.MaxLeverage)
	case l.MaxRiskPerTrade > l.MaxLeverage:
		return fmt.Errorf("%w: risk per trade %.4f exceeds leverage exposure %.2f", ErrInvalidLimits, l.MaxRiskPerTrade, l.MaxLeverage)
	case l.MaxDailyLoss <= 0:
		return fmt.Errorf("%w: max daily loss must be positive, got %.4f", ErrInvalidLimits, l.MaxDailyLoss)
	case l.MaxPositions <= 0:
		return fmt.Errorf("%w: max positions must be positive, got %d", ErrInvalidLimits, l.MaxPositions)
	}
	return nil
}

// Position is an open exposure on one symbol.
type Position struct {
	Symbol     string     `json:"symbol"`
	Side       types.Side `json:"side"`
	Size       float64    `json:"size"`
	EntryPrice float64    `json:"entry_price"`
	StopPrice  float64    `json:"stop_price"`
	OpenedAt   time.Time  `json:"opened_at"`
}

// Notional is the position value at its entry price.
func (p Position) Notional() float64 {
	return p.Size * p.EntryPrice
}

// UnrealizedPnL marks the position at price.
func (p Position) UnrealizedPnL(price float64) float64 {
	return types.RealizedPnL(p.Side, p.EntryPrice, price, p.Size)
}

// State is a point-in-time copy of the engine's mutable state.
type State struct {
	DailyPnL          float64             `json:"daily_pnl"`
	DailyLossBreached bool                `json:"daily_loss_breached"`
	OpenPositions     map[string]Position `json:"open_positions"`
	DayStart          time.Time           `json:"day_start"`
	DayStartEquity    float64             `json:"day_start_equity"`
}
