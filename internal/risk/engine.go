package risk

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	boterrors "github.com/ducminhle1904/rsi-momentum-bot/internal/errors"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/logger"
)

const day = 24 * time.Hour

var _ Manager = (*Engine)(nil)

// Engine sizes trades and enforces portfolio limits.
// All state lives behind one mutex; callers only see copies.
type Engine struct {
	limits Limits
	log    *logger.Logger
	now    func() time.Time

	mu             sync.Mutex
	positions      map[string]Position
	dailyPnL       float64
	breached       bool
	dayStart       time.Time
	dayStartEquity float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger attaches a logger.
func WithLogger(log *logger.Logger) Option {
	return func(e *Engine) { e.log = log.Component("risk") }
}

// NewEngine validates limits and returns an engine starting a fresh trading day.
func NewEngine(limits Limits, opts ...Option) (*Engine, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		limits:    limits,
		log:       logger.Nop(),
		now:       time.Now,
		positions: make(map[string]Position),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dayStart = e.now().UTC().Truncate(day)
	return e, nil
}

// Limits returns the configured limits.
func (e *Engine) Limits() Limits {
	return e.limits
}

// PositionSize returns the base-asset quantity for a trade.
//
// size = balance * maxRiskPerTrade * confidence / |entry - stop|,
// capped so that size * entry <= balance * maxLeverage.
func (e *Engine) PositionSize(balance, entryPrice, stopPrice, confidence float64) (float64, error) {
	size, err := e.positionSize(balance, entryPrice, stopPrice, confidence)
	if err != nil {
		return 0, boterrors.NewInvalidRiskError("risk", "position_size", err)
	}
	return size, nil
}

func (e *Engine) positionSize(balance, entryPrice, stopPrice, confidence float64) (float64, error) {
	switch {
	case !finitePositive(balance):
		return 0, fmt.Errorf("%w: balance must be positive, got %f", ErrInvalidRisk, balance)
	case !finitePositive(entryPrice):
		return 0, fmt.Errorf("%w: entry price must be positive, got %f", ErrInvalidRisk, entryPrice)
	case math.IsNaN(confidence) || confidence < 0 || confidence > 1:
		return 0, fmt.Errorf("%w: confidence %f outside [0,1]", ErrInvalidRisk, confidence)
	case math.IsNaN(stopPrice) || math.IsInf(stopPrice, 0):
		return 0, fmt.Errorf("%w: stop price %f", ErrInvalidRisk, stopPrice)
	}

	stopDistance := math.Abs(entryPrice - stopPrice)
	if stopDistance == 0 {
		return 0, fmt.Errorf("%w: zero stop distance at %f", ErrInvalidRisk, entryPrice)
	}

	riskAmount := balance * e.limits.MaxRiskPerTrade * confidence
	size := riskAmount / stopDistance

	maxSize := balance * e.limits.MaxLeverage / entryPrice
	if size > maxSize {
		e.log.Debug("size %.8f capped by leverage to %.8f", size, maxSize)
		size = maxSize
	}
	return size, nil
}

// CanOpenPosition checks the daily-loss breaker, the position cap and the
// one-position-per-symbol rule, in that order.
func (e *Engine) CanOpenPosition(symbol string) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.breached {
		return false, fmt.Sprintf("daily loss limit breached (daily pnl %.2f)", e.dailyPnL)
	}
	if len(e.positions) >= e.limits.MaxPositions {
		return false, fmt.Sprintf("max positions reached (%d/%d)", len(e.positions), e.limits.MaxPositions)
	}
	if _, ok := e.positions[symbol]; ok {
		return false, fmt.Sprintf("position already open for %s", symbol)
	}
	return true, ""
}

// AddPosition tracks a new open position.
func (e *Engine) AddPosition(pos Position) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.positions[pos.Symbol]; ok {
		return fmt.Errorf("%w: %s", ErrPositionExists, pos.Symbol)
	}
	e.positions[pos.Symbol] = pos
	e.log.Info("tracking %s %s size=%.8f entry=%.4f stop=%.4f", pos.Side, pos.Symbol, pos.Size, pos.EntryPrice, pos.StopPrice)
	return nil
}

// RemovePosition stops tracking symbol without booking P&L.
func (e *Engine) RemovePosition(symbol string) (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[symbol]
	if ok {
		delete(e.positions, symbol)
	}
	return pos, ok
}

// Position returns the open position for symbol.
func (e *Engine) Position(symbol string) (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[symbol]
	return pos, ok
}

// Positions returns the open positions sorted by symbol.
func (e *Engine) Positions() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ApplyClose frees the slot for symbol and books pnl under a single lock.
// Returns false and changes nothing when no position is tracked.
func (e *Engine) ApplyClose(symbol string, pnl float64) (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[symbol]
	if !ok {
		return Position{}, false
	}
	delete(e.positions, symbol)
	e.addDailyPnLLocked(pnl)
	return pos, true
}

// ReducePosition books pnl for a partial close of size units in the same
// critical section that shrinks the position. Closing the full size removes it.
func (e *Engine) ReducePosition(symbol string, size, pnl float64) (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[symbol]
	if !ok {
		return Position{}, false
	}
	e.addDailyPnLLocked(pnl)
	if size >= pos.Size*(1-1e-9) {
		delete(e.positions, symbol)
		pos.Size = 0
		return pos, true
	}
	pos.Size -= size
	e.positions[symbol] = pos
	return pos, true
}

// UpdateDailyPnL accumulates realized P&L and latches the breaker on breach.
func (e *Engine) UpdateDailyPnL(delta float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.addDailyPnLLocked(delta)
}

func (e *Engine) addDailyPnLLocked(delta float64) {
	e.dailyPnL += delta

	if e.breached {
		return
	}
	if limit := e.dailyLossLimitLocked(); e.dailyPnL < -limit {
		e.breached = true
		e.log.Warning("daily loss breaker latched: pnl %.2f below -%.2f", e.dailyPnL, limit)
	}
}

// DailyLossLimit is the loss amount, in quote currency, that latches the breaker.
func (e *Engine) DailyLossLimit() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.dailyLossLimitLocked()
}

func (e *Engine) dailyLossLimitLocked() float64 {
	if e.dayStartEquity > 0 {
		return e.limits.MaxDailyLoss * e.dayStartEquity
	}
	return e.limits.MaxDailyLoss
}

// SetDayStartEquity sets the equity the daily-loss fraction applies to.
func (e *Engine) SetDayStartEquity(equity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.dayStartEquity = equity
}

// ResetDaily clears daily P&L and the breaker latch. This is the only way the latch clears.
func (e *Engine) ResetDaily(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.resetDailyLocked(now)
}

func (e *Engine) resetDailyLocked(now time.Time) {
	if e.breached {
		e.log.Info("daily reset clears breaker (previous pnl %.2f)", e.dailyPnL)
	}
	e.dailyPnL = 0
	e.breached = false
	e.dayStart = now.UTC().Truncate(day)
}

// RollDay resets daily state when now falls on a later UTC day than the current one.
func (e *Engine) RollDay(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !now.UTC().Truncate(day).After(e.dayStart) {
		return false
	}
	e.resetDailyLocked(now)
	return true
}

// State returns a copy of the engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	positions := make(map[string]Position, len(e.positions))
	for k, v := range e.positions {
		positions[k] = v
	}
	return State{
		DailyPnL:          e.dailyPnL,
		DailyLossBreached: e.breached,
		OpenPositions:     positions,
		DayStart:          e.dayStart,
		DayStartEquity:    e.dayStartEquity,
	}
}

// Restore replaces the engine state with a snapshot taken by State.
func (e *Engine) Restore(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.positions = make(map[string]Position, len(s.OpenPositions))
	for k, v := range s.OpenPositions {
		e.positions[k] = v
	}
	e.dailyPnL = s.DailyPnL
	e.breached = s.DailyLossBreached
	e.dayStartEquity = s.DayStartEquity
	if !s.DayStart.IsZero() {
		e.dayStart = s.DayStart
	}
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
