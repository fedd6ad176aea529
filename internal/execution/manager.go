package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/audit"
	boterrors "github.com/ducminhle1904/rsi-momentum-bot/internal/errors"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/logger"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/monitoring"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/risk"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/safety"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/strategy"
	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

var (
	ErrRiskRejected     = errors.New("entry rejected by risk limits")
	ErrPositionNotFound = errors.New("no open position")
	ErrInvalidOrder     = errors.New("invalid order")
	ErrNotFilled        = errors.New("order not filled")
)

// EntryRequest asks to open a position. Price is the expected fill and is
// used to validate market orders; LimitPrice zero means market.
type EntryRequest struct {
	Symbol     string
	Side       types.Side
	Size       float64
	Price      float64
	StopPrice  float64
	LimitPrice float64
}

// Manager drives positions through NONE -> OPEN -> CLOSED.
//
// At most one entry or exit is in flight per symbol. Entries are also
// serialized across symbols so the position-count check and the add cannot
// interleave. Booking a close (history, slot release, daily P&L) happens under
// mu, so readers never observe a half-closed position.
type Manager struct {
	placer    exchange.OrderPlacer
	emergency exchange.OrderPlacer
	ungated   bool
	recorder  ErrorRecorder
	risk      risk.Manager
	validator *safety.Validator
	sink      audit.Sink
	log       *logger.Logger
	now       func() time.Time

	entryMu sync.Mutex

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	history []ClosedTrade
}

// ErrorRecorder counts failures toward the error-rate breaker.
// *safety.Coordinator implements it.
type ErrorRecorder interface {
	RecordError(ctx context.Context, source string, err error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithEmergencyPlacer routes forced exits through placer, typically the
// exchange without safety gates so liquidation works while halted.
func WithEmergencyPlacer(placer exchange.OrderPlacer) Option {
	return func(m *Manager) {
		m.emergency = placer
		m.ungated = true
	}
}

// WithErrorRecorder reports failures of the emergency placer to r. Calls
// through the gated placer are already recorded by the gate.
func WithErrorRecorder(r ErrorRecorder) Option {
	return func(m *Manager) { m.recorder = r }
}

func WithAuditSink(sink audit.Sink) Option {
	return func(m *Manager) { m.sink = sink }
}

func WithLogger(log *logger.Logger) Option {
	return func(m *Manager) { m.log = log.Component("execution") }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithValidator(v *safety.Validator) Option {
	return func(m *Manager) { m.validator = v }
}

// NewManager creates a Manager that trades through placer.
func NewManager(placer exchange.OrderPlacer, riskManager risk.Manager, opts ...Option) *Manager {
	m := &Manager{
		placer:    placer,
		risk:      riskManager,
		validator: safety.NewValidator(),
		sink:      audit.Nop{},
		log:       logger.Nop(),
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.emergency == nil {
		m.emergency = placer
	}
	return m
}

func (m *Manager) symbolLock(symbol string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[symbol] = lock
	}
	return lock
}

// Enter opens a position. The position exists only after a fill, at the fill
// price and filled size.
func (m *Manager) Enter(ctx context.Context, req EntryRequest) (risk.Position, error) {
	lock := m.symbolLock(req.Symbol)
	lock.Lock()
	defer lock.Unlock()

	m.entryMu.Lock()
	defer m.entryMu.Unlock()

	if ok, reason := m.risk.CanOpenPosition(req.Symbol); !ok {
		m.log.Warning("entry %s %s rejected: %s", req.Side, req.Symbol, reason)
		m.audit(ctx, audit.NewEvent(audit.EventRiskRejected, audit.SeverityInfo, reason).
			WithSource(req.Symbol).
			WithField("side", req.Side.String()))
		return risk.Position{}, boterrors.NewRiskRejectedError("execution", "enter", reason, ErrRiskRejected)
	}

	price := req.Price
	if req.LimitPrice > 0 {
		price = req.LimitPrice
	}
	if r := m.validator.ValidateOrder(req.Symbol, req.Side, price, req.Size); !r.Valid {
		return risk.Position{}, fmt.Errorf("%w: %v", ErrInvalidOrder, r.Err())
	}

	order := exchange.NewOrderRequest(req.Symbol, exchange.EntrySide(req.Side), req.Size, req.LimitPrice)
	fill, err := m.placer.PlaceOrder(ctx, order)
	if err != nil {
		m.log.Error("entry order %s %s failed: %v", req.Side, req.Symbol, err)
		return risk.Position{}, fmt.Errorf("enter %s: %w", req.Symbol, err)
	}
	if fill.Filled <= 0 {
		return risk.Position{}, fmt.Errorf("enter %s: %w", req.Symbol, ErrNotFilled)
	}
	if fill.Partial() {
		m.log.Warning("entry %s partially filled: %.8f of %.8f", req.Symbol, fill.Filled, req.Size)
	}

	pos := risk.Position{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Size:       fill.Filled,
		EntryPrice: fill.Price,
		StopPrice:  req.StopPrice,
		OpenedAt:   m.now(),
	}
	if err := m.risk.AddPosition(pos); err != nil {
		m.log.Error("filled entry %s is untracked: %v", req.Symbol, err)
		m.audit(ctx, audit.NewEvent(audit.EventPositionOpened, audit.SeverityCritical,
			fmt.Sprintf("filled entry could not be tracked: %v", err)).
			WithSource(req.Symbol).
			WithField("order_id", fill.OrderID))
		return risk.Position{}, fmt.Errorf("enter %s: %w", req.Symbol, err)
	}

	m.log.LogTradeExecution("OPEN", pos.Symbol, pos.Side.String(), fill.OrderID, pos.Size, pos.EntryPrice)
	m.audit(ctx, audit.NewEvent(audit.EventPositionOpened, audit.SeverityInfo,
		fmt.Sprintf("%s %s %.8f @ %.8f", pos.Side, pos.Symbol, pos.Size, pos.EntryPrice)).
		WithSource(pos.Symbol).
		WithField("order_id", fill.OrderID).
		WithField("client_order_id", fill.ClientOrderID).
		WithField("stop_price", pos.StopPrice))
	monitoring.RecordPositionOpened(pos.Symbol, pos.Side.String())
	monitoring.SetOpenPositions(len(m.risk.Positions()))
	return pos, nil
}

// Exit closes the open position on symbol at market.
func (m *Manager) Exit(ctx context.Context, symbol string, reason strategy.ExitReason) (ClosedTrade, error) {
	lock := m.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	return m.exitLocked(ctx, m.placer, symbol, reason)
}

func (m *Manager) exitLocked(ctx context.Context, placer exchange.OrderPlacer, symbol string, reason strategy.ExitReason) (ClosedTrade, error) {
	pos, ok := m.risk.Position(symbol)
	if !ok {
		return ClosedTrade{}, fmt.Errorf("%w: %s", ErrPositionNotFound, symbol)
	}

	order := exchange.NewOrderRequest(symbol, exchange.ExitSide(pos.Side), pos.Size, 0)
	order.ReduceOnly = true
	fill, err := placer.PlaceOrder(ctx, order)
	if err != nil {
		m.log.Error("exit order %s failed: %v", symbol, err)
		return ClosedTrade{}, fmt.Errorf("exit %s: %w", symbol, err)
	}
	if fill.Filled <= 0 {
		return ClosedTrade{}, fmt.Errorf("exit %s: %w", symbol, ErrNotFilled)
	}

	filled := fill.Filled
	if filled > pos.Size {
		filled = pos.Size
	}
	trade := ClosedTrade{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       pos.Side,
		Size:       filled,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  fill.Price,
		PnL:        types.RealizedPnL(pos.Side, pos.EntryPrice, fill.Price, filled),
		ExitReason: reason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   m.now(),
	}

	m.mu.Lock()
	m.history = append(m.history, trade)
	remaining, _ := m.risk.ReducePosition(symbol, filled, trade.PnL)
	m.mu.Unlock()

	if remaining.Size > 0 {
		m.log.Warning("exit %s partially filled, %.8f still open", symbol, remaining.Size)
	}
	m.log.LogPositionClosed(symbol, pos.Side.String(), string(reason), pos.EntryPrice, fill.Price, trade.PnL)
	m.audit(ctx, audit.NewEvent(audit.EventPositionClosed, audit.SeverityInfo,
		fmt.Sprintf("%s %s closed (%s) pnl %.2f", pos.Side, symbol, reason, trade.PnL)).
		WithSource(symbol).
		WithField("trade_id", trade.ID).
		WithField("order_id", fill.OrderID).
		WithField("pnl", trade.PnL).
		WithField("remaining", remaining.Size))
	monitoring.RecordTrade(symbol, pos.Side.String(), string(reason), trade.PnL)
	monitoring.SetOpenPositions(len(m.risk.Positions()))
	return trade, nil
}

// CloseAll exits every open position with reason. Each failure is collected
// and the remaining positions are still attempted. Resting orders are
// cancelled first when the exchange supports it.
func (m *Manager) CloseAll(ctx context.Context, reason strategy.ExitReason) []error {
	positions := m.risk.Positions()
	if len(positions) == 0 {
		return nil
	}

	var errs []error
	if canceller, ok := m.emergency.(exchange.OrderCanceller); ok {
		for _, pos := range positions {
			if err := canceller.CancelAllOrders(ctx, pos.Symbol); err != nil {
				m.log.Error("cancel orders %s failed: %v", pos.Symbol, err)
				m.recordEmergencyError(ctx, "emergency_cancel", err)
				errs = append(errs, fmt.Errorf("cancel %s: %w", pos.Symbol, err))
			}
		}
	}

	closed := 0
	for _, pos := range positions {
		lock := m.symbolLock(pos.Symbol)
		lock.Lock()
		_, err := m.exitLocked(ctx, m.emergency, pos.Symbol, reason)
		lock.Unlock()

		switch {
		case err == nil:
			closed++
		case errors.Is(err, ErrPositionNotFound):
		default:
			m.recordEmergencyError(ctx, "emergency_close", err)
			errs = append(errs, err)
		}
	}

	severity := audit.SeverityWarning
	if len(errs) > 0 {
		severity = audit.SeverityCritical
	}
	m.log.Warning("close all (%s): %d of %d positions closed, %d errors", reason, closed, len(positions), len(errs))
	m.audit(ctx, audit.NewEvent(audit.EventEmergencyClose, severity,
		fmt.Sprintf("closed %d of %d positions (%s)", closed, len(positions), reason)).
		WithField("errors", len(errs)))
	return errs
}

func (m *Manager) recordEmergencyError(ctx context.Context, source string, err error) {
	if m.recorder != nil && m.ungated {
		m.recorder.RecordError(ctx, source, err)
	}
}

// EmergencyCloseAll force-exits every open position regardless of signals.
func (m *Manager) EmergencyCloseAll(ctx context.Context) []error {
	return m.CloseAll(ctx, strategy.ExitReasonEmergency)
}

// OpenPositions returns the open positions sorted by symbol.
func (m *Manager) OpenPositions() []risk.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.risk.Positions()
}

// Position returns the open position on symbol.
func (m *Manager) Position(symbol string) (risk.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.risk.Position(symbol)
}

// History returns a copy of every closed trade in close order.
func (m *Manager) History() []ClosedTrade {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ClosedTrade, len(m.history))
	copy(out, m.history)
	return out
}

// Restore reloads positions and history after a restart. Positions already
// tracked by the risk manager are kept as they are.
func (m *Manager) Restore(positions []risk.Position, history []ClosedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, pos := range positions {
		if _, ok := m.risk.Position(pos.Symbol); ok {
			continue
		}
		if err := m.risk.AddPosition(pos); err != nil {
			errs = append(errs, err)
		}
	}
	m.history = append(m.history[:0:0], history...)
	monitoring.SetOpenPositions(len(m.risk.Positions()))
	return errors.Join(errs...)
}

func (m *Manager) audit(ctx context.Context, event audit.Event) {
	event.Timestamp = m.now().UTC()
	if err := m.sink.Record(ctx, event); err != nil {
		m.log.LogError("failed to write audit event", err)
	}
}
