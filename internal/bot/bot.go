package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/audit"
	boterrors "github.com/ducminhle1904/rsi-momentum-bot/internal/errors"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/execution"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/logger"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/monitoring"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/portfolio"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/risk"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/safety"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/state"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/strategy"
	"github.com/ducminhle1904/rsi-momentum-bot/pkg/reporting"
	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

// Config drives the polling loop.
type Config struct {
	// Symbols in priority order; the portfolio selector keeps this order.
	Symbols  []string `yaml:"symbols" validate:"required,min=1,dive,required"`
	Interval string   `yaml:"interval" default:"1h" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
	// CycleInterval is the time between two evaluation cycles.
	CycleInterval time.Duration `yaml:"cycle_interval" default:"5m"`
	CycleTimeout  time.Duration `yaml:"cycle_timeout" default:"2m"`
	// BarLimit is how many bars are fetched per evaluation.
	BarLimit int `yaml:"bar_limit" default:"250" validate:"gte=0,lte=1000"`
	// AllowShort enables SHORT entries; spot accounts leave it off.
	AllowShort bool `yaml:"allow_short"`
	// DryRun evaluates signals and sizes trades without placing entries.
	DryRun bool `yaml:"dry_run"`
	// MaxHoldingDuration forces an exit after this long; zero disables it.
	MaxHoldingDuration time.Duration `yaml:"max_holding_duration"`
	// Concurrency is how many symbols are evaluated in parallel.
	Concurrency     int           `yaml:"concurrency" default:"1" validate:"gte=1"`
	CloseOnShutdown bool          `yaml:"close_on_shutdown" default:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"30s"`
	// LiquidateOnHalt force-closes every position the first time a halt is seen.
	LiquidateOnHalt bool `yaml:"liquidate_on_halt"`
}

// Deps are the collaborators the bot drives. Market and Balances are
// expected to be gated by the same coordinator as Safety.
type Deps struct {
	Market    exchange.MarketData
	Balances  exchange.BalanceProvider
	Safety    *safety.Coordinator
	Risk      *risk.Engine
	Execution *execution.Manager
}

// Snapshotter persists bot state after each cycle.
type Snapshotter interface {
	Save(snap state.Snapshot) error
}

// Option configures a Bot.
type Option func(*Bot)

// WithPortfolio restricts entries to a weakly correlated subset of symbols
// and caps each entry at the symbol's capital weight.
func WithPortfolio(sel *portfolio.Selector) Option {
	return func(b *Bot) { b.selector = sel }
}

func WithStore(store Snapshotter) Option {
	return func(b *Bot) { b.store = store }
}

func WithHealth(h *monitoring.HealthChecker) Option {
	return func(b *Bot) { b.health = h }
}

func WithAuditSink(sink audit.Sink) Option {
	return func(b *Bot) { b.sink = sink }
}

func WithLogger(log *logger.Logger) Option {
	return func(b *Bot) { b.log = log.Component("bot") }
}

func WithClock(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

// WithStatusWriter renders a status table after every cycle.
func WithStatusWriter(w io.Writer, mode, exchangeName string) Option {
	return func(b *Bot) {
		b.status = w
		b.mode = mode
		b.exchangeName = exchangeName
	}
}

// Bot polls every symbol on a fixed interval and turns signals into trades.
type Bot struct {
	cfg    Config
	params strategy.Params

	market   exchange.MarketData
	balances exchange.BalanceProvider
	safety   *safety.Coordinator
	risk     *risk.Engine
	exec     *execution.Manager

	selector     *portfolio.Selector
	store        Snapshotter
	health       *monitoring.HealthChecker
	sink         audit.Sink
	log          *logger.Logger
	now          func() time.Time
	status       io.Writer
	mode         string
	exchangeName string

	mu         sync.Mutex
	active     map[string]bool
	selected   bool
	halted     bool
	haltReason string
	prices     map[string]float64
	lastBal    *types.AccountBalance
}

// New validates the configuration and wires the collaborators.
func New(cfg Config, params strategy.Params, deps Deps, opts ...Option) (*Bot, error) {
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("at least one symbol is required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if deps.Market == nil || deps.Balances == nil || deps.Safety == nil || deps.Risk == nil || deps.Execution == nil {
		return nil, errors.New("bot dependencies are incomplete")
	}
	if _, err := exchange.IntervalDuration(cfg.Interval); err != nil {
		return nil, err
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 5 * time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	b := &Bot{
		cfg:      cfg,
		params:   params,
		market:   deps.Market,
		balances: deps.Balances,
		safety:   deps.Safety,
		risk:     deps.Risk,
		exec:     deps.Execution,
		sink:     audit.Nop{},
		log:      logger.Nop(),
		now:      time.Now,
		prices:   make(map[string]float64),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// barLimit covers the indicator warm-up.
func (b *Bot) barLimit() int {
	limit := b.cfg.BarLimit
	if min := b.params.RequiredBars() + 1; limit < min {
		limit = min
	}
	return limit
}

// Run evaluates immediately, then on every CycleInterval until ctx is done.
// On exit it liquidates open positions when CloseOnShutdown is set.
func (b *Bot) Run(ctx context.Context) error {
	b.log.SessionStart(b.cfg.Symbols, b.cfg.Interval)
	b.log.Info("evaluating every %s (dry run: %v, shorts: %v)", b.cfg.CycleInterval, b.cfg.DryRun, b.cfg.AllowShort)

	b.runOnce(ctx)

	ticker := time.NewTicker(b.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("stop signal received, ending trading loop")
			return b.Shutdown()
		case <-ticker.C:
			b.runOnce(ctx)
		}
	}
}

// runOnce runs one cycle and reports how its failures were handled.
func (b *Bot) runOnce(ctx context.Context) (action boterrors.RecoveryAction) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic in trading cycle: %v", r)
			action = boterrors.RecoveryActionSkip
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, b.cfg.CycleTimeout)
	defer cancel()

	err := b.RunCycle(cctx)
	action = boterrors.RecoveryFor(err)
	switch action {
	case boterrors.RecoveryActionNone:
	case boterrors.RecoveryActionStop:
		b.log.Warning("trading halted: %v", err)
	case boterrors.RecoveryActionWait:
		b.log.Info("rate limited, deferring to next cycle: %v", err)
	default:
		b.log.Warning("cycle finished with errors: %v", err)
	}
	return action
}

// Shutdown closes every open position when configured to, with a fresh
// context so an already cancelled run context does not abort the exits.
func (b *Bot) Shutdown() error {
	defer b.saveSnapshot()

	positions := b.exec.OpenPositions()
	if !b.cfg.CloseOnShutdown || len(positions) == 0 {
		if len(positions) > 0 {
			b.log.Warning("leaving %d positions open on shutdown", len(positions))
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ShutdownTimeout)
	defer cancel()

	b.log.Info("closing %d open positions before shutdown", len(positions))
	errs := b.exec.CloseAll(ctx, strategy.ExitReasonShutdown)
	for _, err := range errs {
		b.log.LogError("shutdown close", err)
	}
	return errors.Join(errs...)
}

// RunCycle performs one evaluation: kill switch check, daily rollover,
// balance snapshot, then per symbol the safety gate, bar fetch and either
// the exit check for an open position or signal evaluation and entry.
func (b *Bot) RunCycle(ctx context.Context) error {
	now := b.now()

	if killed, reason := b.safety.KillSwitch().Check(ctx); killed {
		b.enterHalt(ctx, reason)
		b.finishCycle(now, nil)
		return b.haltError(reason)
	}
	b.clearHalt()

	rolled := b.risk.RollDay(now)

	bal, err := b.balances.GetBalance(ctx)
	if err != nil {
		b.log.Warning("balance unavailable, entries skipped this cycle: %v", err)
		bal = nil
	} else {
		b.mu.Lock()
		b.lastBal = bal
		b.mu.Unlock()
	}

	if bal != nil && (rolled || b.risk.State().DayStartEquity <= 0) {
		b.risk.SetDayStartEquity(bal.TotalValue)
	}
	if rolled {
		b.log.Info("new trading day, daily loss limit %.2f", b.risk.DailyLossLimit())
		b.audit(ctx, audit.NewEvent(audit.EventDailyReset, audit.SeverityInfo, "daily risk state reset").
			WithSource("bot").
			WithField("day_start_equity", b.risk.State().DayStartEquity))
	}

	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("balance: %w", err))
	}

	if b.selector != nil && (rolled || !b.hasSelection()) {
		b.refreshSelection(ctx)
	}
	allocations := b.allocations(bal)

	errs = append(errs, b.evaluateSymbols(ctx, bal, allocations)...)

	b.finishCycle(now, errs)
	return errors.Join(errs...)
}

func (b *Bot) evaluateSymbols(ctx context.Context, bal *types.AccountBalance, allocations map[string]float64) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
		sem  = make(chan struct{}, b.cfg.Concurrency)
	)

	for _, symbol := range b.cfg.Symbols {
		if b.isHalted() || ctx.Err() != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := b.processSymbol(ctx, symbol, bal, allocations[symbol]); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
				mu.Unlock()
			}
		}(symbol)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (b *Bot) processSymbol(ctx context.Context, symbol string, bal *types.AccountBalance, allocation float64) error {
	ticker, err := b.market.GetTicker(ctx, symbol)
	if err != nil {
		return b.checkHalt(ctx, fmt.Errorf("ticker: %w", err))
	}
	b.setPrice(symbol, ticker.Price)
	monitoring.UpdatePrice(symbol, ticker.Price)

	ts := ticker.Timestamp
	if d := b.safety.CheckAll(ctx, symbol, &ts); d.Stop && !d.Recoverable {
		if d.Halted {
			b.enterHalt(ctx, d.Reason)
		} else {
			b.log.Warning("%s skipped: %s", symbol, d.Reason)
		}
		return d.Err()
	}

	bars, err := b.market.GetKlines(ctx, symbol, b.cfg.Interval, b.barLimit())
	if err != nil {
		return b.checkHalt(ctx, fmt.Errorf("klines: %w", err))
	}

	if pos, ok := b.exec.Position(symbol); ok {
		return b.manageOpenPosition(ctx, pos, bars)
	}

	if b.selector != nil && !b.isActive(symbol) {
		return nil
	}
	if bal == nil {
		return nil
	}
	return b.evaluateEntry(ctx, symbol, bars, bal, allocation)
}

func (b *Bot) manageOpenPosition(ctx context.Context, pos risk.Position, bars []types.OHLCV) error {
	reason := strategy.ExitReasonNone

	if b.cfg.MaxHoldingDuration > 0 && b.now().Sub(pos.OpenedAt) >= b.cfg.MaxHoldingDuration {
		reason = strategy.ExitReasonMaxHolding
	} else {
		decision, err := strategy.CheckExit(bars, pos.EntryPrice, pos.Side, b.params)
		if err != nil {
			b.log.Warning("exit check for %s skipped: %v", pos.Symbol, err)
			return nil
		}
		if decision.ATRIndeterminate {
			b.log.Debug("%s ATR indeterminate, only the RSI exit applies", pos.Symbol)
		}
		if decision.Exit {
			reason = decision.Reason
		}
	}

	if reason == strategy.ExitReasonNone {
		return nil
	}

	b.log.Info("exit signal for %s: %s", pos.Symbol, reason)
	if _, err := b.exec.Exit(ctx, pos.Symbol, reason); err != nil {
		return b.checkHalt(ctx, fmt.Errorf("exit: %w", err))
	}
	return nil
}

func (b *Bot) evaluateEntry(ctx context.Context, symbol string, bars []types.OHLCV, bal *types.AccountBalance, allocation float64) error {
	sig, err := strategy.GenerateSignal(bars, b.params)
	if err != nil {
		if errors.Is(err, strategy.ErrInsufficientData) {
			b.log.Warning("insufficient data for %s: %v", symbol, err)
			return nil
		}
		return err
	}
	monitoring.RecordSignal(symbol, sig.Signal.String(), sig.RSI)

	var side types.Side
	switch sig.Signal {
	case strategy.SignalLong:
		side = types.SideLong
	case strategy.SignalShort:
		if !b.cfg.AllowShort {
			b.log.Info("SHORT signal on %s ignored (RSI %.1f), shorts disabled", symbol, sig.RSI)
			return nil
		}
		side = types.SideShort
	default:
		return nil
	}

	stop, err := strategy.StopPrice(bars, side, b.params)
	if err != nil {
		b.log.Warning("no stop for %s: %v", symbol, err)
		return nil
	}

	size, err := b.risk.PositionSize(bal.TotalValue, sig.Price, stop, sig.Confidence)
	if err != nil {
		if errors.Is(err, risk.ErrInvalidRisk) {
			b.log.Warning("trade on %s skipped: %v", symbol, err)
			return nil
		}
		return err
	}
	size = b.capSize(size, sig.Price, side, bal, allocation)
	if size <= 0 {
		b.log.Info("%s signal on %s has no affordable size", sig.Signal, symbol)
		return nil
	}

	b.log.Info("%s signal: %s (RSI %.1f, confidence %.2f) size %.6f @ %.4f stop %.4f",
		sig.Signal, symbol, sig.RSI, sig.Confidence, size, sig.Price, stop)
	if b.cfg.DryRun {
		b.log.Info("dry run, %s entry not placed", symbol)
		return nil
	}

	_, err = b.exec.Enter(ctx, execution.EntryRequest{
		Symbol:    symbol,
		Side:      side,
		Size:      size,
		Price:     sig.Price,
		StopPrice: stop,
	})
	if errors.Is(err, execution.ErrRiskRejected) {
		return nil
	}
	if err != nil {
		return b.checkHalt(ctx, fmt.Errorf("entry: %w", err))
	}
	return nil
}

// capSize limits a long to spendable cash and any entry to its portfolio allocation.
func (b *Bot) capSize(size, price float64, side types.Side, bal *types.AccountBalance, allocation float64) float64 {
	if price <= 0 {
		return 0
	}
	if allocation > 0 && size*price > allocation {
		size = allocation / price
	}
	if side == types.SideLong && size*price > bal.FreeCash {
		size = bal.FreeCash / price
	}
	return size
}

func (b *Bot) refreshSelection(ctx context.Context) {
	limit := b.selector.Lookback() + 1
	for _, symbol := range b.cfg.Symbols {
		bars, err := b.market.GetKlines(ctx, symbol, b.cfg.Interval, limit)
		if err != nil {
			b.log.Warning("no correlation data for %s: %v", symbol, err)
			continue
		}
		b.selector.AddPriceData(symbol, types.Closes(bars))
	}

	selected := b.selector.Select(b.cfg.Symbols)
	active := make(map[string]bool, len(selected))
	for _, s := range selected {
		active[s] = true
	}

	b.mu.Lock()
	b.active = active
	b.selected = true
	b.mu.Unlock()

	b.log.Info("trading universe: %v", selected)
}

func (b *Bot) allocations(bal *types.AccountBalance) map[string]float64 {
	if b.selector == nil || bal == nil {
		return nil
	}
	b.mu.Lock()
	symbols := make([]string, 0, len(b.active))
	for _, s := range b.cfg.Symbols {
		if b.active[s] {
			symbols = append(symbols, s)
		}
	}
	b.mu.Unlock()
	return b.selector.Weights(symbols, bal.TotalValue)
}

func (b *Bot) hasSelection() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selected
}

func (b *Bot) isActive(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active[symbol]
}

// ActiveSymbols returns the symbols currently allowed to open positions.
func (b *Bot) ActiveSymbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.cfg.Symbols))
	for _, s := range b.cfg.Symbols {
		if b.selector == nil || b.active[s] {
			out = append(out, s)
		}
	}
	return out
}

// checkHalt notices a halt reported by a gated call.
func (b *Bot) checkHalt(ctx context.Context, err error) error {
	if errors.Is(err, safety.ErrHalted) {
		if killed, reason := b.safety.KillSwitch().Check(ctx); killed {
			b.enterHalt(ctx, reason)
		}
	}
	return err
}

func (b *Bot) enterHalt(ctx context.Context, reason string) {
	b.mu.Lock()
	first := !b.halted
	b.halted = true
	b.haltReason = reason
	b.mu.Unlock()

	monitoring.SetKillSwitchActive(true)
	if b.health != nil {
		b.health.SetHalted(true, reason)
	}
	if !first {
		return
	}

	b.log.Error("trading halted: %s", reason)
	if b.cfg.LiquidateOnHalt && len(b.exec.OpenPositions()) > 0 {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.ShutdownTimeout)
		defer cancel()
		for _, err := range b.exec.EmergencyCloseAll(lctx) {
			b.log.LogError("emergency close", err)
		}
	}
}

func (b *Bot) clearHalt() {
	b.mu.Lock()
	was := b.halted
	b.halted = false
	b.haltReason = ""
	b.mu.Unlock()

	if was {
		b.log.Info("kill switch cleared, trading resumes")
		monitoring.SetKillSwitchActive(false)
		if b.health != nil {
			b.health.SetHalted(false, "")
		}
	}
}

func (b *Bot) isHalted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halted
}

// Halted reports whether the last cycle observed an active kill switch.
func (b *Bot) Halted() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halted, b.haltReason
}

func (b *Bot) haltError(reason string) error {
	return safety.Decision{Stop: true, Gate: safety.GateKillSwitch, Reason: reason, Halted: true}.Err()
}

func (b *Bot) setPrice(symbol string, price float64) {
	b.mu.Lock()
	b.prices[symbol] = price
	b.mu.Unlock()
}

func (b *Bot) finishCycle(now time.Time, errs []error) {
	rs := b.risk.State()
	monitoring.SetDailyPnL(rs.DailyPnL)
	monitoring.SetOpenPositions(len(rs.OpenPositions))
	if b.health != nil {
		b.health.CycleCompleted(now, errs)
	}
	b.saveSnapshot()
	if b.status != nil {
		reporting.RenderStatus(b.status, b.Status(context.Background()))
	}
}

func (b *Bot) saveSnapshot() {
	if b.store == nil {
		return
	}
	snap := state.Snapshot{Risk: b.risk.State(), History: b.exec.History()}
	if err := b.store.Save(snap); err != nil {
		b.log.LogError("failed to save state", err)
	}
}

// Status builds a read-only report of the account, risk and safety state.
func (b *Bot) Status(ctx context.Context) reporting.StatusReport {
	rs := b.risk.State()
	ss := b.safety.State(ctx)

	b.mu.Lock()
	prices := make(map[string]float64, len(b.prices))
	for k, v := range b.prices {
		prices[k] = v
	}
	bal := b.lastBal
	b.mu.Unlock()

	report := reporting.StatusReport{
		Time:              b.now(),
		Mode:              b.mode,
		Exchange:          b.exchangeName,
		DailyPnL:          rs.DailyPnL,
		DailyLossLimit:    b.risk.DailyLossLimit(),
		DailyLossBreached: rs.DailyLossBreached,
		Killed:            ss.Killed,
		KillReason:        ss.KillReason,
		Positions:         b.exec.OpenPositions(),
		Prices:            prices,
		Summary:           execution.Summarize(b.exec.History()),
	}
	if bal != nil {
		report.Equity = bal.TotalValue
		report.FreeCash = bal.FreeCash
	}
	return report
}

func (b *Bot) audit(ctx context.Context, event audit.Event) {
	event.Timestamp = b.now().UTC()
	if err := b.sink.Record(ctx, event); err != nil {
		b.log.LogError("failed to write audit event", err)
	}
}
