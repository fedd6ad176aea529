package execution

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/audit"
	boterrors "github.com/ducminhle1904/rsi-momentum-bot/internal/errors"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/risk"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/safety"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/strategy"
	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

var testNow = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

type fixture struct {
	paper   *exchange.PaperExchange
	engine  *risk.Engine
	sink    *audit.Memory
	manager *Manager
}

func newFixture(t *testing.T, cfg exchange.PaperConfig, limits risk.Limits, opts ...Option) *fixture {
	t.Helper()
	paper := exchange.NewPaperExchange(cfg, nil)
	paper.SetClock(func() time.Time { return testNow })
	engine, err := risk.NewEngine(limits, risk.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	sink := audit.NewMemory()

	opts = append([]Option{WithAuditSink(sink), WithClock(func() time.Time { return testNow })}, opts...)
	return &fixture{
		paper:   paper,
		engine:  engine,
		sink:    sink,
		manager: NewManager(paper, engine, opts...),
	}
}

func frictionless() exchange.PaperConfig {
	cfg := exchange.DefaultPaperConfig()
	cfg.Slippage = 0
	cfg.Commission = 0
	return cfg
}

func longEntry(symbol string, size, price float64) EntryRequest {
	return EntryRequest{Symbol: symbol, Side: types.SideLong, Size: size, Price: price, StopPrice: price * 0.97}
}

// TestEnter_OpensAtFillPrice uses the fill price, not the requested one
func TestEnter_OpensAtFillPrice(t *testing.T) {
	cfg := frictionless()
	cfg.Slippage = 0.01
	f := newFixture(t, cfg, risk.DefaultLimits())
	f.paper.SetPrice("BTCUSDT", 100)

	pos, err := f.manager.Enter(context.Background(), longEntry("BTCUSDT", 2, 100))
	require.NoError(t, err)
	assert.InDelta(t, 101, pos.EntryPrice, 1e-9)
	assert.Equal(t, 2.0, pos.Size)
	assert.Equal(t, testNow, pos.OpenedAt)

	tracked, ok := f.engine.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, pos, tracked)
	assert.Len(t, f.sink.OfType(audit.EventPositionOpened), 1)
}

// TestEnter_RiskRejected never reaches the exchange
func TestEnter_RiskRejected(t *testing.T) {
	f := newFixture(t, frictionless(), risk.DefaultLimits())
	f.paper.SetPrice("BTCUSDT", 100)
	ctx := context.Background()

	_, err := f.manager.Enter(ctx, longEntry("BTCUSDT", 1, 100))
	require.NoError(t, err)

	_, err = f.manager.Enter(ctx, longEntry("BTCUSDT", 1, 100))
	require.ErrorIs(t, err, ErrRiskRejected)
	category, ok := boterrors.CategoryOf(err)
	require.True(t, ok)
	assert.Equal(t, boterrors.ErrorCategoryRiskRejected, category)
	assert.Len(t, f.sink.OfType(audit.EventRiskRejected), 1)

	bal, _ := f.paper.GetBalance(ctx)
	assert.InDelta(t, 9900, bal.FreeCash, 1e-9)
}

// TestEnter_InvalidOrder rejects NaN sizes before placing
func TestEnter_InvalidOrder(t *testing.T) {
	f := newFixture(t, frictionless(), risk.DefaultLimits())
	f.paper.SetPrice("BTCUSDT", 100)

	_, err := f.manager.Enter(context.Background(), longEntry("BTCUSDT", math.NaN(), 100))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	assert.Empty(t, f.manager.OpenPositions())
}

// TestEnter_OrderFailureOpensNothing keeps NONE when the order fails
func TestEnter_OrderFailureOpensNothing(t *testing.T) {
	f := newFixture(t, frictionless(), risk.DefaultLimits())
	f.paper.SetPrice("BTCUSDT", 50000)

	_, err := f.manager.Enter(context.Background(), longEntry("BTCUSDT", 1, 50000))
	require.Error(t, err)
	kind, ok := exchange.OrderErrorKindOf(err)
	require.True(t, ok)
	assert.Equal(t, exchange.InsufficientFunds, kind)
	assert.Empty(t, f.manager.OpenPositions())
}

// TestEnter_PartialFillOpensFilledSize tracks only what executed
func TestEnter_PartialFillOpensFilledSize(t *testing.T) {
	cfg := frictionless()
	cfg.FillRatio = 0.25
	f := newFixture(t, cfg, risk.DefaultLimits())
	f.paper.SetPrice("BTCUSDT", 100)

	pos, err := f.manager.Enter(context.Background(), longEntry("BTCUSDT", 4, 100))
	require.NoError(t, err)
	assert.Equal(t, 1.0, pos.Size)
}

// TestExit_NoPosition reports ErrPositionNotFound
func TestExit_NoPosition(t *testing.T) {
	f := newFixture(t, frictionless(), risk.DefaultLimits())

	_, err := f.manager.Exit(context.Background(), "BTCUSDT", strategy.ExitReasonRSIReversion)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

// TestExit_BooksTradeAndDailyPnL closes the slot and books P&L together
func TestExit_BooksTradeAndDailyPnL(t *testing.T) {
	f := newFixture(t, frictionless(), risk.DefaultLimits())
	ctx := context.Background()
	f.paper.SetPrice("BTCUSDT", 100)
	_, err := f.manager.Enter(ctx, longEntry("BTCUSDT", 2, 100))
	require.NoError(t, err)

	f.paper.SetPrice("BTCUSDT", 110)
	trade, err := f.manager.Exit(ctx, "BTCUSDT", strategy.ExitReasonRSIReversion)
	require.NoError(t, err)

	assert.NotEmpty(t, trade.ID)
	assert.InDelta(t, 20, trade.PnL, 1e-9)
	assert.Equal(t, strategy.ExitReasonRSIReversion, trade.ExitReason)
	assert.InDelta(t, 10, trade.ReturnPct(), 1e-9)

	_, open := f.engine.Position("BTCUSDT")
	assert.False(t, open)
	assert.InDelta(t, 20, f.engine.State().DailyPnL, 1e-9)
	assert.Equal(t, []ClosedTrade{trade}, f.manager.History())
	assert.Len(t, f.sink.OfType(audit.EventPositionClosed), 1)

	_, err = f.manager.Exit(ctx, "BTCUSDT", strategy.ExitReasonRSIReversion)
	assert.ErrorIs(t, err, ErrPositionNotFound)
	assert.Len(t, f.manager.History(), 1)
}

// TestExit_ShortPnL profits when price falls
func TestExit_ShortPnL(t *testing.T) {
	cfg := frictionless()
	cfg.AllowShort = true
	f := newFixture(t, cfg, risk.DefaultLimits())
	ctx := context.Background()
	f.paper.SetPrice("ETHUSDT", 3000)

	_, err := f.manager.Enter(ctx, EntryRequest{Symbol: "ETHUSDT", Side: types.SideShort, Size: 1, Price: 3000, StopPrice: 3100})
	require.NoError(t, err)

	f.paper.SetPrice("ETHUSDT", 2900)
	trade, err := f.manager.Exit(ctx, "ETHUSDT", strategy.ExitReasonRSIReversion)
	require.NoError(t, err)
	assert.InDelta(t, 100, trade.PnL, 1e-9)
}

// TestExit_PartialFillKeepsRemainder leaves the unfilled size open
func TestExit_PartialFillKeepsRemainder(t *testing.T) {
	f := newFixture(t, frictionless(), risk.DefaultLimits())
	ctx := context.Background()
	f.paper.SetPrice("BTCUSDT", 100)
	_, err := f.manager.Enter(ctx, longEntry("BTCUSDT", 4, 100))
	require.NoError(t, err)

	partial := &partialPlacer{inner: f.paper, ratio: 0.5}
	m := NewManager(partial, f.engine, WithClock(func() time.Time { return testNow }))
	f.paper.SetPrice("BTCUSDT", 105)

	trade, err := m.Exit(ctx, "BTCUSDT", strategy.ExitReasonATRStop)
	require.NoError(t, err)
	assert.Equal(t, 2.0, trade.Size)
	assert.InDelta(t, 10, trade.PnL, 1e-9)

	pos, ok := f.engine.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 2.0, pos.Size)
}

type partialPlacer struct {
	inner exchange.OrderPlacer
	ratio float64
}

func (p *partialPlacer) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Fill, error) {
	requested := req.Size
	req.Size *= p.ratio
	fill, err := p.inner.PlaceOrder(ctx, req)
	if err != nil {
		return fill, err
	}
	fill.Remaining = requested - fill.Filled
	fill.Status = exchange.FillStatusPartiallyFilled
	return fill, nil
}

type failingPlacer struct {
	inner   exchange.OrderPlacer
	failFor string
	cancels []string
}

func (p *failingPlacer) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Fill, error) {
	if req.Symbol == p.failFor {
		return exchange.Fill{}, exchange.NewOrderError(exchange.ExchangeFailure, req.Symbol, "timeout", nil)
	}
	return p.inner.PlaceOrder(ctx, req)
}

func (p *failingPlacer) CancelAllOrders(_ context.Context, symbol string) error {
	p.cancels = append(p.cancels, symbol)
	return nil
}

// TestEmergencyCloseAll_BestEffort keeps going after one exit fails
func TestEmergencyCloseAll_BestEffort(t *testing.T) {
	f := newFixture(t, frictionless(), risk.DefaultLimits())
	ctx := context.Background()
	for _, s := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		f.paper.SetPrice(s, 10)
		_, err := f.manager.Enter(ctx, longEntry(s, 1, 10))
		require.NoError(t, err)
	}

	placer := &failingPlacer{inner: f.paper, failFor: "ETHUSDT"}
	m := NewManager(placer, f.engine, WithAuditSink(f.sink))

	errs := m.EmergencyCloseAll(ctx)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "ETHUSDT")
	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, placer.cancels)

	remaining := m.OpenPositions()
	require.Len(t, remaining, 1)
	assert.Equal(t, "ETHUSDT", remaining[0].Symbol)
	for _, trade := range m.History() {
		assert.Equal(t, strategy.ExitReasonEmergency, trade.ExitReason)
	}
	assert.Len(t, f.sink.OfType(audit.EventEmergencyClose), 1)
}

// TestEmergencyCloseAll_WorksWhileHalted uses the ungated placer
func TestEmergencyCloseAll_WorksWhileHalted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, frictionless(), risk.DefaultLimits())
	f.paper.SetPrice("BTCUSDT", 100)
	_, err := f.manager.Enter(ctx, longEntry("BTCUSDT", 1, 100))
	require.NoError(t, err)

	store := safety.NewFileMarkerStore(filepath.Join(t.TempDir(), "KILL"))
	coord := safety.NewCoordinator(safety.DefaultConfig(), store)
	require.NoError(t, coord.KillSwitch().Trigger(ctx, "drill", safety.SourceManual))

	gated := exchange.NewGatedClient(f.paper, coord)
	m := NewManager(gated, f.engine, WithEmergencyPlacer(f.paper))

	_, err = m.Exit(ctx, "BTCUSDT", strategy.ExitReasonRSIReversion)
	require.ErrorIs(t, err, safety.ErrHalted)

	assert.Empty(t, m.EmergencyCloseAll(ctx))
	assert.Empty(t, m.OpenPositions())
}

// TestEmergencyCloseAll_RecordsUngatedFailures feeds forced-exit failures to the error-rate breaker
func TestEmergencyCloseAll_RecordsUngatedFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, frictionless(), risk.DefaultLimits())
	for _, s := range []string{"BTCUSDT", "ETHUSDT"} {
		f.paper.SetPrice(s, 10)
		_, err := f.manager.Enter(ctx, longEntry(s, 1, 10))
		require.NoError(t, err)
	}

	store := safety.NewFileMarkerStore(filepath.Join(t.TempDir(), "KILL"))
	coord := safety.NewCoordinator(safety.DefaultConfig(), store, safety.WithAuditSink(f.sink))
	require.NoError(t, coord.KillSwitch().Trigger(ctx, "drill", safety.SourceManual))

	direct := &failingPlacer{inner: f.paper, failFor: "ETHUSDT"}
	m := NewManager(exchange.NewGatedClient(f.paper, coord), f.engine,
		WithEmergencyPlacer(direct),
		WithErrorRecorder(coord))

	errs := m.EmergencyCloseAll(ctx)
	require.Len(t, errs, 1)

	assert.Equal(t, 1, coord.State(ctx).RecentErrors)
	recorded := f.sink.OfType(audit.EventErrorRecorded)
	require.Len(t, recorded, 1)
	assert.Equal(t, "emergency_close", recorded[0].Source)
	assert.Contains(t, recorded[0].Message, "ETHUSDT")
}

// TestEnter_ConcurrentSameSymbol opens one position per symbol
func TestEnter_ConcurrentSameSymbol(t *testing.T) {
	f := newFixture(t, frictionless(), risk.DefaultLimits())
	f.paper.SetPrice("BTCUSDT", 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	opened := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.manager.Enter(context.Background(), longEntry("BTCUSDT", 1, 10)); err == nil {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, opened)
	assert.Len(t, f.manager.OpenPositions(), 1)
}

// TestEnter_ConcurrentRespectsMaxPositions never exceeds the position cap
func TestEnter_ConcurrentRespectsMaxPositions(t *testing.T) {
	f := newFixture(t, frictionless(), risk.DefaultLimits())

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		symbol := fmt.Sprintf("COIN%dUSDT", i)
		f.paper.SetPrice(symbol, 10)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.manager.Enter(context.Background(), longEntry(symbol, 1, 10))
		}()
	}
	wg.Wait()

	assert.Len(t, f.manager.OpenPositions(), risk.DefaultLimits().MaxPositions)
}

// TestRestore_ReloadsPositionsAndHistory skips positions already tracked
func TestRestore_ReloadsPositionsAndHistory(t *testing.T) {
	f := newFixture(t, frictionless(), risk.DefaultLimits())
	pos := risk.Position{Symbol: "BTCUSDT", Side: types.SideLong, Size: 1, EntryPrice: 100, StopPrice: 97, OpenedAt: testNow}
	history := []ClosedTrade{{ID: "t1", Symbol: "ETHUSDT", PnL: 5}}

	require.NoError(t, f.manager.Restore([]risk.Position{pos}, history))
	require.NoError(t, f.manager.Restore([]risk.Position{pos}, history))

	assert.Equal(t, []risk.Position{pos}, f.manager.OpenPositions())
	assert.Equal(t, history, f.manager.History())
}

// TestSummarize computes win rate and profit factor
func TestSummarize(t *testing.T) {
	s := Summarize([]ClosedTrade{{PnL: 30}, {PnL: -10}, {PnL: 20}, {PnL: -10}})
	assert.Equal(t, 4, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 0.5, s.WinRate)
	assert.Equal(t, 30.0, s.TotalPnL)
	assert.Equal(t, 2.5, s.ProfitFactor)
	assert.Equal(t, 30.0, s.BestTrade)
	assert.Equal(t, -10.0, s.WorstTrade)

	assert.Equal(t, Summary{}, Summarize(nil))
}
