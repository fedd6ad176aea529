package exchange

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

// PaperConfig configures simulated execution.
type PaperConfig struct {
	QuoteAsset     string  `yaml:"quote_asset" default:"USDT"`
	InitialBalance float64 `yaml:"initial_balance" default:"10000" validate:"gt=0"`
	// Slippage moves every fill against the taker by this fraction of price.
	Slippage float64 `yaml:"slippage" default:"0.0005" validate:"gte=0,lt=1"`
	// Commission is charged on notional and paid from quote cash.
	Commission float64 `yaml:"commission" default:"0.001" validate:"gte=0,lt=1"`
	// FillRatio below 1 simulates partial fills.
	FillRatio float64 `yaml:"fill_ratio" default:"1" validate:"gt=0,lte=1"`
	// AllowShort lets sells exceed the held amount.
	AllowShort bool `yaml:"allow_short"`
}

// DefaultPaperConfig returns a 10k USDT account with small costs.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		QuoteAsset:     "USDT",
		InitialBalance: 10000,
		Slippage:       0.0005,
		Commission:     0.001,
		FillRatio:      1,
	}
}

// PaperExchange simulates an account against locally supplied prices.
// Prices come from LoadBars or SetPrice, or from an optional upstream feed.
type PaperExchange struct {
	mu       sync.Mutex
	cfg      PaperConfig
	feed     MarketData
	now      func() time.Time
	cash     float64
	holdings map[string]float64
	bars     map[string][]types.OHLCV
	prices   map[string]types.Ticker
	orders   map[string]Fill
	cancels  int
}

// NewPaperExchange creates a simulated account. feed may be nil.
func NewPaperExchange(cfg PaperConfig, feed MarketData) *PaperExchange {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.FillRatio <= 0 || cfg.FillRatio > 1 {
		cfg.FillRatio = 1
	}
	return &PaperExchange{
		cfg:      cfg,
		feed:     feed,
		now:      time.Now,
		cash:     cfg.InitialBalance,
		holdings: make(map[string]float64),
		bars:     make(map[string][]types.OHLCV),
		prices:   make(map[string]types.Ticker),
		orders:   make(map[string]Fill),
	}
}

func (p *PaperExchange) GetName() string {
	return "paper"
}

// SetClock overrides the time source used for tickers and balances.
func (p *PaperExchange) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// LoadBars replaces the bar history of symbol and marks its last close.
func (p *PaperExchange) LoadBars(symbol string, bars []types.OHLCV) {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := make([]types.OHLCV, len(bars))
	copy(copied, bars)
	p.bars[symbol] = copied
	if last, ok := types.Latest(copied); ok {
		p.prices[symbol] = types.Ticker{Symbol: symbol, Price: last.Close, Volume: last.Volume, Timestamp: p.now()}
	}
}

// SetPrice marks symbol at price.
func (p *PaperExchange) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = types.Ticker{Symbol: symbol, Price: price, Timestamp: p.now()}
}

func (p *PaperExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	if p.feed != nil {
		bars, err := p.feed.GetKlines(ctx, symbol, interval, limit)
		if err != nil {
			return nil, err
		}
		p.LoadBars(symbol, bars)
		return bars, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	bars, ok := p.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("no bars loaded for %s", symbol)
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	out := make([]types.OHLCV, len(bars))
	copy(out, bars)
	return out, nil
}

func (p *PaperExchange) GetTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	if p.feed != nil {
		ticker, err := p.feed.GetTicker(ctx, symbol)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.prices[symbol] = *ticker
		p.mu.Unlock()
		return ticker, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ticker, ok := p.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no price for %s", symbol)
	}
	return &ticker, nil
}

// PlaceOrder fills immediately at the last price adjusted for slippage.
// A repeated ClientOrderID returns the original fill.
func (p *PaperExchange) PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, NewOrderError(ExchangeFailure, req.Symbol, "context done", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.ClientOrderID != "" {
		if fill, ok := p.orders[req.ClientOrderID]; ok {
			return fill, nil
		}
	}

	if req.Size <= 0 || math.IsNaN(req.Size) || math.IsInf(req.Size, 0) {
		return Fill{}, NewOrderError(OrderRejected, req.Symbol, fmt.Sprintf("invalid size %v", req.Size), nil)
	}
	ticker, ok := p.prices[req.Symbol]
	if !ok || ticker.Price <= 0 {
		return Fill{}, NewOrderError(ExchangeFailure, req.Symbol, "no market price", nil)
	}

	price := ticker.Price
	switch req.Side {
	case OrderSideBuy:
		price *= 1 + p.cfg.Slippage
		if !req.IsMarket() && price > req.LimitPrice {
			return Fill{}, NewOrderError(OrderRejected, req.Symbol,
				fmt.Sprintf("limit %.8f below market %.8f", req.LimitPrice, price), nil)
		}
	case OrderSideSell:
		price *= 1 - p.cfg.Slippage
		if !req.IsMarket() && price < req.LimitPrice {
			return Fill{}, NewOrderError(OrderRejected, req.Symbol,
				fmt.Sprintf("limit %.8f above market %.8f", req.LimitPrice, price), nil)
		}
	default:
		return Fill{}, NewOrderError(OrderRejected, req.Symbol, fmt.Sprintf("unknown side %q", req.Side), nil)
	}

	filled := req.Size * p.cfg.FillRatio
	notional := filled * price
	fee := notional * p.cfg.Commission

	if req.Side == OrderSideBuy {
		if notional+fee > p.cash {
			return Fill{}, NewOrderError(InsufficientFunds, req.Symbol,
				fmt.Sprintf("need %.2f %s, have %.2f", notional+fee, p.cfg.QuoteAsset, p.cash), nil)
		}
		p.cash -= notional + fee
		p.holdings[req.Symbol] += filled
	} else {
		held := p.holdings[req.Symbol]
		if !p.cfg.AllowShort && filled > held+1e-12 {
			return Fill{}, NewOrderError(InsufficientFunds, req.Symbol,
				fmt.Sprintf("sell %.8f exceeds holding %.8f", filled, held), nil)
		}
		p.cash += notional - fee
		p.holdings[req.Symbol] = held - filled
	}
	if math.Abs(p.holdings[req.Symbol]) < 1e-12 {
		delete(p.holdings, req.Symbol)
	}

	fill := Fill{
		OrderID:       uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Price:         price,
		Filled:        filled,
		Remaining:     req.Size - filled,
		Status:        FillStatusFilled,
	}
	if fill.Remaining > 0 {
		fill.Status = FillStatusPartiallyFilled
	}
	if req.ClientOrderID != "" {
		p.orders[req.ClientOrderID] = fill
	}
	return fill, nil
}

// CancelAllOrders is a no-op since paper orders never rest.
func (p *PaperExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels++
	return nil
}

// Cancels counts CancelAllOrders calls.
func (p *PaperExchange) Cancels() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancels
}

// GetBalance values holdings at their last known price.
func (p *PaperExchange) GetBalance(ctx context.Context) (*types.AccountBalance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := p.cash
	holdings := make(map[string]float64, len(p.holdings))
	for symbol, qty := range p.holdings {
		holdings[baseAsset(symbol, p.cfg.QuoteAsset)] = qty
		if ticker, ok := p.prices[symbol]; ok {
			total += qty * ticker.Price
		}
	}

	return &types.AccountBalance{
		QuoteAsset: p.cfg.QuoteAsset,
		FreeCash:   p.cash,
		Holdings:   holdings,
		TotalValue: total,
		Timestamp:  p.now(),
	}, nil
}

func baseAsset(symbol, quote string) string {
	if base := strings.TrimSuffix(symbol, quote); base != "" && base != symbol {
		return base
	}
	return symbol
}
