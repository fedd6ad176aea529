package execution

import (
	"time"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/strategy"
	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

// ClosedTrade is written once when a position, or a filled slice of it, is closed.
type ClosedTrade struct {
	ID         string              `json:"id"`
	Symbol     string              `json:"symbol"`
	Side       types.Side          `json:"side"`
	Size       float64             `json:"size"`
	EntryPrice float64             `json:"entry_price"`
	ExitPrice  float64             `json:"exit_price"`
	PnL        float64             `json:"pnl"`
	ExitReason strategy.ExitReason `json:"exit_reason"`
	OpenedAt   time.Time           `json:"opened_at"`
	ClosedAt   time.Time           `json:"closed_at"`
}

// ReturnPct is the P&L relative to the entry notional, in percent.
func (t ClosedTrade) ReturnPct() float64 {
	notional := t.EntryPrice * t.Size
	if notional == 0 {
		return 0
	}
	return t.PnL / notional * 100
}

// HoldingTime is how long the position was open.
func (t ClosedTrade) HoldingTime() time.Duration {
	return t.ClosedAt.Sub(t.OpenedAt)
}

// Summary aggregates a trade history.
type Summary struct {
	Trades      int
	Wins        int
	Losses      int
	WinRate     float64
	TotalPnL    float64
	GrossProfit float64
	GrossLoss   float64
	// ProfitFactor is GrossProfit/GrossLoss, zero when there are no losses.
	ProfitFactor float64
	BestTrade    float64
	WorstTrade   float64
}

// Summarize computes win rate and P&L statistics over trades.
func Summarize(trades []ClosedTrade) Summary {
	var s Summary
	for i, t := range trades {
		s.Trades++
		s.TotalPnL += t.PnL
		if t.PnL > 0 {
			s.Wins++
			s.GrossProfit += t.PnL
		} else {
			s.Losses++
			s.GrossLoss -= t.PnL
		}
		if i == 0 || t.PnL > s.BestTrade {
			s.BestTrade = t.PnL
		}
		if i == 0 || t.PnL < s.WorstTrade {
			s.WorstTrade = t.PnL
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}
	return s
}
