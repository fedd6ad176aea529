package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/execution"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/risk"
)

// StatusReport is a read-only view of a running bot.
type StatusReport struct {
	Time              time.Time
	Mode              string
	Exchange          string
	Equity            float64
	FreeCash          float64
	DailyPnL          float64
	DailyLossLimit    float64
	DailyLossBreached bool
	Killed            bool
	KillReason        string
	Positions         []risk.Position
	// Prices marks open positions; missing symbols show no unrealized P&L.
	Prices  map[string]float64
	Summary execution.Summary
}

// RenderStatus writes the account and position tables.
func RenderStatus(w io.Writer, r StatusReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("BOT STATUS")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Time", r.Time.UTC().Format("2006-01-02 15:04:05")},
		{"Mode", r.Mode},
		{"Exchange", r.Exchange},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Equity", fmt.Sprintf("$%.2f", r.Equity)},
		{"Free Cash", fmt.Sprintf("$%.2f", r.FreeCash)},
		{"Daily P&L", fmt.Sprintf("$%+.2f", r.DailyPnL)},
		{"Daily Loss Limit", dailyLimitString(r)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Kill Switch", killString(r)},
		{"Closed Trades", fmt.Sprintf("%d (win rate %.1f%%)", r.Summary.Trades, r.Summary.WinRate*100)},
		{"Realized P&L", fmt.Sprintf("$%+.2f", r.Summary.TotalPnL)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 60, Align: text.AlignLeft},
	})
	t.Render()

	if len(r.Positions) > 0 {
		RenderPositions(w, r.Positions, r.Prices)
	}
}

// RenderPositions writes one row per open position.
func RenderPositions(w io.Writer, positions []risk.Position, prices map[string]float64) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("OPEN POSITIONS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Symbol", "Side", "Size", "Entry", "Stop", "Mark", "Unrealized"})

	var total float64
	for _, p := range positions {
		mark, unrealized := "-", "-"
		if price, ok := prices[p.Symbol]; ok && price > 0 {
			pnl := p.UnrealizedPnL(price)
			total += pnl
			mark = fmt.Sprintf("%.4f", price)
			unrealized = fmt.Sprintf("$%+.2f", pnl)
		}
		t.AppendRow(table.Row{
			p.Symbol,
			p.Side.String(),
			fmt.Sprintf("%.6f", p.Size),
			fmt.Sprintf("%.4f", p.EntryPrice),
			fmt.Sprintf("%.4f", p.StopPrice),
			mark,
			unrealized,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", fmt.Sprintf("$%+.2f", total)})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	t.Render()
}

// RenderTrades writes the most recent trades, newest last.
func RenderTrades(w io.Writer, trades []execution.ClosedTrade, limit int) {
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("RECENT TRADES")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Closed", "Symbol", "Side", "Size", "Entry", "Exit", "P&L", "Return", "Reason"})
	for _, tr := range trades {
		t.AppendRow(table.Row{
			tr.ClosedAt.UTC().Format("01-02 15:04"),
			tr.Symbol,
			tr.Side.String(),
			fmt.Sprintf("%.6f", tr.Size),
			fmt.Sprintf("%.4f", tr.EntryPrice),
			fmt.Sprintf("%.4f", tr.ExitPrice),
			fmt.Sprintf("$%+.2f", tr.PnL),
			fmt.Sprintf("%+.2f%%", tr.ReturnPct()),
			string(tr.ExitReason),
		})
	}
	t.Render()
}

func dailyLimitString(r StatusReport) string {
	s := fmt.Sprintf("$%.2f", r.DailyLossLimit)
	if r.DailyLossBreached {
		s += " (BREACHED)"
	}
	return s
}

func killString(r StatusReport) string {
	if !r.Killed {
		return "clear"
	}
	return "ACTIVE: " + r.KillReason
}
