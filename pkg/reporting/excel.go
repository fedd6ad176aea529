package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/execution"
)

const (
	tradesSheet  = "Trades"
	summarySheet = "Summary"
)

var tradeHeaders = []string{
	"ID", "Symbol", "Side", "Size", "Entry Price", "Exit Price",
	"P&L", "Return", "Exit Reason", "Opened", "Closed", "Holding (h)",
}

type excelStyles struct {
	header   int
	base     int
	currency int
	percent  int
	profit   int
	loss     int
}

// WriteTradesXLSX writes the trade journal and its summary to an Excel workbook.
func WriteTradesXLSX(path string, trades []execution.ClosedTrade) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	if err := fx.SetSheetName(fx.GetSheetName(0), tradesSheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return err
	}

	styles, err := createExcelStyles(fx)
	if err != nil {
		return err
	}
	if err := writeTradesSheet(fx, trades, styles); err != nil {
		return err
	}
	if err := writeSummarySheet(fx, execution.Summarize(trades), styles); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func createExcelStyles(fx *excelize.File) (excelStyles, error) {
	var s excelStyles
	var err error

	border := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	s.header, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return s, err
	}

	if s.base, err = fx.NewStyle(&excelize.Style{Border: border}); err != nil {
		return s, err
	}

	s.currency, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return s, err
	}

	s.percent, err = fx.NewStyle(&excelize.Style{
		NumFmt:    10,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return s, err
	}

	s.profit, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Font:      &excelize.Font{Color: "008000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return s, err
	}

	s.loss, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Font:      &excelize.Font{Color: "FF0000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	return s, err
}

func writeTradesSheet(fx *excelize.File, trades []execution.ClosedTrade, s excelStyles) error {
	for i, h := range tradeHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := fx.SetCellValue(tradesSheet, cell, h); err != nil {
			return err
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(tradeHeaders))
	if err := fx.SetCellStyle(tradesSheet, "A1", lastCol+"1", s.header); err != nil {
		return err
	}

	for i, t := range trades {
		row := i + 2
		values := []interface{}{
			t.ID,
			t.Symbol,
			t.Side.String(),
			t.Size,
			t.EntryPrice,
			t.ExitPrice,
			t.PnL,
			t.ReturnPct() / 100,
			string(t.ExitReason),
			t.OpenedAt.UTC().Format("2006-01-02 15:04:05"),
			t.ClosedAt.UTC().Format("2006-01-02 15:04:05"),
			t.HoldingTime().Hours(),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := fx.SetCellValue(tradesSheet, cell, v); err != nil {
				return err
			}
		}

		rowStart, _ := excelize.CoordinatesToCellName(1, row)
		rowEnd, _ := excelize.CoordinatesToCellName(len(tradeHeaders), row)
		if err := fx.SetCellStyle(tradesSheet, rowStart, rowEnd, s.base); err != nil {
			return err
		}
		pnlStyle := s.profit
		if t.PnL < 0 {
			pnlStyle = s.loss
		}
		pnlCell, _ := excelize.CoordinatesToCellName(7, row)
		if err := fx.SetCellStyle(tradesSheet, pnlCell, pnlCell, pnlStyle); err != nil {
			return err
		}
		retCell, _ := excelize.CoordinatesToCellName(8, row)
		if err := fx.SetCellStyle(tradesSheet, retCell, retCell, s.percent); err != nil {
			return err
		}
	}

	if err := fx.SetColWidth(tradesSheet, "A", "A", 38); err != nil {
		return err
	}
	if err := fx.SetColWidth(tradesSheet, "B", lastCol, 14); err != nil {
		return err
	}
	return fx.SetPanes(tradesSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeSummarySheet(fx *excelize.File, sum execution.Summary, s excelStyles) error {
	if err := fx.SetCellValue(summarySheet, "A1", "Metric"); err != nil {
		return err
	}
	if err := fx.SetCellValue(summarySheet, "B1", "Value"); err != nil {
		return err
	}
	if err := fx.SetCellStyle(summarySheet, "A1", "B1", s.header); err != nil {
		return err
	}

	rows := []struct {
		label string
		value interface{}
		style int
	}{
		{"Trades", sum.Trades, s.base},
		{"Wins", sum.Wins, s.base},
		{"Losses", sum.Losses, s.base},
		{"Win Rate", sum.WinRate, s.percent},
		{"Total P&L", sum.TotalPnL, s.currency},
		{"Gross Profit", sum.GrossProfit, s.currency},
		{"Gross Loss", sum.GrossLoss, s.currency},
		{"Profit Factor", sum.ProfitFactor, s.base},
		{"Best Trade", sum.BestTrade, s.currency},
		{"Worst Trade", sum.WorstTrade, s.currency},
	}
	for i, r := range rows {
		row := i + 2
		label := fmt.Sprintf("A%d", row)
		value := fmt.Sprintf("B%d", row)
		if err := fx.SetCellValue(summarySheet, label, r.label); err != nil {
			return err
		}
		if err := fx.SetCellValue(summarySheet, value, r.value); err != nil {
			return err
		}
		if err := fx.SetCellStyle(summarySheet, label, label, s.base); err != nil {
			return err
		}
		if err := fx.SetCellStyle(summarySheet, value, value, r.style); err != nil {
			return err
		}
	}
	return fx.SetColWidth(summarySheet, "A", "B", 18)
}
