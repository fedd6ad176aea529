package data

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange"
)

// DataPath is where bars for one market live:
// {root}/{exchange}/{category}/{SYMBOL}/{interval minutes}/candles.csv
func DataPath(root, exchangeName, category, symbol, interval string) (string, error) {
	d, err := exchange.IntervalDuration(interval)
	if err != nil {
		return "", err
	}
	minutes := strconv.Itoa(int(d.Minutes()))
	return filepath.Join(root, strings.ToLower(exchangeName), category, strings.ToUpper(symbol), minutes, "candles.csv"), nil
}
