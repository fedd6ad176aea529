package types

import "time"

// OHLCV is a single price bar. Sequences are ordered by strictly increasing Timestamp.
type OHLCV struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}

type Ticker struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp time.Time
}

type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// AccountBalance is the account snapshot returned by a balance collaborator.
// TotalValue is denominated in the quote currency and includes held assets.
type AccountBalance struct {
	QuoteAsset string
	FreeCash   float64
	Holdings   map[string]float64
	TotalValue float64
	Timestamp  time.Time
}

// Closes extracts the close series from bars.
func Closes(bars []OHLCV) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// Latest returns the last bar and false when bars is empty.
func Latest(bars []OHLCV) (OHLCV, bool) {
	if len(bars) == 0 {
		return OHLCV{}, false
	}
	return bars[len(bars)-1], true
}
