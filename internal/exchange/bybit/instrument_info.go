package bybit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// LotSize holds the quantity constraints of an instrument.
type LotSize struct {
	MinQty  float64
	MaxQty  float64
	QtyStep float64
}

type instrumentResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol        string `json:"symbol"`
		Status        string `json:"status"`
		BaseCoin      string `json:"baseCoin"`
		QuoteCoin     string `json:"quoteCoin"`
		LotSizeFilter struct {
			BasePrecision string `json:"basePrecision"`
			MinOrderQty   string `json:"minOrderQty"`
			MaxOrderQty   string `json:"maxOrderQty"`
			QtyStep       string `json:"qtyStep"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
}

// InstrumentManager caches lot sizes per symbol.
type InstrumentManager struct {
	client         *Client
	mutex          sync.RWMutex
	lots           map[string]LotSize
	fetchedAt      map[string]time.Time
	updateInterval time.Duration
}

// NewInstrumentManager creates a new instrument manager
func NewInstrumentManager(client *Client) *InstrumentManager {
	return &InstrumentManager{
		client:         client,
		lots:           make(map[string]LotSize),
		fetchedAt:      make(map[string]time.Time),
		updateInterval: time.Hour,
	}
}

// LotSize returns the cached constraints of symbol, refreshing hourly.
func (im *InstrumentManager) LotSize(ctx context.Context, symbol string) (LotSize, error) {
	now := im.client.now()

	im.mutex.RLock()
	lot, ok := im.lots[symbol]
	fresh := ok && now.Sub(im.fetchedAt[symbol]) < im.updateInterval
	im.mutex.RUnlock()
	if fresh {
		return lot, nil
	}

	lot, err := im.fetch(ctx, symbol)
	if err != nil {
		return LotSize{}, err
	}

	im.mutex.Lock()
	im.lots[symbol] = lot
	im.fetchedAt[symbol] = now
	im.mutex.Unlock()
	return lot, nil
}

func (im *InstrumentManager) fetch(ctx context.Context, symbol string) (LotSize, error) {
	params := map[string]interface{}{
		"category": im.client.cfg.Category,
		"symbol":   symbol,
	}

	result, err := im.client.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return LotSize{}, fmt.Errorf("failed to fetch instrument info: %w", err)
	}

	var instruments instrumentResult
	if _, err := decodeResult("instruments", result, &instruments); err != nil {
		return LotSize{}, err
	}
	for _, item := range instruments.List {
		if item.Symbol != symbol {
			continue
		}
		step := parseFloat64(item.LotSizeFilter.QtyStep)
		if step == 0 {
			// spot instruments publish basePrecision instead of qtyStep
			step = parseFloat64(item.LotSizeFilter.BasePrecision)
		}
		return LotSize{
			MinQty:  parseFloat64(item.LotSizeFilter.MinOrderQty),
			MaxQty:  parseFloat64(item.LotSizeFilter.MaxOrderQty),
			QtyStep: step,
		}, nil
	}
	return LotSize{}, fmt.Errorf("instrument %s not found", symbol)
}

// Adjust rounds qty down to the step and clamps it to the maximum.
// It fails when the result is below the minimum order quantity.
func (l LotSize) Adjust(qty float64) (float64, error) {
	if l.MaxQty > 0 && qty > l.MaxQty {
		qty = l.MaxQty
	}

	if l.QtyStep > 0 {
		// the epsilon keeps 0.3/0.1 from flooring to 2
		steps := math.Floor(qty/l.QtyStep + 1e-9)
		qty = steps * l.QtyStep
		precision := int(math.Max(0, math.Ceil(-math.Log10(l.QtyStep))))
		multiplier := math.Pow(10, float64(precision))
		qty = math.Round(qty*multiplier) / multiplier
	}

	if qty <= 0 || qty < l.MinQty {
		return 0, fmt.Errorf("quantity %s below minimum %s", formatFloat(qty), formatFloat(l.MinQty))
	}
	return qty, nil
}
