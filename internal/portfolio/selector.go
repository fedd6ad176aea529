package portfolio

import (
	"math"
	"sort"
	"sync"
)

// Config controls how many symbols trade at once and how correlated they may be.
type Config struct {
	Enabled bool `yaml:"enabled"`
	// MaxSymbols caps the selected universe.
	MaxSymbols int `yaml:"max_symbols" default:"3" validate:"gte=1"`
	// MaxCorrelation is the absolute return correlation above which a
	// candidate is skipped when a selected symbol already covers it.
	MaxCorrelation float64 `yaml:"max_correlation" default:"0.7" validate:"gt=0,lte=1"`
	// Lookback is the number of closes used for the correlation estimate.
	Lookback int `yaml:"lookback" default:"100" validate:"gte=3"`
	// RiskWeights are relative allocations per symbol; missing symbols weigh 1.
	RiskWeights map[string]float64 `yaml:"risk_weights"`
}

// DefaultConfig returns 3 symbols, 0.7 correlation, 100 bars.
func DefaultConfig() Config {
	return Config{
		MaxSymbols:     3,
		MaxCorrelation: 0.7,
		Lookback:       100,
	}
}

// Selector keeps recent closes per symbol and picks a weakly correlated
// subset of the candidates in priority order.
type Selector struct {
	mu     sync.RWMutex
	cfg    Config
	closes map[string][]float64
}

// NewSelector creates a selector. Zero limits fall back to DefaultConfig.
func NewSelector(cfg Config) *Selector {
	def := DefaultConfig()
	if cfg.MaxSymbols <= 0 {
		cfg.MaxSymbols = def.MaxSymbols
	}
	if cfg.MaxCorrelation <= 0 {
		cfg.MaxCorrelation = def.MaxCorrelation
	}
	if cfg.Lookback < 3 {
		cfg.Lookback = def.Lookback
	}
	return &Selector{cfg: cfg, closes: make(map[string][]float64)}
}

// Lookback is the number of closes the selector wants per symbol.
func (s *Selector) Lookback() int {
	return s.cfg.Lookback
}

// AddPriceData replaces the close history of symbol, keeping the last Lookback values.
func (s *Selector) AddPriceData(symbol string, closes []float64) {
	if len(closes) > s.cfg.Lookback {
		closes = closes[len(closes)-s.cfg.Lookback:]
	}
	cp := make([]float64, len(closes))
	copy(cp, closes)

	s.mu.Lock()
	s.closes[symbol] = cp
	s.mu.Unlock()
}

// Correlation returns the Pearson correlation of the two symbols' returns.
// ok is false when either history is missing or too short, or has no variance.
func (s *Selector) Correlation(a, b string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return correlation(Returns(s.closes[a]), Returns(s.closes[b]))
}

// Matrix returns the pairwise correlations between every symbol with data.
func (s *Selector) Matrix() map[string]map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.closes))
	for sym := range s.closes {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	returns := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		returns[sym] = Returns(s.closes[sym])
	}

	matrix := make(map[string]map[string]float64, len(symbols))
	for _, a := range symbols {
		row := make(map[string]float64, len(symbols))
		for _, b := range symbols {
			if a == b {
				row[b] = 1
				continue
			}
			if c, ok := correlation(returns[a], returns[b]); ok {
				row[b] = c
			}
		}
		matrix[a] = row
	}
	return matrix
}

// Select walks candidates in order and keeps each one unless its absolute
// correlation with an already selected symbol exceeds MaxCorrelation.
// Symbols without enough history are never filtered out.
func (s *Selector) Select(candidates []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	selected := make([]string, 0, s.cfg.MaxSymbols)
	seen := make(map[string]bool, len(candidates))
	for _, sym := range candidates {
		if len(selected) >= s.cfg.MaxSymbols {
			break
		}
		if seen[sym] {
			continue
		}
		seen[sym] = true

		returns := Returns(s.closes[sym])
		correlated := false
		for _, other := range selected {
			c, ok := correlation(returns, Returns(s.closes[other]))
			if ok && math.Abs(c) > s.cfg.MaxCorrelation {
				correlated = true
				break
			}
		}
		if !correlated {
			selected = append(selected, sym)
		}
	}
	return selected
}

// Weights splits capital across symbols in proportion to their risk weights.
func (s *Selector) Weights(symbols []string, capital float64) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	var total float64
	for _, sym := range symbols {
		total += s.weight(sym)
	}
	if total <= 0 || capital <= 0 {
		return out
	}
	for _, sym := range symbols {
		out[sym] = capital * s.weight(sym) / total
	}
	return out
}

func (s *Selector) weight(symbol string) float64 {
	if w, ok := s.cfg.RiskWeights[symbol]; ok {
		if w < 0 {
			return 0
		}
		return w
	}
	return 1
}

// Returns converts closes into simple period returns.
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// correlation aligns both series on their most recent overlap.
func correlation(a, b []float64) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0, false
	}
	a, b = a[len(a)-n:], b[len(b)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}
