package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Trading metrics
	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsi_bot_trades_total",
			Help: "Total number of closed trades",
		},
		[]string{"symbol", "side", "reason"},
	)

	realizedPnL = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsi_bot_realized_pnl_abs_total",
			Help: "Absolute realized P&L split by outcome",
		},
		[]string{"symbol", "outcome"},
	)

	positionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsi_bot_positions_opened_total",
			Help: "Total number of positions opened",
		},
		[]string{"symbol", "side"},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rsi_bot_open_positions",
			Help: "Number of open positions",
		},
	)

	dailyPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rsi_bot_daily_pnl",
			Help: "Realized P&L for the current trading day",
		},
	)

	// Market data metrics
	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rsi_bot_current_price",
			Help: "Current price of trading symbol",
		},
		[]string{"symbol"},
	)

	// Strategy metrics
	rsiValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rsi_bot_rsi",
			Help: "Latest RSI per symbol",
		},
		[]string{"symbol"},
	)

	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsi_bot_signals_total",
			Help: "Signals generated per symbol",
		},
		[]string{"symbol", "signal"},
	)

	// Safety metrics
	safetyBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsi_bot_safety_blocks_total",
			Help: "Actions blocked by a safety gate",
		},
		[]string{"gate"},
	)

	killSwitchActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rsi_bot_kill_switch_active",
			Help: "1 when the kill switch is latched",
		},
	)

	apiCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsi_bot_api_calls_total",
			Help: "External calls recorded by the rate limiter",
		},
		[]string{"endpoint"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsi_bot_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(
		tradesTotal,
		realizedPnL,
		positionsOpened,
		openPositions,
		dailyPnL,
		currentPrice,
		rsiValue,
		signalsTotal,
		safetyBlocks,
		killSwitchActive,
		apiCalls,
		errorsTotal,
	)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordPositionOpened records an entry fill
func RecordPositionOpened(symbol, side string) {
	positionsOpened.WithLabelValues(symbol, side).Inc()
}

// RecordTrade records a closed trade and its realized P&L
func RecordTrade(symbol, side, reason string, pnl float64) {
	tradesTotal.WithLabelValues(symbol, side, reason).Inc()
	if pnl >= 0 {
		realizedPnL.WithLabelValues(symbol, "profit").Add(pnl)
	} else {
		realizedPnL.WithLabelValues(symbol, "loss").Add(-pnl)
	}
}

// SetOpenPositions updates the open position gauge
func SetOpenPositions(n int) {
	openPositions.Set(float64(n))
}

// SetDailyPnL updates the daily P&L gauge
func SetDailyPnL(v float64) {
	dailyPnL.Set(v)
}

// UpdatePrice updates the current price metric
func UpdatePrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

// RecordSignal records the latest RSI and the generated signal
func RecordSignal(symbol, signal string, rsi float64) {
	rsiValue.WithLabelValues(symbol).Set(rsi)
	signalsTotal.WithLabelValues(symbol, signal).Inc()
}

// RecordSafetyBlock counts an action blocked by gate
func RecordSafetyBlock(gate string) {
	safetyBlocks.WithLabelValues(gate).Inc()
}

// SetKillSwitchActive mirrors the kill switch latch
func SetKillSwitchActive(active bool) {
	if active {
		killSwitchActive.Set(1)
		return
	}
	killSwitchActive.Set(0)
}

// RecordAPICall counts an external call
func RecordAPICall(endpoint string) {
	apiCalls.WithLabelValues(endpoint).Inc()
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
