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
			Name: "grid_bot_trades_total",
			Help: "Total number of filled grid trades",
		},
		[]string{"symbol", "side"},
	)

	tradeAmount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grid_bot_trade_amount",
			Help:    "Distribution of trade amounts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"symbol"},
	)

	// Market data metrics
	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_bot_current_price",
			Help: "Current price of trading symbol",
		},
		[]string{"symbol"},
	)

	basePrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_bot_base_price",
			Help: "Grid anchor price of trading symbol",
		},
		[]string{"symbol"},
	)

	// Strategy metrics
	gridSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_bot_grid_size_pct",
			Help: "Current grid width as a fraction of base price",
		},
		[]string{"symbol"},
	)

	volatilityValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_bot_volatility",
			Help: "Smoothed annualized volatility estimate",
		},
		[]string{"symbol"},
	)

	positionRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_bot_position_ratio",
			Help: "Fraction of equity held in the base asset",
		},
		[]string{"symbol"},
	)

	// Risk metrics
	riskActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_bot_risk_actions_total",
			Help: "Risk actions triggered, by type",
		},
		[]string{"symbol", "action"},
	)

	haltedSymbols = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_bot_halted",
			Help: "1 when the symbol controller is halted",
		},
		[]string{"symbol"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_bot_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(tradesTotal)
	prometheus.MustRegister(tradeAmount)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(basePrice)
	prometheus.MustRegister(gridSize)
	prometheus.MustRegister(volatilityValue)
	prometheus.MustRegister(positionRatio)
	prometheus.MustRegister(riskActionsTotal)
	prometheus.MustRegister(haltedSymbols)
	prometheus.MustRegister(errorsTotal)
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

// RecordTrade records a filled trade
func RecordTrade(symbol, side string, amount float64) {
	tradesTotal.WithLabelValues(symbol, side).Inc()
	tradeAmount.WithLabelValues(symbol).Observe(amount)
}

// UpdateCycle records the per-cycle market and strategy gauges in one call
func UpdateCycle(symbol string, price, base, grid, volatility, position float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
	basePrice.WithLabelValues(symbol).Set(base)
	gridSize.WithLabelValues(symbol).Set(grid)
	volatilityValue.WithLabelValues(symbol).Set(volatility)
	positionRatio.WithLabelValues(symbol).Set(position)
}

// RecordRiskAction records a triggered risk action
func RecordRiskAction(symbol, action string) {
	riskActionsTotal.WithLabelValues(symbol, action).Inc()
}

// SetHalted marks the symbol controller halted or running
func SetHalted(symbol string, halted bool) {
	v := 0.0
	if halted {
		v = 1.0
	}
	haltedSymbols.WithLabelValues(symbol).Set(v)
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
