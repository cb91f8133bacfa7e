// Package metrics exposes prometheus collectors for the trading loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Completed run loop ticks"},
	)
	SamplesRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "samples_rejected_total", Help: "Price samples rejected by the history store"},
		[]string{"instrument"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Order actions by outcome"},
		[]string{"instrument", "side", "result"},
	)
	TradingLocked = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "trading_locked", Help: "1 when trading is paused by the continuity check"},
	)
	AvailableCash = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "available_cash", Help: "Cash available for new buys"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "open_positions", Help: "Tracked positions with non-zero quantity"},
	)
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "tick_duration_seconds", Help: "Wall time of one tick", Buckets: prometheus.DefBuckets},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		SamplesRejectedTotal,
		OrdersTotal,
		TradingLocked,
		AvailableCash,
		OpenPositions,
		TickDuration,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// SetLocked records the trading lock state.
func SetLocked(locked bool) {
	TradingLocked.Set(boolGauge(locked))
}
