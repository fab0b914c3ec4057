// Package metrics exposes Prometheus instrumentation for the arbitrage
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the bot registers.
type Metrics struct {
	BookUpdates   *prometheus.CounterVec // by venue
	StaleDropped  *prometheus.CounterVec // by venue
	Opportunities prometheus.Counter
	Executions    *prometheus.CounterVec // by outcome
	Exposures     prometheus.Counter
	BreakerState  prometheus.Gauge // 0 armed, 1 halted
	DailyPnLCents prometheus.Gauge
	OpenContracts prometheus.Gauge
	LegLatency    *prometheus.HistogramVec // by venue
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BookUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbot",
			Name:      "book_updates_total",
			Help:      "Orderbook snapshots applied to the state store.",
		}, []string{"venue"}),
		StaleDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbot",
			Name:      "book_stale_dropped_total",
			Help:      "Snapshots dropped for carrying a non-increasing version.",
		}, []string{"venue"}),
		Opportunities: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arbot",
			Name:      "opportunities_total",
			Help:      "Arbitrage opportunities emitted by the detector.",
		}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbot",
			Name:      "executions_total",
			Help:      "Execution attempts by outcome.",
		}, []string{"outcome"}),
		Exposures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arbot",
			Name:      "exposures_total",
			Help:      "Attempts that ended with a one-sided position.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbot",
			Name:      "breaker_halted",
			Help:      "1 while the circuit breaker is halted.",
		}),
		DailyPnLCents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbot",
			Name:      "daily_pnl_cents",
			Help:      "Realized P&L in cents since the daily reset.",
		}),
		OpenContracts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbot",
			Name:      "open_contracts",
			Help:      "Total open contracts across all markets.",
		}),
		LegLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arbot",
			Name:      "leg_latency_seconds",
			Help:      "Time from order placement to terminal order state.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"venue"}),
	}
	reg.MustRegister(
		m.BookUpdates,
		m.StaleDropped,
		m.Opportunities,
		m.Executions,
		m.Exposures,
		m.BreakerState,
		m.DailyPnLCents,
		m.OpenContracts,
		m.LegLatency,
	)
	return m
}
