// Package metrics wires the trading core's counters, gauges, and histograms
// to Prometheus (spec §4.8). The teacher repo exposes a bespoke dashboard
// snapshot struct (internal/api.RiskSnapshot); this generalizes the same
// field set into first-class Prometheus metrics registered on a dedicated
// registry so the core can be embedded without clobbering the default
// global registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sink bundles every metric the trading core emits, per spec §4.8:
// cycle latency histogram, cycles-skipped counter (by reason), advisor
// token usage (per model), order success/failure counts, open positions
// gauge, realized/unrealized P&L gauges, cache hit-rate gauge.
type Sink struct {
	Registry *prometheus.Registry

	CycleLatency      prometheus.Histogram
	CyclesSkipped     *prometheus.CounterVec // label: reason
	AdvisorTokens     *prometheus.CounterVec // labels: model, kind (prompt|completion)
	AdvisorCostUSD    *prometheus.CounterVec // label: model
	OrderOutcomes     *prometheus.CounterVec // label: outcome (filled|partial|rejected|timeout)
	OpenPositions     prometheus.Gauge
	RealizedPnL       prometheus.Gauge
	UnrealizedPnL     prometheus.Gauge
	CacheHitRate      prometheus.Gauge
}

// NewSink creates and registers every metric on a fresh registry.
func NewSink() *Sink {
	reg := prometheus.NewRegistry()

	s := &Sink{
		Registry: reg,
		CycleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading_core",
			Name:      "cycle_latency_seconds",
			Help:      "Wall-clock duration of one scheduler cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		CyclesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading_core",
			Name:      "cycles_skipped_total",
			Help:      "Cycles skipped, labeled by reason.",
		}, []string{"reason"}),
		AdvisorTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading_core",
			Name:      "advisor_tokens_total",
			Help:      "Advisor token usage, labeled by model and token kind.",
		}, []string{"model", "kind"}),
		AdvisorCostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading_core",
			Name:      "advisor_cost_usd_total",
			Help:      "Advisor spend in USD, labeled by model.",
		}, []string{"model"}),
		OrderOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading_core",
			Name:      "order_outcomes_total",
			Help:      "Order outcomes, labeled by outcome.",
		}, []string{"outcome"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading_core",
			Name:      "open_positions",
			Help:      "Number of positions currently in state OPEN.",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading_core",
			Name:      "realized_pnl_usd",
			Help:      "Cumulative realized P&L today, in USD.",
		}),
		UnrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading_core",
			Name:      "unrealized_pnl_usd",
			Help:      "Mark-to-market unrealized P&L across open positions, in USD.",
		}),
		CacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading_core",
			Name:      "snapshot_cache_hit_rate",
			Help:      "Rolling hit rate of the market-data snapshot cache.",
		}),
	}

	reg.MustRegister(
		s.CycleLatency,
		s.CyclesSkipped,
		s.AdvisorTokens,
		s.AdvisorCostUSD,
		s.OrderOutcomes,
		s.OpenPositions,
		s.RealizedPnL,
		s.UnrealizedPnL,
		s.CacheHitRate,
	)

	return s
}
