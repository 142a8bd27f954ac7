package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SnapshotRefreshes counts portfolio snapshot refreshes by result (ok/error/discarded)
var SnapshotRefreshes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lendex_snapshot_refreshes_total",
		Help: "Total number of portfolio snapshot refresh attempts by result",
	},
	[]string{"result"},
)

// SnapshotRefreshLatency records latency distribution for snapshot refreshes
var SnapshotRefreshLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "lendex_snapshot_refresh_latency_seconds",
		Help:    "Latency in seconds to refresh a portfolio snapshot",
		Buckets: prometheus.DefBuckets,
	},
)

// SnapshotStale reports whether the committed snapshot is serving stale data
var SnapshotStale = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "lendex_snapshot_stale",
		Help: "1 when the committed snapshot is stale (last refresh failed), 0 otherwise",
	},
)

// Simulations counts what-if simulations by action kind (borrow/withdraw)
var Simulations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lendex_simulations_total",
		Help: "Total number of what-if simulations by action kind",
	},
	[]string{"kind"},
)

// SolverIterations records bisection iteration counts per max-safe solver run
var SolverIterations = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "lendex_solver_iterations",
		Help:    "Bisection iterations needed per max-safe solver run",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	},
)

// PriceCacheLookups counts price cache lookups by tier and outcome
var PriceCacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lendex_price_cache_lookups_total",
		Help: "Total number of price cache lookups by tier and outcome",
	},
	[]string{"tier", "outcome"},
)

func init() {
	prometheus.MustRegister(SnapshotRefreshes, SnapshotRefreshLatency, SnapshotStale)
	prometheus.MustRegister(Simulations, SolverIterations, PriceCacheLookups)
}
