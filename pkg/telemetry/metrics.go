package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pglobe",
			Name:      "refresh_cycles_total",
			Help:      "Refresh cycles run, by outcome.",
		},
		[]string{"outcome"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pglobe",
			Name:      "refresh_cycle_duration_seconds",
			Help:      "Wall time of one full discovery+enrichment+reconciliation cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	NodesDiscovered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pglobe",
			Name:      "nodes_discovered",
			Help:      "Deduplicated nodes produced by the last crawl.",
		},
	)

	NodesReconciled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pglobe",
			Name:      "nodes_reconciled",
			Help:      "Total records after merging with persisted state.",
		},
	)

	RPCCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pglobe",
			Name:      "rpc_calls_total",
			Help:      "Node RPC calls, by method and outcome. Failures are expected.",
		},
		[]string{"method", "outcome"},
	)
)

func init() {
	Registry.MustRegister(CyclesTotal, CycleDuration, NodesDiscovered, NodesReconciled, RPCCalls)
}

// Handler serves the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
