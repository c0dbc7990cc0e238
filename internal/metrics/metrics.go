// Package metrics exposes the control plane's Prometheus instruments,
// scraped at GET /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CallsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cideldill_calls_started_total",
			Help: "Intercepted calls that reached call/start, by function name.",
		},
		[]string{"function_name"},
	)

	CallsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cideldill_calls_completed_total",
			Help: "Completed calls, by terminal status.",
		},
		[]string{"status"},
	)

	ExecutionsPaused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cideldill_executions_paused",
			Help: "Currently paused executions awaiting a resume action.",
		},
	)

	PollLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cideldill_poll_latency_seconds",
			Help:    "Time a poll request spent waiting for a resume action.",
			Buckets: prometheus.DefBuckets,
		},
	)

	CIDStoreBlobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cideldill_cid_store_blobs",
			Help: "Number of blobs currently in the CID store.",
		},
	)
)

func init() {
	prometheus.MustRegister(CallsStarted, CallsCompleted, ExecutionsPaused, PollLatency, CIDStoreBlobs)
}
