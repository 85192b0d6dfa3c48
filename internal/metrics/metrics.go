package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPLatency measures request duration per route and status.
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// BookingTransitions counts committed state machine transitions.
	BookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Committed booking and session transitions.",
		},
		[]string{"to"},
	)

	// WalletOps counts ledger mutations by kind and outcome.
	WalletOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_operations_total",
			Help: "Wallet ledger operations.",
		},
		[]string{"kind", "result"},
	)

	// NotifyQueueDepth tracks the outbound notification queue.
	NotifyQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_queue_depth",
			Help: "Current notification queue depth.",
		},
	)

	// NotifyDropped counts events dropped on queue overflow.
	NotifyDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_dropped_total",
			Help: "Notifications dropped due to a full queue.",
		},
	)
)

// Handler serves the /metrics endpoint.
var Handler = promhttp.Handler

// Init registers all collectors.
func Init() {
	prometheus.MustRegister(
		HTTPLatency,
		BookingTransitions,
		WalletOps,
		NotifyQueueDepth,
		NotifyDropped,
	)
}
