package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Counter of auth operations (authenticate, rotate, revoke, ...) by outcome.
	AuthOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Total number of auth service operations",
		},
		[]string{"operation", "status"},
	)

	// Histogram of token store round-trip durations.
	TokenStoreDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "token_store_duration_seconds",
			Help:    "Duration of token store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(AuthOperations, TokenStoreDuration)
}
