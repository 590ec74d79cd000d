// README: Prometheus collectors for the matching engine and the HTTP API.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AcceptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "wheels", Name: "accepts_total", Help: "Accept attempts by outcome"},
		[]string{"outcome"},
	)
	CompensationsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "wheels", Name: "accept_compensations_total", Help: "Accept rollbacks executed"})
	AcceptLatency      = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "wheels", Name: "accept_latency_seconds", Help: "Accept latency seconds"})

	TripTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "wheels", Name: "trip_transitions_total", Help: "Trip lifecycle transitions"},
		[]string{"transition"},
	)
	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "wheels", Name: "reconcile_total", Help: "Client reconciliations by resolved screen and source"},
		[]string{"screen", "source"},
	)
	RatingsTotal          = promauto.NewCounter(prometheus.CounterOpts{Namespace: "wheels", Name: "ratings_total", Help: "Ratings appended to the ledger"})
	ProviderFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "wheels", Name: "compatibility_failures_total", Help: "Compatibility provider calls that failed"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "wheels", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wheels",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
