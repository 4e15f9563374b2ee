package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DiscogsRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spindle_discogs_requests_total",
		Help: "Outbound Discogs API calls by endpoint and HTTP status (\"error\" for transport failures).",
	}, []string{"endpoint", "status"})

	DiscogsRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spindle_discogs_request_duration_seconds",
		Help:    "Latency of outbound Discogs API calls.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"endpoint"})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spindle_cache_lookups_total",
		Help: "Result cache lookups by kind (listing, detail) and result (hit, miss).",
	}, []string{"kind", "result"})

	RateLimitDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spindle_ratelimit_decisions_total",
		Help: "Rate limiter decisions: allowed, denied, or fail_open when the store is unreachable.",
	}, []string{"result"})

	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spindle_events_dropped_total",
		Help: "Analytics events that could not be handed to the sink.",
	})
)
