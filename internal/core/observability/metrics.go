// Package observability holds the process-wide Prometheus collectors.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "op"},
	)

	upstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Failed upstream calls by operation.",
		},
		[]string{"upstream", "op"},
	)

	collectionQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summary_collection_queries_total",
			Help: "Per-collection count queries issued by the summary engine.",
		},
		[]string{"family", "outcome"},
	)

	summaryDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summary_degraded_total",
			Help: "Summaries returned as all-zero.",
		},
		[]string{"reason"},
	)

	summaryDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "summary_duration_seconds",
			Help:    "Wall time of a full summary aggregation.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	catalogCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_results_total",
			Help: "Collection-list cache results by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOpTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache backend operations by result.",
		},
		[]string{"op", "result"},
	)

	redisOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_breaker_transitions_total",
			Help: "Circuit breaker state changes per upstream host.",
		},
		[]string{"name", "to"},
	)

	summaryEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "summary_events_dropped_total",
			Help: "Summary events dropped because the publish queue was full or closed.",
		},
	)

	kafkaConsumerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Catalog change consumer errors by kind.",
		},
		[]string{"kind"},
	)

	invalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_invalidations_total",
			Help: "Catalog change events applied to the listing cache.",
		},
		[]string{"op", "result"},
	)

	invalidationDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_invalidation_duration_seconds",
			Help:    "Time to apply one catalog change event.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream, op string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, op).Observe(durationSeconds)
}

func IncUpstreamError(upstream, op string) {
	upstreamErrorsTotal.WithLabelValues(upstream, op).Inc()
}

// ObserveCollectionQuery records one per-collection count; outcome is ok|error.
func ObserveCollectionQuery(family string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	collectionQueries.WithLabelValues(family, outcome).Inc()
}

func IncSummaryDegraded(reason string) {
	summaryDegraded.WithLabelValues(reason).Inc()
}

func ObserveSummaryDuration(seconds float64) {
	summaryDurationSeconds.Observe(seconds)
}

func IncCatalogCache(outcome string) {
	catalogCacheResults.WithLabelValues(outcome).Inc()
}

func ObserveCacheOp(op string, err error, seconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	cacheOpTotal.WithLabelValues(op, res).Inc()
	redisOpDurationSeconds.WithLabelValues(op).Observe(seconds)
}

func IncBreakerTransition(name, to string) {
	breakerTransitions.WithLabelValues(name, to).Inc()
}

func IncSummaryEventDropped() {
	summaryEventsDropped.Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func ObserveInvalidation(op string, err error, seconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	invalidations.WithLabelValues(op, res).Inc()
	invalidationDurationSeconds.Observe(seconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
