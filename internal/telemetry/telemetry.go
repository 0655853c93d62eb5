// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

// Package telemetry is the crawl engine's Prometheus instrumentation:
// counters and histograms for nodes visited, cache effectiveness,
// provider call latency, and circuit breaker state, registered with the
// default Prometheus registry through promauto. The package does not
// serve or dump them itself.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NodesCrawled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshspider_nodes_crawled_total",
			Help: "Total number of nodes whose downstream peers were enumerated",
		},
		[]string{"protocol"},
	)

	NodesExcluded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshspider_nodes_excluded_total",
			Help: "Total number of discovered nodes dropped by policy before rendering",
		},
		[]string{"reason"}, // "provider_disabled", "nonblocking_grandchild"
	)

	NameCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshspider_name_cache_hits_total",
			Help: "Total number of address name lookups served from cache",
		},
	)

	NameCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshspider_name_cache_misses_total",
			Help: "Total number of address name lookups that reached a provider",
		},
	)

	ChildCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshspider_child_cache_hits_total",
			Help: "Total number of downstream expansions served from the child cache",
		},
	)

	ChildCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshspider_child_cache_misses_total",
			Help: "Total number of downstream expansions that reached a provider",
		},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meshspider_provider_call_duration_seconds",
			Help:    "Duration of a single provider call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"}, // method: open_connection, lookup_name, crawl_downstream, take_a_hint
	)

	ProviderCallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshspider_provider_call_errors_total",
			Help: "Total number of provider calls that returned an error",
		},
		[]string{"provider", "method"},
	)

	ProviderTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshspider_provider_timeouts_total",
			Help: "Total number of provider calls that timed out",
		},
		[]string{"provider", "method"},
	)

	CyclesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshspider_cycles_detected_total",
			Help: "Total number of nodes flagged with a CYCLE warning",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshspider_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	CrawlDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meshspider_crawl_duration_seconds",
			Help:    "Duration of a full crawl run from seeds to completion",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	CrawlErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshspider_crawl_errors_total",
			Help: "Total number of crawl runs that aborted with a fatal error",
		},
		[]string{"stage"}, // open_connection, lookup_name, find_children
	)
)

// RecordProviderCall records the outcome and latency of a single
// provider method call.
func RecordProviderCall(providerRef, method string, duration time.Duration, err error, timedOut bool) {
	ProviderCallDuration.WithLabelValues(providerRef, method).Observe(duration.Seconds())
	if timedOut {
		ProviderTimeouts.WithLabelValues(providerRef, method).Inc()
		return
	}
	if err != nil {
		ProviderCallErrors.WithLabelValues(providerRef, method).Inc()
	}
}

// RecordNameCacheLookup records whether an address's name came from cache.
func RecordNameCacheLookup(hit bool) {
	if hit {
		NameCacheHits.Inc()
		return
	}
	NameCacheMisses.Inc()
}

// RecordChildCacheLookup records whether a service's children came from cache.
func RecordChildCacheLookup(hit bool) {
	if hit {
		ChildCacheHits.Inc()
		return
	}
	ChildCacheMisses.Inc()
}

// RecordNodeCrawled records that a node's downstream peers were enumerated.
func RecordNodeCrawled(protocolRef string) {
	NodesCrawled.WithLabelValues(protocolRef).Inc()
}

// RecordNodeExcluded records a node dropped from the rendered graph by policy.
func RecordNodeExcluded(reason string) {
	NodesExcluded.WithLabelValues(reason).Inc()
}

// RecordCycleDetected records a node flagged with a CYCLE warning.
func RecordCycleDetected() {
	CyclesDetected.Inc()
}

// RecordCrawlError records a fatal crawl abort at the given stage.
func RecordCrawlError(stage string) {
	CrawlErrors.WithLabelValues(stage).Inc()
}

// SetCircuitBreakerState mirrors a gobreaker.State onto the gauge; states
// are encoded the way gobreaker itself orders them: 0=closed, 1=half-open,
// 2=open.
func SetCircuitBreakerState(providerRef string, state int) {
	CircuitBreakerState.WithLabelValues(providerRef).Set(float64(state))
}
