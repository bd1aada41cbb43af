package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchproxy_requests_total",
			Help: "Total proxied requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchproxy_cache_lookups_total",
			Help: "Cache lookups by result (hit or miss)",
		},
		[]string{"result"},
	)

	upstreamAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchproxy_upstream_attempts_total",
			Help: "Upstream host attempts by host and outcome",
		},
		[]string{"host", "outcome"},
	)

	upstreamDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "searchproxy_upstream_duration_seconds",
			Help:    "Wall time of the upstream dispatch including failover",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var initOnce sync.Once

// Init registers all collectors. Must be called once at startup.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(requestsTotal, cacheLookups, upstreamAttempts, upstreamDuration)
	})
}

// RecordRequest counts one finished request.
func RecordRequest(route, method string, status int) {
	requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// RecordCacheLookup counts one cache lookup outcome.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordUpstreamAttempt counts one host attempt.
func RecordUpstreamAttempt(host, outcome string) {
	upstreamAttempts.WithLabelValues(host, outcome).Inc()
}

// ObserveUpstreamDuration records the total dispatch time for one request.
func ObserveUpstreamDuration(d time.Duration) {
	upstreamDuration.Observe(d.Seconds())
}
