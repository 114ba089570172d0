// Package metrics provides observability for the contact module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks resolution outcomes and critical path durations.
type Metrics struct {
	IdentifyTotal    *prometheus.CounterVec
	IdentifyErrors   prometheus.Counter
	IdentifyDuration prometheus.Histogram
	MergesTotal      prometheus.Counter
	ViewCacheHits    prometheus.Counter
	ViewCacheMisses  prometheus.Counter
}

// New creates a Metrics instance with all contact module metrics registered.
func New() *Metrics {
	return &Metrics{
		IdentifyTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "contactlink_identify_total",
			Help: "Total identify submissions by resolution outcome",
		}, []string{"outcome"}),
		IdentifyErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "contactlink_identify_errors_total",
			Help: "Total identify submissions that failed",
		}),
		IdentifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "contactlink_identify_duration_seconds",
			Help:    "Duration of identify operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		MergesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "contactlink_cluster_merges_total",
			Help: "Total cluster merges performed",
		}),
		ViewCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "contactlink_view_cache_hits_total",
			Help: "Cluster view cache hits",
		}),
		ViewCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "contactlink_view_cache_misses_total",
			Help: "Cluster view cache misses",
		}),
	}
}

// IncrementIdentify records a resolved submission by outcome.
func (m *Metrics) IncrementIdentify(outcome string) {
	m.IdentifyTotal.WithLabelValues(outcome).Inc()
}

// IncrementIdentifyError records a failed submission.
func (m *Metrics) IncrementIdentifyError() {
	m.IdentifyErrors.Inc()
}

// ObserveIdentify records the duration of an identify operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveIdentify(start time.Time) {
	m.IdentifyDuration.Observe(time.Since(start).Seconds())
}

// IncrementMerges records a cluster merge.
func (m *Metrics) IncrementMerges() {
	m.MergesTotal.Inc()
}

// IncrementCacheHit records a cluster view served from cache.
func (m *Metrics) IncrementCacheHit() {
	m.ViewCacheHits.Inc()
}

// IncrementCacheMiss records a cluster view rebuilt from the store.
func (m *Metrics) IncrementCacheMiss() {
	m.ViewCacheMisses.Inc()
}
