// Package metrics holds the prometheus collectors shared by the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics prometheus collectors. A nil *Metrics is valid and records nothing,
// so components can be constructed without instrumentation in tests.
type Metrics struct {
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	CacheErrorsTotal   *prometheus.CounterVec
	PostsFilteredTotal *prometheus.CounterVec
	CleanRemovedTotal  prometheus.Counter
	AnnotationFailures *prometheus.CounterVec
	QueriesTotal       *prometheus.CounterVec
	QueryDuration      prometheus.Histogram
	FetchedPostsTotal  prometheus.Counter
}

// New creates the collectors and registers them with reg. Pass
// prometheus.NewRegistry() in tests to avoid duplicate registration.
//
// Metrics:
//   - mindpulse_cache_hits_total / mindpulse_cache_misses_total
//   - mindpulse_cache_errors_total{op}
//   - mindpulse_posts_filtered_total{stage,reason}
//   - mindpulse_clean_removed_total
//   - mindpulse_annotation_failures_total{kind}
//   - mindpulse_queries_total{outcome}
//   - mindpulse_query_duration_seconds
//   - mindpulse_fetched_posts_total
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mindpulse_cache_hits_total",
			Help: "Queries answered from the cache",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mindpulse_cache_misses_total",
			Help: "Queries that required a fresh fetch",
		}),
		CacheErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mindpulse_cache_errors_total",
			Help: "Unreadable or unwritable cache entries",
		}, []string{"op"}),
		PostsFilteredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mindpulse_posts_filtered_total",
			Help: "Posts classified as moderator noise",
		}, []string{"stage", "reason"}),
		CleanRemovedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mindpulse_clean_removed_total",
			Help: "Posts removed from stored cache entries by clean passes",
		}),
		AnnotationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mindpulse_annotation_failures_total",
			Help: "Per-post annotation calls that degraded to a placeholder",
		}, []string{"kind"}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mindpulse_queries_total",
			Help: "Queries by terminal outcome",
		}, []string{"outcome"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mindpulse_query_duration_seconds",
			Help:    "End to end query latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		FetchedPostsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mindpulse_fetched_posts_total",
			Help: "Posts returned by the post source",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.CacheErrorsTotal,
			m.PostsFilteredTotal,
			m.CleanRemovedTotal,
			m.AnnotationFailures,
			m.QueriesTotal,
			m.QueryDuration,
			m.FetchedPostsTotal,
		)
	}
	return m
}

// CacheHit records a cache hit.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// CacheMiss records a cache miss.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// CacheError records a failed cache operation.
func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(op).Inc()
}

// Filtered records posts dropped at a pipeline stage, by reason.
func (m *Metrics) Filtered(stage string, removed map[string]int) {
	if m == nil {
		return
	}
	for reason, n := range removed {
		m.PostsFilteredTotal.WithLabelValues(stage, reason).Add(float64(n))
	}
}

// Cleaned records posts removed by a clean pass.
func (m *Metrics) Cleaned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CleanRemovedTotal.Add(float64(n))
}

// AnnotationFailure records a degraded annotation of the given kind (sentiment, insight).
func (m *Metrics) AnnotationFailure(kind string) {
	if m == nil {
		return
	}
	m.AnnotationFailures.WithLabelValues(kind).Inc()
}

// Fetched records posts returned by the source.
func (m *Metrics) Fetched(n int) {
	if m == nil {
		return
	}
	m.FetchedPostsTotal.Add(float64(n))
}

// QueryDone records the outcome and latency of one query.
func (m *Metrics) QueryDone(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(outcome).Inc()
	m.QueryDuration.Observe(d.Seconds())
}
