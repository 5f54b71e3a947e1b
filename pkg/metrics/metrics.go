// Package metrics defines the Prometheus metric collectors for the query
// engine and exposes an HTTP handler for scraping.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	QueriesTotal         *prometheus.CounterVec
	QueryLatency         *prometheus.HistogramVec
	QueryResultsCount    prometheus.Histogram
	EarlyTerminatedTotal prometheus.Counter
	PostingsScoredTotal  prometheus.Counter
	PostingsSkippedTotal prometheus.Counter
	BlocksReadTotal      *prometheus.CounterVec
	BlocksSkippedTotal   prometheus.Counter
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	ResultCacheHitsTotal prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_queries_total",
				Help: "Total queries by algorithm and outcome (ok, empty, error).",
			},
			[]string{"algorithm", "outcome"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strata_query_latency_seconds",
				Help:    "Query latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"algorithm"},
		),
		QueryResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "strata_query_results_count",
				Help:    "Number of results returned per query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		EarlyTerminatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "strata_early_terminated_queries_total",
				Help: "Queries answered from upper layers without a fallback pass.",
			},
		),
		PostingsScoredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "strata_postings_scored_total",
				Help: "Postings whose BM25 contribution was computed.",
			},
		),
		PostingsSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "strata_postings_skipped_total",
				Help: "Postings skipped by score-bound or pivot tests.",
			},
		),
		BlocksReadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_blocks_read_total",
				Help: "Index blocks read, by source (cache, disk).",
			},
			[]string{"source"},
		),
		BlocksSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "strata_blocks_skipped_total",
				Help: "Index blocks skipped via the in-memory block index.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "strata_block_cache_hits_total", Help: "Block cache hits."},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "strata_block_cache_misses_total", Help: "Block cache misses."},
		),
		ResultCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "strata_result_cache_hits_total", Help: "Query result cache hits."},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.QueriesTotal, m.QueryLatency, m.QueryResultsCount,
		m.EarlyTerminatedTotal, m.PostingsScoredTotal, m.PostingsSkippedTotal,
		m.BlocksReadTotal, m.BlocksSkippedTotal,
		m.CacheHitsTotal, m.CacheMissesTotal, m.ResultCacheHitsTotal,
	)
	return m
}

// Handler returns the scrape handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts a scrape server on the given port in a background goroutine.
func (m *Metrics) Serve(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
