// Package metrics exposes Prometheus collectors for the query and ingestion paths.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the process-wide collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	QueriesTotal       *prometheus.CounterVec
	QueryStageFailures *prometheus.CounterVec
	QueryDuration      *prometheus.HistogramVec
	FragmentsSearched  prometheus.Histogram

	IngestedFilesTotal *prometheus.CounterVec
	IngestDuration     prometheus.Histogram

	IndexDocuments prometheus.Gauge
	IndexFragments prometheus.Gauge
}

// NewMetrics creates and registers the collectors once per process.
//
// Metrics:
//   - shiori_queries_total{status} - queries by outcome ("ok" or "error")
//   - shiori_query_stage_failures_total{stage} - failed queries by stage
//   - shiori_query_duration_seconds{stage} - embed, search and total latency
//   - shiori_query_fragments_searched - index size seen by each query
//   - shiori_ingested_files_total{result} - files indexed, skipped or failed
//   - shiori_ingest_file_duration_seconds - per-file ingestion latency
//   - shiori_index_documents, shiori_index_fragments - current index size
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			QueriesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shiori_queries_total",
					Help: "Total number of retrieval queries",
				},
				[]string{"status"},
			),
			QueryStageFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shiori_query_stage_failures_total",
					Help: "Total number of failed queries by pipeline stage",
				},
				[]string{"stage"},
			),
			QueryDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "shiori_query_duration_seconds",
					Help:    "Query latency by pipeline stage in seconds",
					Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
				},
				[]string{"stage"},
			),
			FragmentsSearched: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "shiori_query_fragments_searched",
					Help:    "Number of fragments in the index at query time",
					Buckets: prometheus.ExponentialBuckets(16, 4, 10),
				},
			),
			IngestedFilesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shiori_ingested_files_total",
					Help: "Total number of files processed by ingestion",
				},
				[]string{"result"},
			),
			IngestDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "shiori_ingest_file_duration_seconds",
					Help:    "Per-file ingestion latency in seconds",
					Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
				},
			),
			IndexDocuments: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "shiori_index_documents",
					Help: "Current number of indexed documents",
				},
			),
			IndexFragments: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "shiori_index_fragments",
					Help: "Current number of indexed fragments",
				},
			),
		}
	})
	return globalMetrics
}

// QueryStages are the latencies recorded for one successful query.
type QueryStages struct {
	Embed             time.Duration
	Search            time.Duration
	Total             time.Duration
	FragmentsSearched int
}

// ObserveQuery records a successful query.
func (m *Metrics) ObserveQuery(s QueryStages) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues("ok").Inc()
	m.QueryDuration.WithLabelValues("embed").Observe(s.Embed.Seconds())
	m.QueryDuration.WithLabelValues("search").Observe(s.Search.Seconds())
	m.QueryDuration.WithLabelValues("total").Observe(s.Total.Seconds())
	m.FragmentsSearched.Observe(float64(s.FragmentsSearched))
}

// QueryFailed records a query that failed in stage.
func (m *Metrics) QueryFailed(stage string) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues("error").Inc()
	m.QueryStageFailures.WithLabelValues(stage).Inc()
}

// FileIngested records one file outcome: "indexed", "skipped" or "failed".
func (m *Metrics) FileIngested(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.IngestedFilesTotal.WithLabelValues(result).Inc()
	m.IngestDuration.Observe(took.Seconds())
}

// SetIndexSize updates the index size gauges.
func (m *Metrics) SetIndexSize(documents, fragments int) {
	if m == nil {
		return
	}
	m.IndexDocuments.Set(float64(documents))
	m.IndexFragments.Set(float64(fragments))
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
