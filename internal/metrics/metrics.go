// Package metrics provides Prometheus metrics for the generation-mix pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "generation_mix"

var (
	// PipelineRunsTotal tracks pipeline runs by outcome (success, failure, skipped)
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	// PipelineRunDuration tracks pipeline run duration in seconds
	PipelineRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// LastLoadedID is the highest _id known to be stored
	LastLoadedID = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "last_loaded_id",
			Help:      "Highest upstream _id loaded into the store",
		},
	)

	// RecordsFetchedTotal counts raw records pulled from upstream
	RecordsFetchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "records_total",
			Help:      "Total number of raw records fetched from upstream",
		},
	)

	// UpstreamRequestsTotal tracks upstream HTTP requests by status code
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Total number of upstream HTTP requests by status code",
		},
		[]string{"status_code"},
	)

	// UpstreamRequestDuration tracks upstream request duration
	UpstreamRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "request_duration_seconds",
			Help:      "Duration of upstream HTTP requests in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// QualityIssuesTotal counts rows affected by each transform check
	QualityIssuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "issues_total",
			Help:      "Total number of rows affected per data quality check",
		},
		[]string{"check"},
	)

	// RecordsLoadedTotal counts canonical rows upserted
	RecordsLoadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "load",
			Name:      "records_total",
			Help:      "Total number of canonical rows upserted",
		},
	)

	// LoadBatchesTotal counts upsert statements executed
	LoadBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "load",
			Name:      "batches_total",
			Help:      "Total number of upsert batches committed",
		},
	)
)
