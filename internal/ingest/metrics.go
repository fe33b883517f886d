package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	comparisonsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecorr_comparisons_total",
			Help: "Comparison requests by terminal state",
		},
		[]string{"state"},
	)

	comparisonDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filecorr_comparison_duration_seconds",
			Help:    "Time from receipt to terminal state",
			Buckets: prometheus.DefBuckets,
		},
	)

	persistenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecorr_persistence_failures_total",
			Help: "Comparisons whose observation could not be persisted",
		},
	)

	importedFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecorr_imported_files_total",
			Help: "Files processed by bulk import by outcome",
		},
		[]string{"outcome"}, // created, merged, skipped, failed
	)
)
