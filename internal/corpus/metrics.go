package corpus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	corpusRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filecorr_corpus_records",
			Help: "Number of records in the published corpus snapshot",
		},
	)

	corpusWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecorr_corpus_writes_total",
			Help: "Corpus writes by outcome",
		},
		[]string{"outcome"}, // created, merged, failed
	)

	corpusConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecorr_corpus_write_conflicts_total",
			Help: "Storage lock conflicts retried by the corpus store",
		},
	)

	corpusMalformedDigests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecorr_corpus_malformed_digests_total",
			Help: "Stored approximate digests dropped at load because they could not be parsed",
		},
	)
)
