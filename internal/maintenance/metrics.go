package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	retentionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableqa_cache_retention_runs_total",
			Help: "Total number of semantic cache retention runs by status.",
		},
		[]string{"status"},
	)
	cacheEntriesDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tableqa_cache_entries_deleted_total",
			Help: "Total number of semantic cache entries deleted by retention runs.",
		},
	)
	integrityRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableqa_integrity_runs_total",
			Help: "Total number of catalog integrity check runs by status.",
		},
		[]string{"status"},
	)
	integrityMissingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableqa_integrity_missing_total",
			Help: "Catalog entries found without a relational table or row index.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		retentionRunsTotal,
		cacheEntriesDeletedTotal,
		integrityRunsTotal,
		integrityMissingTotal,
	)
}
