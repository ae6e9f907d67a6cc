package files

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconciliation pass labels.
const (
	passCleanStore    = "clean_store"
	passCleanDatabase = "clean_database"
	passCleanOld      = "clean_old"
	passProcessMissed = "process_missed"
)

var (
	filesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filealloc_files_processed_total",
		Help: "Files run through the processing pipeline, by outcome.",
	}, []string{"bucket", "status"})

	reconcileRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filealloc_reconcile_removed_total",
		Help: "Objects or rows removed by reconciliation passes.",
	}, []string{"bucket", "pass"})

	reconcileDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "filealloc_reconcile_duration_seconds",
		Help:    "Duration of reconciliation passes in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"bucket", "pass"})
)
