package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scanRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_scanner_runs_total",
		Help: "Discovery passes by outcome",
	}, []string{"outcome"})

	discoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_scanner_discoveries_total",
		Help: "Placeholder writes by kind: discovered, updated or reset",
	}, []string{"kind"})

	prunedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avatar_scanner_pruned_records_total",
		Help: "Cache records removed by retention cleanup",
	})

	prunedBlobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avatar_scanner_pruned_blobs_total",
		Help: "Blobs removed by retention cleanup and the orphan sweep",
	})
)
