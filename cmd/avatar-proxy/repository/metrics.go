package repository

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	memoryHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avatar_record_memory_hits_total",
		Help: "Cache record reads served from the in-process LRU",
	})
	memoryMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avatar_record_memory_misses_total",
		Help: "Cache record reads that fell through to Redis",
	})
	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_store_errors_total",
		Help: "Swallowed storage-layer failures by operation",
	}, []string{"op"})
)
