package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fetchesTotal counts origin downloads by outcome ("ok" or error kind)
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatar_fetches_total",
			Help: "Origin image downloads by outcome",
		},
		[]string{"outcome"},
	)

	fetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "avatar_fetch_duration_seconds",
			Help:    "Duration of successful origin downloads",
			Buckets: prometheus.DefBuckets,
		},
	)
)
