package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheResults counts resolutions by outcome: HIT, MISS, REVALIDATED or error
	cacheResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_cache_results_total",
		Help: "Avatar resolutions by cache outcome",
	}, []string{"result"})

	refreshFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_refresh_failures_total",
		Help: "Failed refreshes by error kind",
	}, []string{"kind"})
)
