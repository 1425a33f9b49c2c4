package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// relayLookups counts relay queries by operation and outcome
var relayLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "avatar_relay_lookups_total",
		Help: "Relay profile lookups by operation and outcome",
	},
	[]string{"op", "outcome"},
)
