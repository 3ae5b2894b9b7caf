package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	broadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weft_bus_broadcasts_total",
		Help: "Broadcast frames sent, by channel.",
	}, []string{"channel"})

	bridgeTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weft_bus_bridge_timeouts_total",
		Help: "Awaitable bridge calls that timed out.",
	})
)
