package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weft_dispatch_requests_total",
		Help: "Dispatched requests, by route.",
	}, []string{"route"})

	actionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weft_dispatch_action_failures_total",
		Help: "Actions that surfaced an error, by route.",
	}, []string{"route"})
)
