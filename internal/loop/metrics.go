package loop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "client_messages_total",
		Help: "Client messages received by type",
	}, []string{"type"})

	metricFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "client_command_failures_total",
		Help: "Client commands that returned an error",
	}, []string{"type"})
)
