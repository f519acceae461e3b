package clientws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clientws_connections",
		Help: "Currently connected browser clients",
	})

	metricSendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clientws_send_errors_total",
		Help: "Failed writes to a client socket",
	})

	metricPlaybacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clientws_playbacks_total",
		Help: "Synthesized clips delivered to a client",
	})

	metricInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clientws_invalid_messages_total",
		Help: "Client messages that could not be decoded",
	})
)
