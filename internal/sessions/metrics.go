package sessions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "Live meeting sessions",
	})

	metricReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_reaped_total",
		Help: "Sessions closed for inactivity",
	})
)
