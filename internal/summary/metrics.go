package summary

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricSaves = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "summary_saves_total",
	Help: "Meeting summaries written by outcome",
}, []string{"status"})
