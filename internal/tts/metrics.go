package tts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSynthesis = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_synthesis_total",
		Help: "Total TTS synthesis jobs by outcome (ok, error, superseded, canceled)",
	}, []string{"status"})

	metricProviderLatencyMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_provider_latency_ms",
		Help:    "Latency of the synthesis provider call",
		Buckets: prometheus.ExponentialBuckets(20, 1.6, 12),
	})
)
