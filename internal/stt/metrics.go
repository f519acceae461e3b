package stt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCaptures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_captures_total",
		Help: "Total capture runs started",
	})

	metricFinals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_final_segments_total",
		Help: "Final transcript segments committed",
	})

	metricErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stt_errors_total",
		Help: "Capture failures reported to the user by category",
	}, []string{"category"})

	metricAudioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_audio_bytes_total",
		Help: "Total audio bytes enqueued to provider",
	})

	metricDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_drops_total",
		Help: "Total audio frames dropped due to backpressure",
	})

	metricConnectMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stt_connect_ms",
		Help:    "Time to establish provider connection (ms)",
		Buckets: prometheus.ExponentialBuckets(10, 1.8, 10),
	})

	// Event channel drops
	metricEventDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_event_drops_total",
		Help: "Events dropped due to slow consumer (channel backpressure)",
	})
)
