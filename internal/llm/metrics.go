package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_requests_total",
		Help: "Agent reply requests by outcome",
	}, []string{"status"})

	metricLatencyMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llm_request_latency_ms",
		Help:    "Time from request to full agent reply",
		Buckets: prometheus.ExponentialBuckets(50, 1.7, 12),
	})

	metricTTFTMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llm_ttft_ms",
		Help:    "Time from response headers to first streamed token",
		Buckets: prometheus.ExponentialBuckets(10, 1.8, 10),
	})

	metricTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Total tokens reported by the provider",
	})
)
