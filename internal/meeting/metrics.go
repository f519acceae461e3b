package meeting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMeetings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_lifecycle_total",
		Help: "Meeting lifecycle transitions (started, ended_requested, ended_turn_limit)",
	}, []string{"event"})

	metricReplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_agent_requests_total",
		Help: "Agent reply requests by how the responder was selected",
	}, []string{"selection"})

	metricStaleReplies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meeting_stale_replies_total",
		Help: "Agent replies dropped because the session moved on",
	})
)
