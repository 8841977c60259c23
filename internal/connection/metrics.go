package connection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	votesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connection_votes_total",
			Help: "Votes recorded by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connection_transitions_total",
			Help: "Connection lifecycle transitions",
		},
		[]string{"transition"},
	)
)

func RecordVoteOutcome(action Action, outcome VoteOutcome) {
	votesTotal.WithLabelValues(string(action), string(outcome)).Inc()
}

func RecordTransition(transition string) {
	transitionsTotal.WithLabelValues(transition).Inc()
}
