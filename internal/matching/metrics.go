package matching

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueJoinsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaking_queue_joins_total",
			Help: "Total number of queue joins",
		},
	)

	matchesCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaking_matches_committed_total",
			Help: "Total number of matches committed",
		},
	)

	commitConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaking_commit_conflicts_total",
			Help: "Commit attempts that lost to a concurrent change",
		},
		[]string{"reason"},
	)

	rollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaking_rollbacks_total",
			Help: "Committed matches rolled back because the session could not be created",
		},
	)

	candidateScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matchmaking_candidate_score",
			Help:    "Distribution of candidate cosine distances",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	searchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "matchmaking_search_duration_seconds",
			Help: "Time spent finding candidates",
		},
	)
)

func RecordJoin() {
	queueJoinsTotal.Inc()
}

func RecordMatch() {
	matchesCommitted.Inc()
}

func RecordConflict(reason string) {
	commitConflicts.WithLabelValues(reason).Inc()
}

func RecordRollback() {
	rollbacksTotal.Inc()
}
