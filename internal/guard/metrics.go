package guard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_rejections_total",
			Help: "Requests rejected by rate limiting or idempotency",
		},
		[]string{"kind", "scope"},
	)
)

func RecordRejection(kind, scope string) {
	rejectionsTotal.WithLabelValues(kind, scope).Inc()
}
