package correlation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pushEventCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuse_composite_push_event_total",
		Help: "Derived events published to the event bus, by status.",
	}, []string{"status"})

	pushActionCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuse_composite_push_action_total",
		Help: "Action signals pushed to the dispatch queue.",
	}, []string{"signal", "is_qos", "status"})

	qosBlockedCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuse_composite_qos_blocked_total",
		Help: "Actions suppressed by the QoS counter, by signal.",
	}, []string{"signal"})

	lockContendedCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuse_composite_lock_contended_total",
		Help: "Lock acquisitions that exhausted their wait budget.",
	}, []string{"scope"})

	processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fuse_composite_process_seconds",
		Help:    "Wall time of one alert processing cycle.",
		Buckets: prometheus.DefBuckets,
	})
)
