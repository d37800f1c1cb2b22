package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "weave"

// Metrics collects executor and VM counters.
type Metrics struct {
	runsCompleted      prometheus.Counter
	runsFailed         *prometheus.CounterVec
	framesYielded      prometheus.Counter
	activitiesReplayed prometheus.Counter
	costDeferrals      prometheus.Counter
	frameDuration      *prometheus.HistogramVec
}

// NewMetrics creates and registers the weave collectors on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		runsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Runs that reached END or were terminated by a node",
		}),
		runsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_failed_total",
			Help:      "Runs that ended with a terminal fault",
		}, []string{"reason"}),
		framesYielded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_yielded_total",
			Help:      "Frames handed back to the backplane for continuation",
		}),
		activitiesReplayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_replayed_total",
			Help:      "Activity calls answered from the activity log",
		}),
		costDeferrals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_deferrals_total",
			Help:      "Node calls deferred by the tick budget",
		}),
		frameDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_duration_seconds",
			Help:      "Wall time spent interpreting one frame window",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RunCompleted() {
	if m == nil {
		return
	}
	m.runsCompleted.Inc()
}

// RunFailed counts a terminal fault. reason is a short stable label such as
// "raise", "node" or "store".
func (m *Metrics) RunFailed(reason string) {
	if m == nil {
		return
	}
	m.runsFailed.WithLabelValues(reason).Inc()
}

func (m *Metrics) FrameYielded() {
	if m == nil {
		return
	}
	m.framesYielded.Inc()
}

func (m *Metrics) ActivityReplayed() {
	if m == nil {
		return
	}
	m.activitiesReplayed.Inc()
}

func (m *Metrics) CostDeferred() {
	if m == nil {
		return
	}
	m.costDeferrals.Inc()
}

// ObserveFrame records how long a window took and how it ended.
func (m *Metrics) ObserveFrame(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.frameDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
