// Package observability holds the prometheus collectors for the executor loop and
// the command scheduler.
//
// Collectors are registered on a caller-supplied Registerer so tests (and
// multiple executors in one process) never collide on the default registry.
// Every method is nil-safe: a nil *Metrics records nothing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cadence"

type Metrics struct {
	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	overruns      prometheus.Counter
	taskFailures  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	liveTrees     prometheus.Gauge
	rejected      prometheus.Counter
}

// NewMetrics builds the collectors and registers them on reg.
// A nil reg leaves them unregistered (useful for throwaway instances).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "cycles_total",
			Help:      "Executor loop cycles completed.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent running all tasks in one cycle (pause excluded).",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .02, .05, .1},
		}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "overruns_total",
			Help:      "Cycles whose task time exceeded the configured period.",
		}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "task_failures_total",
			Help:      "Errors and panics raised by periodic tasks.",
		}, []string{"task"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "transitions_total",
			Help:      "Command runner state transitions.",
		}, []string{"state"}),
		liveTrees: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "live_commands",
			Help:      "Submitted command trees still being stepped.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "rejected_total",
			Help:      "Submissions rejected because a required resource is held by an uninterruptible command.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.cycleDuration, m.overruns, m.taskFailures, m.transitions, m.liveTrees, m.rejected)
	}
	return m
}

func (m *Metrics) ObserveCycle(took, period time.Duration) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(took.Seconds())
	if period > 0 && took > period {
		m.overruns.Inc()
	}
}

func (m *Metrics) TaskFailed(task string) {
	if m == nil {
		return
	}
	m.taskFailures.WithLabelValues(task).Inc()
}

func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) SetLiveCommands(n int) {
	if m == nil {
		return
	}
	m.liveTrees.Set(float64(n))
}

func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}
