package scheduler

import "github.com/prometheus/client_golang/prometheus"

// schedulerMetrics are the Prometheus collectors published by Scheduler,
// in the same per-dimension gauge/counter style as the teacher's
// client/doublezerod/internal/manager/metrics.go.
type schedulerMetrics struct {
	queueDepth        prometheus.Gauge
	invocationsActive prometheus.Gauge
	commandsAdded     prometheus.Counter
	invocationsTotal  *prometheus.CounterVec
}

func newSchedulerMetrics() *schedulerMetrics {
	return &schedulerMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "schedulerd",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Number of ExecutableCommands currently waiting in the priority queue.",
		}),
		invocationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "schedulerd",
			Subsystem: "scheduler",
			Name:      "invocations_active",
			Help:      "Number of invocation threads currently running.",
		}),
		commandsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "schedulerd",
			Subsystem: "scheduler",
			Name:      "commands_added_total",
			Help:      "Number of commands accepted by AddCommand.",
		}),
		invocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedulerd",
			Subsystem: "scheduler",
			Name:      "invocations_total",
			Help:      "Number of invocations completed, by outcome.",
		}, []string{"outcome"}),
	}
}

// Collectors returns every collector Scheduler publishes, for
// registration with a prometheus.Registerer.
func (s *Scheduler) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.metrics.queueDepth,
		s.metrics.invocationsActive,
		s.metrics.commandsAdded,
		s.metrics.invocationsTotal,
	}
}
