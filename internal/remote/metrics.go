package remote

import "github.com/prometheus/client_golang/prometheus"

// managerMetrics mirrors the per-dimension gauge/counter style of the
// teacher's manager metrics (client/doublezerod/internal/manager/metrics.go).
type managerMetrics struct {
	sessionsActive prometheus.Gauge
	requestsTotal  *prometheus.CounterVec
	bindRetries    prometheus.Counter
	devicesTracked prometheus.Gauge
}

func newManagerMetrics() *managerMetrics {
	return &managerMetrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "schedulerd",
			Subsystem: "remote",
			Name:      "sessions_active",
			Help:      "1 if a remote-manager client session is currently connected, else 0.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedulerd",
			Subsystem: "remote",
			Name:      "requests_total",
			Help:      "Number of remote-manager requests processed, by operation and outcome.",
		}, []string{"op", "outcome"}),
		bindRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "schedulerd",
			Subsystem: "remote",
			Name:      "bind_retries_total",
			Help:      "Number of port-bind retries performed during auto-handover.",
		}),
		devicesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "schedulerd",
			Subsystem: "remote",
			Name:      "devices_tracked",
			Help:      "Number of devices currently held by this process on behalf of a remote peer.",
		}),
	}
}

// Collectors returns every collector Manager publishes.
func (m *Manager) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.metrics.sessionsActive,
		m.metrics.requestsTotal,
		m.metrics.bindRetries,
		m.metrics.devicesTracked,
	}
}
