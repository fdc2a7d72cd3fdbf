package device

import "github.com/prometheus/client_golang/prometheus"

// utilizationMetrics holds the Prometheus gauges published by
// UtilizationMonitor, in the same per-dimension gauge style as the
// teacher's client/doublezerod/internal/manager/metrics.go and
// controlplane/agent/internal/agent/metrics.go.
type utilizationMetrics struct {
	total     prometheus.Gauge
	perDevice *prometheus.GaugeVec
}

func newUtilizationMetrics() *utilizationMetrics {
	return &utilizationMetrics{
		total: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "schedulerd",
			Subsystem: "device",
			Name:      "utilization_percent",
			Help:      "Allocated time as a percentage of the fleet's allocated plus available time within the trailing 24h window.",
		}),
		perDevice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "schedulerd",
			Subsystem: "device",
			Name:      "utilization_percent_by_serial",
			Help:      "Allocated time as a percentage of a device's allocated plus available time within the trailing 24h window.",
		}, []string{"serial"}),
	}
}

// Collectors returns the Prometheus collectors this monitor publishes, for
// registration with a prometheus.Registerer.
func (m *UtilizationMonitor) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.metrics.total, m.metrics.perDevice}
}
