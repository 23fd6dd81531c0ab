package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts sweeper outcomes. A nil *Metrics is valid and counts
// nothing, which keeps unit tests free of registry wiring.
type Metrics struct {
	Revocations    prometheus.Counter
	Warnings       prometheus.Counter
	DriftAlerts    prometheus.Counter
	PlatformErrors prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Revocations: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_revocations_total",
			Help: "Members revoked after their subscription window elapsed.",
		}),
		Warnings: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_expiry_warnings_total",
			Help: "Near-expiry warnings sent to members.",
		}),
		DriftAlerts: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_drift_alerts_total",
			Help: "Channel members found present without authorization.",
		}),
		PlatformErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_platform_errors_total",
			Help: "Failed chat-platform calls during sweeps.",
		}),
	}
}

func (m *Metrics) inc(c prometheus.Counter) {
	if m != nil && c != nil {
		c.Inc()
	}
}
