// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bearer_gate"

// Auth outcome label values.
const (
	OutcomeOK        = "ok"
	OutcomeMissing   = "missing_header"
	OutcomeMalformed = "malformed_header"
	OutcomeInvalid   = "invalid"
	OutcomeExpired   = "expired"
	OutcomeRevoked   = "revoked"
)

// Metrics groups the application's collectors.
type Metrics struct {
	AuthRequests *prometheus.CounterVec
	UsageDropped prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests
// to avoid duplicate registration on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AuthRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_requests_total",
			Help:      "Bearer authentication attempts by outcome.",
		}, []string{"outcome"}),
		UsageDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_updates_dropped_total",
			Help:      "Usage updates discarded because the queue was full.",
		}),
	}
}

// ObserveAuth counts one authentication attempt. Safe on a nil receiver.
func (m *Metrics) ObserveAuth(outcome string) {
	if m == nil {
		return
	}
	m.AuthRequests.WithLabelValues(outcome).Inc()
}

// ObserveUsageDropped counts one discarded usage update. Safe on a nil receiver.
func (m *Metrics) ObserveUsageDropped() {
	if m == nil {
		return
	}
	m.UsageDropped.Inc()
}
