// Package metrics defines the Presence Directory's own Prometheus
// collectors, beyond what shared/rock already covers for the transport.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the presence-domain gauges/counters.
type Metrics struct {
	ActiveBindings     prometheus.Gauge
	HeartbeatsRejected prometheus.Counter
	BindingsSweptTotal prometheus.Counter
}

// New registers the presence metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveBindings: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "im_presence",
			Name:      "active_bindings",
			Help:      "Number of uids currently bound to a gateway.",
		}),
		HeartbeatsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "im_presence",
			Name:      "heartbeats_rejected_total",
			Help:      "Heartbeats rejected due to a gateway_rpc mismatch on an existing binding.",
		}),
		BindingsSweptTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "im_presence",
			Name:      "bindings_swept_total",
			Help:      "Bindings evicted by the periodic TTL sweep.",
		}),
	}
}
