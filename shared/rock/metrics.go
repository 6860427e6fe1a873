package rock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by every rock.Conn and
// rock.Server in a process. client_golang is declared but never wired up
// by the teacher repo; this is its first real use.
type Metrics struct {
	FramesSent       prometheus.Counter
	FramesReceived   prometheus.Counter
	ConnectFailures  prometheus.Counter
	InFlightRequests prometheus.Gauge
	RequestDuration  prometheus.Histogram
}

// NewMetrics registers the Rock transport's collectors against reg. Pass
// prometheus.DefaultRegisterer unless a process wants an isolated registry
// (as in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "rock_frames_sent_total",
			Help: "Total Rock frames written to the wire.",
		}),
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "rock_frames_received_total",
			Help: "Total Rock frames read from the wire.",
		}),
		ConnectFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rock_connect_failures_total",
			Help: "Total failed outbound Rock dial attempts.",
		}),
		InFlightRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rock_inflight_requests",
			Help: "Number of Rock requests awaiting a response.",
		}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rock_request_duration_seconds",
			Help:    "Rock request round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
