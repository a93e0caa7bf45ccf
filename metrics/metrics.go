// Package metrics holds the prometheus collectors shared by the ocean server,
// client and session manager. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ocean"

type Metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	sessionsEvicted  prometheus.Counter
	packetsHandled   *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	framesDropped    *prometheus.CounterVec
	pendingRequests  prometheus.Gauge
	responses        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves them
// unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of live server sessions",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Total number of server sessions created",
		}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "evicted_total",
			Help:      "Total number of sessions evicted by the idle sweep",
		}),
		packetsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "packets_total",
			Help:      "Total number of dispatched packets by type and outcome",
		}, []string{"type", "success"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Packet dispatch duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"type"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_dropped_total",
			Help:      "Total number of frames that could not be decoded or encoded",
		}, []string{"reason"}),
		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "pending_requests",
			Help:      "Number of client requests awaiting a response",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "responses_total",
			Help:      "Total number of responses received by the client by outcome",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.sessionsActive,
		m.sessionsTotal,
		m.sessionsEvicted,
		m.packetsHandled,
		m.dispatchDuration,
		m.framesDropped,
		m.pendingRequests,
		m.responses,
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed(evicted bool) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	if evicted {
		m.sessionsEvicted.Inc()
	}
}

func (m *Metrics) PacketDispatched(typeID string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "false"
	if success {
		outcome = "true"
	}
	m.packetsHandled.WithLabelValues(typeID, outcome).Inc()
	m.dispatchDuration.WithLabelValues(typeID).Observe(elapsed.Seconds())
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) PendingAdded() {
	if m == nil {
		return
	}
	m.pendingRequests.Inc()
}

func (m *Metrics) PendingSettled(outcome string) {
	if m == nil {
		return
	}
	m.pendingRequests.Dec()
	m.responses.WithLabelValues(outcome).Inc()
}

// ResponseDiscarded counts a response that matched no pending request.
func (m *Metrics) ResponseDiscarded() {
	if m == nil {
		return
	}
	m.responses.WithLabelValues("discarded").Inc()
}
