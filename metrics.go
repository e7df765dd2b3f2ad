package geyserstream

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "geyserstream"

// Keepalive ping kinds
const (
	PingReply = "reply"
	PingIdle  = "idle"
)

// Metrics tracks session and pipeline health. A nil *Metrics is valid and records nothing.
type Metrics struct {
	framesReceived *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	recordsDropped prometheus.Counter
	pingsSent      *prometheus.CounterVec
	pongsReceived  prometheus.Counter
	connects       *prometheus.CounterVec
	sessionState   prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the provided registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames by kind",
		}, []string{"kind"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decode_errors_total",
			Help:      "Frames skipped because they could not be decoded, by kind",
		}, []string{"kind"}),
		recordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_dropped_total",
			Help:      "Records dropped because the hand-off queue was full",
		}),
		pingsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pings_sent_total",
			Help:      "Keepalive pings sent, by kind (reply, idle)",
		}, []string{"kind"}),
		pongsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pongs_received_total",
			Help:      "Pongs received for client pings",
		}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connect_attempts_total",
			Help:      "Stream open attempts by status",
		}, []string{"status"}),
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "supervisor_state",
			Help:      "Supervisor state (0 idle, 1 connecting, 2 streaming, 3 terminated)",
		}),
	}

	collectors := []prometheus.Collector{
		m.framesReceived,
		m.decodeErrors,
		m.recordsDropped,
		m.pingsSent,
		m.pongsReceived,
		m.connects,
		m.sessionState,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) frameReceived(kind string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) decodeError(kind string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) recordDropped() {
	if m == nil {
		return
	}
	m.recordsDropped.Inc()
}

func (m *Metrics) pingSent(kind string) {
	if m == nil {
		return
	}
	m.pingsSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) pongReceived() {
	if m == nil {
		return
	}
	m.pongsReceived.Inc()
}

func (m *Metrics) connectAttempt(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.connects.WithLabelValues(status).Inc()
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.sessionState.Set(float64(s))
}
