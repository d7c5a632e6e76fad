package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics are the counters behind /metrics and /api/admin/ws-stats
type Metrics struct {
	ActiveConnections prometheus.Gauge
	Registrations     prometheus.Counter
	MessagesSent      *prometheus.CounterVec // by type
	SendFailures      *prometheus.CounterVec // by reason
	Broadcasts        *prometheus.CounterVec // by type
	InboundMessages   *prometheus.CounterVec // by type
	DroppedFrames     *prometheus.CounterVec // by reason
}

// MetricsSnapshot is the JSON view of the counters
type MetricsSnapshot struct {
	ActiveConnections float64 `json:"activeConnections"`
	Registrations     float64 `json:"registrations"`
	MessagesSent      float64 `json:"messagesSent"`
	SendFailures      float64 `json:"sendFailures"`
	Broadcasts        float64 `json:"broadcasts"`
	InboundMessages   float64 `json:"inboundMessages"`
	DroppedFrames     float64 `json:"droppedFrames"`
}

// NewMetrics creates the collectors and registers them when reg is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loudfits", Subsystem: "ws", Name: "active_connections",
			Help: "Number of open websocket connections.",
		}),
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loudfits", Subsystem: "ws", Name: "registrations_total",
			Help: "Successful register/auth handshakes.",
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loudfits", Subsystem: "ws", Name: "messages_sent_total",
			Help: "Envelopes queued to connections.",
		}, []string{"type"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loudfits", Subsystem: "ws", Name: "send_failures_total",
			Help: "Envelopes that could not be queued.",
		}, []string{"reason"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loudfits", Subsystem: "ws", Name: "broadcasts_total",
			Help: "Fan-outs performed.",
		}, []string{"type"}),
		InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loudfits", Subsystem: "ws", Name: "inbound_messages_total",
			Help: "Envelopes received from clients.",
		}, []string{"type"}),
		DroppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loudfits", Subsystem: "ws", Name: "dropped_frames_total",
			Help: "Inbound frames dropped.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ActiveConnections,
			m.Registrations,
			m.MessagesSent,
			m.SendFailures,
			m.Broadcasts,
			m.InboundMessages,
			m.DroppedFrames,
		)
	}
	return m
}

// Snapshot sums every collector across its labels
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ActiveConnections: sum(m.ActiveConnections),
		Registrations:     sum(m.Registrations),
		MessagesSent:      sum(m.MessagesSent),
		SendFailures:      sum(m.SendFailures),
		Broadcasts:        sum(m.Broadcasts),
		InboundMessages:   sum(m.InboundMessages),
		DroppedFrames:     sum(m.DroppedFrames),
	}
}

func sum(c prometheus.Collector) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		c.Collect(ch)
		close(ch)
	}()

	total := 0.0
	for metric := range ch {
		var out dto.Metric
		if err := metric.Write(&out); err != nil {
			continue
		}
		switch {
		case out.Counter != nil:
			total += out.GetCounter().GetValue()
		case out.Gauge != nil:
			total += out.GetGauge().GetValue()
		}
	}
	return total
}
