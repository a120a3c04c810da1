// Package metrics exposes per-node Prometheus collectors for the tick loop
// and its links.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors shared by every node of a process. Each
// series carries a "node" label.
type Metrics struct {
	// Ticks counts ticks by event type.
	Ticks *prometheus.CounterVec
	// Clock is the current logical clock value.
	Clock *prometheus.GaugeVec
	// QueueDepth is the inbox length after the latest tick.
	QueueDepth *prometheus.GaugeVec
	// MessagesSent counts data messages written, by link role.
	MessagesSent *prometheus.CounterVec
	// MessagesReceived counts data messages enqueued, by link role.
	MessagesReceived *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lamport_ticks_total",
			Help: "Ticks executed, by event type",
		}, []string{"node", "event"}),

		Clock: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lamport_logical_clock",
			Help: "Current logical clock value",
		}, []string{"node"}),

		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lamport_queue_depth",
			Help: "Inbound queue length after the latest tick",
		}, []string{"node"}),

		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lamport_messages_sent_total",
			Help: "Clock values sent, by link role",
		}, []string{"node", "link"}),

		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lamport_messages_received_total",
			Help: "Clock values received and enqueued, by link role",
		}, []string{"node", "link"}),
	}
}
