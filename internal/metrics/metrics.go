// Package metrics exposes Prometheus instrumentation for a running
// replica: commits, messages by content kind, and live peer links.
// Entirely optional - every exported method is nil-receiver safe so
// components can carry a *Metrics that may or may not have been wired,
// without littering call sites with nil checks of their own.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/paxoscluster/paxos/internal/protocol"
)

// Metrics holds the Prometheus collectors for one replica process.
type Metrics struct {
	instancesCommitted prometheus.Counter
	messagesSent       *prometheus.CounterVec
	messagesReceived   *prometheus.CounterVec
	liveLinks          prometheus.Gauge
}

// New creates and registers a fresh collector set against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to expose via the default /metrics path.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		instancesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paxos",
			Name:      "instances_committed_total",
			Help:      "Number of Paxos instances that reached Committed on this replica.",
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paxos",
			Name:      "messages_sent_total",
			Help:      "Paxos messages sent, by content kind.",
		}, []string{"kind"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paxos",
			Name:      "messages_received_total",
			Help:      "Paxos messages received, by content kind.",
		}, []string{"kind"}),
		liveLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paxos",
			Name:      "live_links",
			Help:      "Number of peer TCP links currently established.",
		}),
	}
	reg.MustRegister(m.instancesCommitted, m.messagesSent, m.messagesReceived, m.liveLinks)
	return m
}

func (m *Metrics) InstanceCommitted() {
	if m == nil {
		return
	}
	m.instancesCommitted.Inc()
}

func (m *Metrics) MessageSent(kind protocol.ContentKind) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) MessageReceived(kind protocol.ContentKind) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) LinkEstablished() {
	if m == nil {
		return
	}
	m.liveLinks.Inc()
}

func (m *Metrics) LinkLost() {
	if m == nil {
		return
	}
	m.liveLinks.Dec()
}
