// Package telemetry owns the prometheus collectors shared by the runtime loops.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "strom"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	projectionApplied  *prometheus.CounterVec
	projectionSkipped  *prometheus.CounterVec
	projectionRetries  *prometheus.CounterVec
	projectionFailures *prometheus.CounterVec
	checkpoint         *prometheus.GaugeVec
	outboxPublished    *prometheus.CounterVec
	outboxFailed       *prometheus.CounterVec
	busReceived        *prometheus.CounterVec
	busHandled         *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		projectionApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "projection", Name: "events_applied_total",
			Help: "Events applied by a subscription.",
		}, []string{"subscription"}),
		projectionSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "projection", Name: "events_skipped_total",
			Help: "Events with an unknown type skipped by a subscription.",
		}, []string{"subscription"}),
		projectionRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "projection", Name: "retries_total",
			Help: "Projection retries after a transient failure.",
		}, []string{"subscription"}),
		projectionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "projection", Name: "failures_total",
			Help: "Events that exhausted their retries.",
		}, []string{"subscription"}),
		checkpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "projection", Name: "checkpoint_position",
			Help: "Last committed feed position per subscription.",
		}, []string{"subscription"}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "published_total",
			Help: "Outbox messages published to the bus.",
		}, []string{"topic"}),
		outboxFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "publish_failures_total",
			Help: "Outbox publish attempts that failed.",
		}, []string{"topic"}),
		busReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "received_total",
			Help: "Bus messages delivered to a listener.",
		}, []string{"topic"}),
		busHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "handled_total",
			Help: "Bus messages by listener outcome.",
		}, []string{"topic", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.projectionApplied, m.projectionSkipped, m.projectionRetries, m.projectionFailures, m.checkpoint,
			m.outboxPublished, m.outboxFailed, m.busReceived, m.busHandled,
		)
	}
	return m
}

// ProjectionApplied counts one applied event and records the new checkpoint.
func (m *Metrics) ProjectionApplied(subscription string, position uint64) {
	if m == nil {
		return
	}
	m.projectionApplied.WithLabelValues(subscription).Inc()
	m.checkpoint.WithLabelValues(subscription).Set(float64(position))
}

// ProjectionSkipped counts one event skipped for an unknown type.
func (m *Metrics) ProjectionSkipped(subscription string) {
	if m == nil {
		return
	}
	m.projectionSkipped.WithLabelValues(subscription).Inc()
}

// ProjectionRetried counts one retry.
func (m *Metrics) ProjectionRetried(subscription string) {
	if m == nil {
		return
	}
	m.projectionRetries.WithLabelValues(subscription).Inc()
}

// ProjectionFailed counts one event that exhausted retries.
func (m *Metrics) ProjectionFailed(subscription string) {
	if m == nil {
		return
	}
	m.projectionFailures.WithLabelValues(subscription).Inc()
}

// OutboxPublished counts one published outbox message.
func (m *Metrics) OutboxPublished(topic string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(topic).Inc()
}

// OutboxFailed counts one failed publish attempt.
func (m *Metrics) OutboxFailed(topic string) {
	if m == nil {
		return
	}
	m.outboxFailed.WithLabelValues(topic).Inc()
}

// BusReceived counts one delivery.
func (m *Metrics) BusReceived(topic string) {
	if m == nil {
		return
	}
	m.busReceived.WithLabelValues(topic).Inc()
}

// BusHandled counts one listener outcome: "ack", "nak" or "duplicate".
func (m *Metrics) BusHandled(topic, outcome string) {
	if m == nil {
		return
	}
	m.busHandled.WithLabelValues(topic, outcome).Inc()
}
