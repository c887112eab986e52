package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	UnknownKindsDropped prometheus.Counter
	EventsMerged        prometheus.Counter
	EventsEmitted       prometheus.Counter
	BuffersActive       prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		UnknownKindsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_normalizer_unknown_kinds_dropped_total",
			Help: "Total raw events dropped because their kind is outside the canonical set",
		}),
		EventsMerged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_normalizer_events_merged_total",
			Help: "Total raw events merged into an already-accumulating buffer",
		}),
		EventsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_normalizer_events_emitted_total",
			Help: "Total normalized events emitted by drain",
		}),
		BuffersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wabridge_normalizer_buffers_active",
			Help: "Buffers currently accumulating",
		}),
	}
}

func (m *Metrics) RecordDropped() {
	if m != nil {
		m.UnknownKindsDropped.Inc()
	}
}

func (m *Metrics) RecordMerged() {
	if m != nil {
		m.EventsMerged.Inc()
	}
}

func (m *Metrics) RecordEmitted(n int) {
	if m != nil {
		m.EventsEmitted.Add(float64(n))
	}
}

func (m *Metrics) SetActiveBuffers(n int) {
	if m != nil {
		m.BuffersActive.Set(float64(n))
	}
}
