package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	CacheHits            prometheus.Counter
	CacheMisses          prometheus.Counter
	ResolutionIncomplete prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_identity_cache_hits_total",
			Help: "Total identity cache lookups that found a record",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_identity_cache_misses_total",
			Help: "Total identity cache lookups that found nothing",
		}),
		ResolutionIncomplete: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_identity_resolution_incomplete_total",
			Help: "Total events forwarded with at least one unresolved identifier",
		}),
	}
}

func (m *Metrics) RecordHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) RecordMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) RecordIncomplete() {
	if m != nil {
		m.ResolutionIncomplete.Inc()
	}
}
