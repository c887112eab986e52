package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Deliveries      *prometheus.CounterVec
	DeliverySeconds prometheus.Histogram
	QueueDepth      prometheus.Gauge
	BreakerOpens    prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Deliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wabridge_dispatch_deliveries_total",
			Help: "Total delivery attempts by terminal status",
		}, []string{"status"}),
		DeliverySeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "wabridge_dispatch_delivery_seconds",
			Help:    "Latency of webhook delivery attempts",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wabridge_dispatch_queue_depth",
			Help: "Events waiting for dispatch",
		}),
		BreakerOpens: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_dispatch_breaker_opens_total",
			Help: "Times a recipient circuit breaker opened",
		}),
	}
}

func (m *Metrics) RecordDelivery(status string, seconds float64) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(status).Inc()
	m.DeliverySeconds.Observe(seconds)
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) RecordBreakerOpen() {
	if m != nil {
		m.BreakerOpens.Inc()
	}
}
