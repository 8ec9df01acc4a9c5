package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BrokerMetrics records consumer and publisher activity. It satisfies
// rabbit.Observer.
type BrokerMetrics struct {
	deliveries       *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	reconnects       *prometheus.CounterVec
	connected        *prometheus.GaugeVec
	publishes        *prometheus.CounterVec
	publishDuration  *prometheus.HistogramVec
}

// NewBrokerMetrics creates the broker collectors and registers them on m.
func NewBrokerMetrics(m *Metrics) *BrokerMetrics {
	ns := m.namespace
	bm := &BrokerMetrics{
		deliveries: newBrokerCounter(ns, "deliveries_total",
			"Deliveries handled by consumers, by queue and outcome.", "queue", "outcome"),
		deliveryDuration: newBrokerHistogram(ns, "delivery_duration_seconds",
			"Time spent processing a single delivery.", "queue"),
		reconnects: newBrokerCounter(ns, "reconnects_total",
			"Reconnect attempts after a connection or channel failure.", "component"),
		connected: newBrokerGauge(ns, "connected",
			"1 while the component holds a usable channel.", "component"),
		publishes: newBrokerCounter(ns, "publishes_total",
			"Publish calls, by exchange and result.", "exchange", "result"),
		publishDuration: newBrokerHistogram(ns, "publish_duration_seconds",
			"Time from publish to broker confirmation.", "exchange"),
	}

	m.Registerer.MustRegister(
		bm.deliveries,
		bm.deliveryDuration,
		bm.reconnects,
		bm.connected,
		bm.publishes,
		bm.publishDuration,
	)

	return bm
}

// ObserveDelivery counts a settled delivery by outcome and records how long
// it took to process.
func (b *BrokerMetrics) ObserveDelivery(queue, outcome string, d time.Duration) {
	b.deliveries.WithLabelValues(queue, outcome).Inc()
	b.deliveryDuration.WithLabelValues(queue).Observe(d.Seconds())
}

// ObserveReconnect counts a failure that led to a new connection attempt and
// marks the component disconnected.
func (b *BrokerMetrics) ObserveReconnect(component string, err error) {
	b.reconnects.WithLabelValues(component).Inc()
	b.connected.WithLabelValues(component).Set(0)
}

// ObserveConnected marks the component connected.
func (b *BrokerMetrics) ObserveConnected(component string) {
	b.connected.WithLabelValues(component).Set(1)
}

// ObservePublish counts a publish attempt by result and records its latency.
func (b *BrokerMetrics) ObservePublish(exchange string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	b.publishes.WithLabelValues(exchange, result).Inc()
	b.publishDuration.WithLabelValues(exchange).Observe(d.Seconds())
}
