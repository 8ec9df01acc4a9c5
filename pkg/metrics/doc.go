// Package metrics exposes Prometheus metrics for amqpkit processes.
//
// NewMetrics creates a private registry (every metric carries a constant
// "service" label) and an HTTP server serving it. NewBrokerMetrics registers
// the AMQP collectors:
//
//	amqp_deliveries_total{queue,outcome}
//	amqp_delivery_duration_seconds{queue}
//	amqp_reconnects_total{component}
//	amqp_connected{component}
//	amqp_publishes_total{exchange,result}
//	amqp_publish_duration_seconds{exchange}
//
// *BrokerMetrics is passed to the consumer and publisher through
// rabbit.WithObserver.
package metrics
