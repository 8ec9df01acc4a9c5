package metrics

import "github.com/prometheus/client_golang/prometheus"

// brokerSubsystem prefixes every broker collector: <namespace>_amqp_<name>.
const brokerSubsystem = "amqp"

func newBrokerCounter(namespace, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: brokerSubsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// newBrokerHistogram uses the default buckets; delivery and confirm latencies
// sit well inside their 5ms..10s range.
func newBrokerHistogram(namespace, name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: brokerSubsystem,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	}, labels)
}

func newBrokerGauge(namespace, name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: brokerSubsystem,
		Name:      name,
		Help:      help,
	}, labels)
}
