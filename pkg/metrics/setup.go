package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the Prometheus registry and the HTTP server exposing it.
type Metrics struct {
	Server     *http.Server
	Registry   *prometheus.Registry
	Registerer prometheus.Registerer

	namespace string
}

// NewMetrics creates a registry that labels every metric with the service
// name and an HTTP server exposing it.
//
// Parameters:
//   - cfg: Address defaults to DefaultMetricsAddress. EnableDefaultCollectors
//     adds the Go and process collectors
//
// Returns:
//   - *Metrics: The registry and an unstarted server
//
// Example:
//
//	m := metrics.NewMetrics(metrics.Config{Address: ":9090", ServiceName: "amqp-relay"})
//	broker := metrics.NewBrokerMetrics(m)
func NewMetrics(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()

	wrappedRegistry := prometheus.WrapRegistererWith(prometheus.Labels{"service": cfg.ServiceName}, registry)

	if cfg.EnableDefaultCollectors {
		wrappedRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewBuildInfoCollector(),
		)
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	address := cfg.Address
	if address == "" {
		address = DefaultMetricsAddress
	}

	server := &http.Server{
		Addr:    address,
		Handler: handler,
	}

	return &Metrics{
		Server:     server,
		Registry:   registry,
		Registerer: wrappedRegistry,
		namespace:  cfg.Namespace,
	}
}
