package metrics

// Default port for metrics server if none is specified.
const DefaultMetricsAddress = ":9090"

// Config defines the configuration structure for the Prometheus metrics server.
type Config struct {
	// Address determines the network address where the Prometheus
	// metrics HTTP server listens.
	//
	// Example values:
	//   - ":9090"   → Listen on all interfaces, port 9090
	//   - "127.0.0.1:9100" → Listen only on localhost, port 9100
	//
	// Default: ":9090"
	Address string `yaml:"address" mapstructure:"address"`

	// EnableDefaultCollectors registers the Go runtime, process and build
	// info collectors.
	EnableDefaultCollectors bool `yaml:"enable_default_collectors" mapstructure:"enable_default_collectors"`

	// Namespace prefixes every broker metric, e.g. "relay" gives
	// "relay_amqp_deliveries_total".
	Namespace string `yaml:"namespace" mapstructure:"namespace"`

	// ServiceName is added as a constant "service" label on every metric.
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
}
