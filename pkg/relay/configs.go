package relay

import "time"

// DefaultPublishTimeout bounds the publishes made for one delivery.
const DefaultPublishTimeout = 30 * time.Second

// Config lists where deliveries are relayed to.
type Config struct {
	// Targets receive a copy of every consumed delivery.
	Targets []Target `yaml:"targets" mapstructure:"targets"`

	// PublishTimeout bounds the fan-out for one delivery. When it expires
	// the delivery is nacked and left to the broker.
	PublishTimeout time.Duration `yaml:"publish_timeout" mapstructure:"publish_timeout"`
}

// Target is an exchange to relay to. An empty RoutingKey keeps the routing
// key of the consumed delivery.
type Target struct {
	Exchange   string `yaml:"exchange" mapstructure:"exchange"`
	RoutingKey string `yaml:"routing_key" mapstructure:"routing_key"`
}
