package rabbit

import (
	"time"

	"github.com/relaykit/amqpkit/pkg/retry"
)

// DefaultHeartbeat is the AMQP heartbeat used when none is configured.
const DefaultHeartbeat = 2 * time.Second

// DefaultConnectTimeout bounds the publisher's initial connect when it is
// built from Config.
const DefaultConnectTimeout = retry.DefaultCallTimeout

// Config holds the connection, consumer, publisher and retry settings of
// the rabbit package.
type Config struct {
	Connection ConnectionConfig `yaml:"connection" mapstructure:"connection"`
	Consumer   ConsumerConfig   `yaml:"consumer" mapstructure:"consumer"`
	Publisher  PublisherConfig  `yaml:"publisher" mapstructure:"publisher"`

	// Retry is the reconnect policy shared by the consumer and publisher.
	Retry retry.Config `yaml:"retry" mapstructure:"retry"`

	// EnableTracing extracts and injects W3C trace context through message
	// headers and opens a span per delivery.
	EnableTracing bool `yaml:"enable_tracing" mapstructure:"enable_tracing"`
}

// ConnectionConfig describes how to reach the broker.
type ConnectionConfig struct {
	// URL is an amqp:// or amqps:// URI including credentials and vhost.
	URL       string        `yaml:"url" mapstructure:"url"`
	Heartbeat time.Duration `yaml:"heartbeat" mapstructure:"heartbeat"`

	// Name is reported to the broker as the connection_name client property.
	Name string `yaml:"name" mapstructure:"name"`
}

// ConsumerConfig configures the consumer started by ConsumerModule.
type ConsumerConfig struct {
	// Topology is the JSON topology blob. The first consumer of the first
	// channel is the one consumed from.
	Topology string `yaml:"topology" mapstructure:"topology"`

	// RequeueOnNack sets the requeue flag on nacks for transient handler
	// errors. When false the broker dead-letters or drops the message
	// according to the queue's arguments.
	RequeueOnNack bool `yaml:"requeue_on_nack" mapstructure:"requeue_on_nack"`
}

// PublisherConfig configures the publisher provided by FXModule.
type PublisherConfig struct {
	// Topology is a JSON topology blob; its channels are ignored.
	Topology string `yaml:"topology" mapstructure:"topology"`

	// ConnectTimeout bounds the initial connect. Zero means
	// retry.DefaultCallTimeout.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
}
