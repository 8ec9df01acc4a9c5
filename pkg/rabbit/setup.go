package rabbit

import (
	"context"
	"time"

	"github.com/relaykit/amqpkit/pkg/retry"
)

// Logger defines the interface for logging operations in the rabbit package.
// *logger.Logger satisfies it.
//
//go:generate mockgen -source=setup.go -destination=mock_logger.go -package=rabbit
type Logger interface {
	// Info logs informational messages, optionally with error and contextual fields
	Info(msg string, err error, fields ...map[string]interface{})

	// Debug logs debug-level messages, optionally with error and contextual fields
	Debug(msg string, err error, fields ...map[string]interface{})

	// Warn logs warning messages, optionally with error and contextual fields
	Warn(msg string, err error, fields ...map[string]interface{})

	// Error logs error messages with the associated error and optional contextual fields
	Error(msg string, err error, fields ...map[string]interface{})

	// Fatal logs critical errors that should terminate the application
	Fatal(msg string, err error, fields ...map[string]interface{})
}

// ContextLogger is implemented by loggers that attach the trace carried by
// ctx to an entry. Per-delivery messages go through it when the configured
// Logger also implements it; *logger.Logger does.
type ContextLogger interface {
	DebugWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
}

// Observer receives consumer and publisher events. *metrics.BrokerMetrics
// satisfies it.
type Observer interface {
	ObserveDelivery(queue, outcome string, d time.Duration)
	// ObserveReconnect is called once for every failure that sends a
	// component into a new connection attempt: the lost stream or failed
	// publish, then every failed attempt after it.
	ObserveReconnect(component string, err error)
	ObserveConnected(component string)
	ObservePublish(exchange string, d time.Duration, err error)
}

// Delivery outcomes reported to Observer.ObserveDelivery.
const (
	OutcomeAck          = "ack"
	OutcomeAckPermanent = "ack_permanent"
	OutcomeNack         = "nack"
	OutcomeDeferred     = "deferred"
)

const (
	componentConsumer  = "consumer"
	componentPublisher = "publisher"
)

// Option configures a consumer, a publisher or a ConnectionManager. Options
// that do not apply to the component being built are ignored.
type Option func(*options)

type options struct {
	logger        Logger
	observer      Observer
	telemetry     Telemetry
	tracing       bool
	retry         retry.Config
	dial          Dialer
	requeueOnNack bool
	codec         Codec
}

func defaultOptions() options {
	return options{
		logger:    noopLogger{},
		observer:  noopObserver{},
		telemetry: noopTelemetry{},
		retry:     retry.DefaultConfig(),
		dial:      DialAMQP(ConnectionConfig{}),
		codec:     JSONCodec{},
	}
}

// buildOptions applies opts over defaultOptions.
func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. Nothing is logged by default.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithTelemetry enables trace propagation through message headers.
func WithTelemetry(telemetry Telemetry) Option {
	return func(o *options) {
		if telemetry != nil {
			o.telemetry = telemetry
			o.tracing = true
		}
	}
}

// WithRetryConfig sets the reconnect backoff policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(o *options) {
		o.retry = cfg
	}
}

// WithDialer replaces DialAMQP, e.g. with DialAMQP(cfg) or an in-memory
// broker in tests.
func WithDialer(dial Dialer) Option {
	return func(o *options) {
		if dial != nil {
			o.dial = dial
		}
	}
}

// WithRequeueOnNack sets the requeue flag the consumer uses when it nacks a
// delivery after a transient handler error.
func WithRequeueOnNack(requeue bool) Option {
	return func(o *options) {
		o.requeueOnNack = requeue
	}
}

// WithCodec sets the codec used by Publisher.PublishMessage.
func WithCodec(codec Codec) Option {
	return func(o *options) {
		if codec != nil {
			o.codec = codec
		}
	}
}

type noopLogger struct{}

func (noopLogger) Info(string, error, ...map[string]interface{}) {}
func (noopLogger) Debug(string, error, ...map[string]interface{}) {}
func (noopLogger) Warn(string, error, ...map[string]interface{}) {}
func (noopLogger) Error(string, error, ...map[string]interface{}) {}
func (noopLogger) Fatal(string, error, ...map[string]interface{}) {}

type noopObserver struct{}

func (noopObserver) ObserveDelivery(string, string, time.Duration) {}
func (noopObserver) ObserveReconnect(string, error) {}
func (noopObserver) ObserveConnected(string) {}
func (noopObserver) ObservePublish(string, time.Duration, error) {}
