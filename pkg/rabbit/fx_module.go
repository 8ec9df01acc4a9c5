package rabbit

import (
	"context"
	"fmt"

	"go.uber.org/fx"
)

// FXModule provides a *Publisher built from Config and closes it on stop.
var FXModule = fx.Module("rabbit",
	fx.Provide(
		NewPublisherFromConfig,
	),
	fx.Invoke(RegisterPublisherLifecycle),
)

// ConsumerModule starts a consumer for Config.Consumer on start and stops it
// on stop. A MessageProcessor must be provided.
var ConsumerModule = fx.Module("rabbit-consumer",
	fx.Invoke(RegisterConsumerLifecycle),
)

// Params are the dependencies shared by the publisher and consumer.
type Params struct {
	fx.In

	Config    Config
	Logger    Logger
	Observer  Observer  `optional:"true"`
	Telemetry Telemetry `optional:"true"`
}

func (p Params) options() []Option {
	opts := []Option{
		WithLogger(p.Logger),
		WithRetryConfig(p.Config.Retry),
		WithDialer(DialAMQP(p.Config.Connection)),
		WithRequeueOnNack(p.Config.Consumer.RequeueOnNack),
	}
	if p.Observer != nil {
		opts = append(opts, WithObserver(p.Observer))
	}
	if p.Config.EnableTracing && p.Telemetry != nil {
		opts = append(opts, WithTelemetry(p.Telemetry))
	}
	return opts
}

// NewPublisherFromConfig parses Config.Publisher.Topology and connects a
// publisher, retrying for up to Config.Publisher.ConnectTimeout.
func NewPublisherFromConfig(p Params) (*Publisher, error) {
	topology, err := PublisherTopology([]byte(p.Config.Publisher.Topology))
	if err != nil {
		return nil, err
	}

	p.Logger.Info("Connecting publisher to Rabbit", nil, nil)
	publisher, err := NewPublisherWithTimeout(context.Background(), p.Config.Publisher.ConnectTimeout, p.Config.Connection.URL, topology, p.options()...)
	if err != nil {
		return nil, fmt.Errorf("connect publisher: %w", err)
	}
	p.Logger.Info("Publisher connected to Rabbit", nil, nil)
	return publisher, nil
}

// RegisterPublisherLifecycle closes the publisher when the application stops.
func RegisterPublisherLifecycle(lc fx.Lifecycle, publisher *Publisher, logger Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("closing rabbit publisher...", nil, nil)
			if err := publisher.Close(); err != nil {
				logger.Error("error in closing rabbit publisher", err, nil)
			}
			return nil
		},
	})
}

// ConsumerParams are the dependencies of RegisterConsumerLifecycle.
type ConsumerParams struct {
	fx.In

	Config    Config
	Logger    Logger
	Processor MessageProcessor
	Observer  Observer  `optional:"true"`
	Telemetry Telemetry `optional:"true"`
}

func (p ConsumerParams) options() []Option {
	return Params{
		Config:    p.Config,
		Logger:    p.Logger,
		Observer:  p.Observer,
		Telemetry: p.Telemetry,
	}.options()
}

// RegisterConsumerLifecycle starts a consumer on Config.Consumer.Topology when
// the application starts, then cancels it and waits for it to stop on stop.
// An invalid topology is returned before anything starts.
func RegisterConsumerLifecycle(lc fx.Lifecycle, p ConsumerParams) error {
	topology, err := ParseTopology([]byte(p.Config.Consumer.Topology))
	if err != nil {
		return err
	}

	var cancellation *Cancellation

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			cancellation = StartConsumer(p.Config.Connection.URL, topology, p.Processor, p.options()...)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Logger.Info("stopping rabbit consumer...", nil, nil)
			cancellation.Cancel()
			return cancellation.Wait(ctx)
		},
	})
	return nil
}
