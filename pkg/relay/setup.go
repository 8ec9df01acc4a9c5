package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/relaykit/amqpkit/pkg/rabbit"
)

var (
	ErrNoTargets = errors.New("relay: no targets configured")

	// ErrLossyNack is returned by CheckRedelivery when a nacked delivery
	// would be dropped by the broker.
	ErrLossyNack = errors.New("relay: nacked deliveries would be dropped")
)

// deadLetterArgument is the queue argument that routes rejected messages to
// another exchange instead of discarding them.
const deadLetterArgument = "x-dead-letter-exchange"

// Publisher is the part of *rabbit.Publisher the relay needs.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload []byte) error
}

// Processor republishes every delivery to all configured targets and acks
// it once every target confirmed. It implements rabbit.MessageProcessor.
type Processor struct {
	publisher Publisher
	targets   []Target
	timeout   time.Duration
	logger    rabbit.Logger
}

var _ rabbit.MessageProcessor = (*Processor)(nil)

// NewProcessor validates cfg.Targets and applies DefaultPublishTimeout when
// cfg.PublishTimeout is not set.
func NewProcessor(cfg Config, publisher Publisher, logger rabbit.Logger) (*Processor, error) {
	if len(cfg.Targets) == 0 {
		return nil, ErrNoTargets
	}
	for i, t := range cfg.Targets {
		if t.Exchange == "" && t.RoutingKey == "" {
			return nil, fmt.Errorf("relay: target %d: exchange or routing key required", i)
		}
	}

	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}

	return &Processor{
		publisher: publisher,
		targets:   append([]Target(nil), cfg.Targets...),
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// ProcessMessage publishes to all targets concurrently. A failed publish
// makes the delivery transient so the consumer nacks it; targets that did
// succeed will see the message again on redelivery.
func (p *Processor) ProcessMessage(ctx context.Context, delivery *amqp.Delivery, _ rabbit.Channel) (rabbit.ShouldAck, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, target := range p.targets {
		routingKey := target.RoutingKey
		if routingKey == "" {
			routingKey = delivery.RoutingKey
		}
		g.Go(func() error {
			if err := p.publisher.Publish(gctx, target.Exchange, routingKey, delivery.Body); err != nil {
				return fmt.Errorf("relay to %q/%q: %w", target.Exchange, routingKey, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return false, err
	}

	fields := map[string]interface{}{
		"delivery_tag": delivery.DeliveryTag,
		"targets":      len(p.targets),
	}
	if cl, ok := p.logger.(rabbit.ContextLogger); ok {
		cl.DebugWithContext(ctx, "relayed message", nil, fields)
	} else {
		p.logger.Debug("relayed message", nil, fields)
	}
	return true, nil
}

// CheckRedelivery makes sure a delivery the relay fails to forward is not
// lost. That holds when nacks requeue, or when the consumed queue
// dead-letters rejected messages.
//
// Returns ErrLossyNack when neither is configured, or the topology parse
// error.
func CheckRedelivery(cfg rabbit.ConsumerConfig) error {
	if cfg.RequeueOnNack {
		return nil
	}

	topology, err := rabbit.ParseTopology([]byte(cfg.Topology))
	if err != nil {
		return err
	}

	queue := consumedQueue(topology)
	for _, q := range topology.Queues {
		if q.Name != queue {
			continue
		}
		if dlx, ok := q.Arguments[deadLetterArgument]; ok && dlx != nil {
			return nil
		}
	}
	return fmt.Errorf("%w: queue %q has no %s and requeue_on_nack is off", ErrLossyNack, queue, deadLetterArgument)
}

func consumedQueue(t rabbit.Topology) string {
	if len(t.Channels) == 0 || len(t.Channels[0].Consumers) == 0 {
		return ""
	}
	return t.Channels[0].Consumers[0].Queue
}
