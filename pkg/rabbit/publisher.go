package rabbit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relaykit/amqpkit/pkg/retry"
)

// Publisher publishes with publisher confirms over one shared channel and
// transparently reconnects when a publish fails.
//
// Publish calls share the channel under a read lock. A reconnect holds the
// write lock until the new channel is installed, so every caller sees one
// channel epoch at a time, and callers that failed on the same epoch cause
// a single reconnect.
type Publisher struct {
	manager   *ConnectionManager
	logger    Logger
	observer  Observer
	telemetry Telemetry
	tracing   bool
	codec     Codec
	retry     retry.Config

	// life is cancelled by Close; publishes and reconnects stop waiting on it.
	life context.Context
	stop context.CancelFunc

	mu     sync.RWMutex
	conn   Connection
	ch     Channel
	epoch  uint64
	closed bool
}

// NewPublisher connects once and fails fast if that does not work. The
// topology's channels are ignored.
//
// Parameters:
//   - url: The broker URI
//   - topology: Declared on every connection
//   - opts: WithLogger, WithObserver, WithTelemetry, WithRetryConfig,
//     WithDialer and WithCodec
//
// Returns:
//   - *Publisher: A connected publisher
//   - error: ErrConnectionFailed, ErrTopologyRestore or ErrChannelFailed
//
// Example:
//
//	publisher, err := rabbit.NewPublisher(url, topology, rabbit.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer publisher.Close()
//	err = publisher.Publish(ctx, "orders", "order.created", body)
func NewPublisher(url string, topology Topology, opts ...Option) (*Publisher, error) {
	p := newPublisher(url, topology, buildOptions(opts))
	conn, ch, err := p.manager.Open()
	if err != nil {
		p.stop()
		return nil, err
	}
	p.install(conn, ch)
	return p, nil
}

// NewPublisherWithTimeout keeps retrying the initial connect with backoff
// until timeout elapses or ctx is done. A timeout of zero or less uses
// retry.DefaultCallTimeout.
//
// Returns:
//   - *Publisher: A connected publisher
//   - error: ErrRetryExhausted once timeout elapses, ctx.Err() when ctx is
//     done first
//
// Example:
//
//	publisher, err := rabbit.NewPublisherWithTimeout(ctx, 10*time.Second, url, topology)
func NewPublisherWithTimeout(ctx context.Context, timeout time.Duration, url string, topology Topology, opts ...Option) (*Publisher, error) {
	p := newPublisher(url, topology, buildOptions(opts))
	var (
		conn Connection
		ch   Channel
	)
	connect := func() error {
		var err error
		conn, ch, err = p.manager.Open()
		return err
	}
	notify := func(err error, next time.Duration) {
		p.manager.lost(err)
		p.logger.Warn("failed to connect publisher, retrying", err, map[string]interface{}{
			"retry_in": next.String(),
		})
	}

	var err error
	if timeout > 0 {
		err = retry.CallWithTimeout(ctx, timeout, connect, notify)
	} else {
		err = retry.CallWithDefaultTimeout(ctx, connect, notify)
	}
	if err != nil {
		p.stop()
		return nil, err
	}
	p.install(conn, ch)
	return p, nil
}

// newPublisher builds an unconnected publisher. Its topology never carries
// channels.
func newPublisher(url string, topology Topology, o options) *Publisher {
	topology = topology.Clone()
	topology.Channels = nil
	life, stop := context.WithCancel(context.Background())
	return &Publisher{
		life:      life,
		stop:      stop,
		manager:   newConnectionManager(url, topology, o, componentPublisher),
		logger:    o.logger,
		observer:  o.observer,
		telemetry: o.telemetry,
		tracing:   o.tracing,
		codec:     o.codec,
		retry:     o.retry,
	}
}

// install swaps in a fresh connection and channel. The caller holds the
// write lock.
func (p *Publisher) install(conn Connection, ch Channel) {
	p.conn, p.ch = conn, ch
	p.manager.connected()
}

// Publish sends payload and waits for the broker to confirm it. Any failure
// triggers a reconnect and the same payload is sent again; Publish only
// returns once the broker confirmed the message, ctx is done, a bounded
// retry policy gave up or the publisher was closed.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, payload []byte) error {
	return p.publish(ctx, exchange, routingKey, amqp.Publishing{Body: payload})
}

// PublishMessage encodes msg with the publisher's codec and publishes it.
// Encoding errors are returned without retrying.
func (p *Publisher) PublishMessage(ctx context.Context, exchange, routingKey string, msg any) error {
	body, err := p.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return p.publish(ctx, exchange, routingKey, amqp.Publishing{
		ContentType: p.codec.ContentType(),
		Body:        body,
	})
}

// publish retries msg until it is confirmed. Trace headers are injected
// into a copy of msg.Headers so the caller's table is left untouched.
func (p *Publisher) publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if p.tracing {
		headers := amqp.Table{}
		for k, v := range msg.Headers {
			headers[k] = v
		}
		p.telemetry.Inject(ctx, HeaderCarrier(headers))
		msg.Headers = headers
	}

	ctx, cancel := p.withLifetime(ctx)
	defer cancel()

	for {
		p.mu.RLock()
		if p.closed {
			p.mu.RUnlock()
			return ErrPublisherClosed
		}
		epoch := p.epoch
		start := time.Now()
		err := publishConfirmed(ctx, p.ch, exchange, routingKey, msg)
		p.mu.RUnlock()

		p.observer.ObservePublish(exchange, time.Since(start), err)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			if p.life.Err() != nil {
				return ErrPublisherClosed
			}
			return fmt.Errorf("%w: %w", ErrPublishFailed, ctxErr)
		}

		p.logger.Warn("failed to publish, reconnecting", err, map[string]interface{}{
			"exchange":    exchange,
			"routing_key": routingKey,
			"epoch":       epoch,
		})
		if err := p.reconnect(ctx, epoch, err); err != nil {
			if p.life.Err() != nil {
				return ErrPublisherClosed
			}
			return fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
	}
}

// withLifetime derives a context that Close also cancels.
func (p *Publisher) withLifetime(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(p.life, cancel)
	return ctx, func() {
		stopAfter()
		cancel()
	}
}

// publishConfirmed publishes once on ch and waits for the confirm when the
// channel is in confirm mode. A nil ch means the previous reconnect failed.
func publishConfirmed(ctx context.Context, ch Channel, exchange, routingKey string, msg amqp.Publishing) error {
	if ch == nil {
		return ErrChannelFailed
	}
	confirmation, err := ch.PublishWithConfirm(ctx, exchange, routingKey, msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	if confirmation == nil {
		return nil
	}
	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: wait for confirm: %w", ErrPublishFailed, err)
	}
	if !acked {
		return ErrPublishNacked
	}
	return nil
}

// reconnect replaces the channel that failed in epoch. It is a no-op when
// another caller already replaced it.
func (p *Publisher) reconnect(ctx context.Context, failed uint64, cause error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}
	if p.epoch != failed {
		return nil
	}

	conn, ch, err := p.manager.reconnectAfter(ctx, retry.NewPolicy(p.retry), cause)
	if err != nil {
		return err
	}

	old := p.conn
	p.conn, p.ch = conn, ch
	p.epoch++
	if old != nil {
		_ = old.Close()
	}

	p.logger.Info("publisher reconnected", nil, map[string]interface{}{
		"epoch": p.epoch,
	})
	return nil
}

// Purge removes all ready messages from queue and returns how many were
// removed. It is not retried.
func (p *Publisher) Purge(ctx context.Context, queue string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPublisherClosed
	}
	if p.ch == nil {
		return 0, ErrChannelFailed
	}
	n, err := p.ch.QueuePurge(queue, false)
	if err != nil {
		return 0, fmt.Errorf("purge queue %q: %w", queue, err)
	}
	p.logger.Debug("purged queue", nil, map[string]interface{}{
		"queue":    queue,
		"messages": n,
	})
	return n, nil
}

// Epoch counts the reconnects performed so far.
func (p *Publisher) Epoch() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.epoch
}

// Close closes the channel and the connection. Publishes waiting for a
// confirm or a reconnect are interrupted, and they and later calls return
// ErrPublisherClosed.
func (p *Publisher) Close() error {
	p.stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if p.ch != nil && !p.ch.IsClosed() {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil && !p.conn.IsClosed() {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
