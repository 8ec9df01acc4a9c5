package rabbit

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relaykit/amqpkit/pkg/retry"
)

// Connection is the part of an AMQP connection the consumer and publisher
// use.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Channel is the part of an AMQP channel the consumer and publisher use.
// Every method except PublishWithConfirm has the signature of the
// *amqp091.Channel method of the same name.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	ExchangeBind(destination, key, source string, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueuePurge(name string, noWait bool) (int, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Confirm(noWait bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple bool, requeue bool) error
	NotifyCancel(c chan string) chan string
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error

	// PublishWithConfirm publishes msg and returns the pending broker
	// confirmation. The confirmation is nil when the channel is not in
	// confirm mode.
	PublishWithConfirm(ctx context.Context, exchange, key string, msg amqp.Publishing) (Confirmation, error)
}

// Confirmation is a pending publisher confirm. *amqp091.DeferredConfirmation
// satisfies it.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// Dialer opens a Connection to url.
type Dialer func(url string) (Connection, error)

// DialAMQP returns a Dialer backed by amqp091-go. cfg.URL is ignored; the url
// handed to the Dialer is used.
func DialAMQP(cfg ConnectionConfig) Dialer {
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return func(url string) (Connection, error) {
		props := amqp.NewConnectionProperties()
		if cfg.Name != "" {
			props.SetClientConnectionName(cfg.Name)
		}
		conn, err := amqp.DialConfig(url, amqp.Config{
			Heartbeat:  heartbeat,
			Properties: props,
		})
		if err != nil {
			return nil, err
		}
		return &amqpConnection{Connection: conn}, nil
	}
}

type amqpConnection struct {
	*amqp.Connection
}

// Channel wraps the opened *amqp.Channel.
func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return &amqpChannel{Channel: ch}, nil
}

type amqpChannel struct {
	*amqp.Channel
}

// PublishWithConfirm returns nil for the confirmation outside confirm mode.
func (c *amqpChannel) PublishWithConfirm(ctx context.Context, exchange, key string, msg amqp.Publishing) (Confirmation, error) {
	dc, err := c.Channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, nil
	}
	return dc, nil
}

// ConnectionManager runs the connect, restore and create-channel steps
// against one broker URL and topology.
type ConnectionManager struct {
	url       string
	topology  Topology
	dial      Dialer
	logger    Logger
	observer  Observer
	component string
}

// NewConnectionManager honours WithDialer, WithLogger and WithObserver.
//
// Example:
//
//	manager := rabbit.NewConnectionManager(url, topology, rabbit.WithLogger(log))
//	conn, ch, err := manager.Open()
func NewConnectionManager(url string, topology Topology, opts ...Option) *ConnectionManager {
	o := buildOptions(opts)
	return newConnectionManager(url, topology, o, componentPublisher)
}

func newConnectionManager(url string, topology Topology, o options, component string) *ConnectionManager {
	return &ConnectionManager{
		url:       url,
		topology:  topology,
		dial:      o.dial,
		logger:    o.logger,
		observer:  o.observer,
		component: component,
	}
}

// Connect opens a new connection. It is safe to call again after a failure.
func (m *ConnectionManager) Connect() (Connection, error) {
	conn, err := m.dial(m.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	m.logger.Debug("connected to broker", nil, map[string]interface{}{
		"component": m.component,
	})
	return conn, nil
}

// Restore declares a fresh copy of the topology on conn.
func (m *ConnectionManager) Restore(conn Connection) (*RestoredTopology, error) {
	restored, err := m.topology.Clone().Restore(conn)
	if err != nil {
		m.logger.Warn("failed to restore topology", err, map[string]interface{}{
			"component": m.component,
		})
		return nil, err
	}
	m.logger.Debug("restored topology", nil, map[string]interface{}{
		"component": m.component,
	})
	return restored, nil
}

// CreateChannel opens a channel in confirm mode.
func (m *ConnectionManager) CreateChannel(conn Connection) (Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelFailed, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: enable publisher confirms: %w", ErrChannelFailed, err)
	}
	return ch, nil
}

// Open runs connect, restore and create-channel once. The connection is
// closed if a later step fails.
func (m *ConnectionManager) Open() (Connection, Channel, error) {
	conn, err := m.Connect()
	if err != nil {
		return nil, nil, err
	}
	if _, err := m.Restore(conn); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	ch, err := m.CreateChannel(conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// Reconnect repeats Open under policy until it succeeds, the policy gives up
// or ctx is done. Every failed attempt is logged with the delay before the
// next one.
func (m *ConnectionManager) Reconnect(ctx context.Context, policy *retry.Policy) (Connection, Channel, error) {
	return m.reconnectAfter(ctx, policy, nil)
}

// reconnectAfter is Reconnect for a component that just lost its channel to
// cause. The loss is reported to the observer like every failed attempt.
func (m *ConnectionManager) reconnectAfter(ctx context.Context, policy *retry.Policy, cause error) (Connection, Channel, error) {
	if cause != nil {
		m.lost(cause)
	}

	var (
		conn Connection
		ch   Channel
	)
	err := retry.Do(ctx, policy, func() error {
		var err error
		conn, ch, err = m.Open()
		return err
	}, func(err error, next time.Duration) {
		m.lost(err)
		m.logger.Warn("failed to reconnect, retrying", err, map[string]interface{}{
			"component": m.component,
			"retry_in":  next.String(),
		})
	})
	if err != nil {
		return nil, nil, err
	}
	m.connected()
	return conn, ch, nil
}

// lost records a failure after which the component opens a new connection.
// It is the only place reconnects are counted.
func (m *ConnectionManager) lost(err error) {
	m.observer.ObserveReconnect(m.component, err)
}

// connected reports a restored connection to the observer.
func (m *ConnectionManager) connected() {
	m.observer.ObserveConnected(m.component)
}
