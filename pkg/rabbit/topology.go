package rabbit

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology declares the exchanges, queues, bindings and consumers a process
// depends on. It is usually parsed once from a JSON blob and restored on
// every new connection.
type Topology struct {
	Exchanges []ExchangeDefinition `json:"exchanges,omitempty"`
	Queues    []QueueDefinition    `json:"queues,omitempty"`
	Channels  []ChannelDefinition  `json:"channels,omitempty"`
}

// ExchangeDefinition declares an exchange.
type ExchangeDefinition struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
	Internal   bool   `json:"internal"`

	Arguments amqp.Table `json:"arguments,omitempty"`

	// Bindings bind this exchange as the destination of other exchanges.
	Bindings []BindingDefinition `json:"bindings,omitempty"`
}

// QueueDefinition declares a queue and binds it to exchanges.
type QueueDefinition struct {
	Name       string `json:"name"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
	Exclusive  bool   `json:"exclusive"`

	Arguments amqp.Table          `json:"arguments,omitempty"`
	Bindings  []BindingDefinition `json:"bindings,omitempty"`
}

// BindingDefinition binds to Source with RoutingKey.
type BindingDefinition struct {
	Source     string     `json:"source"`
	RoutingKey string     `json:"routing_key"`
	Arguments  amqp.Table `json:"arguments,omitempty"`
}

// ChannelDefinition opens a channel, applies its QoS and starts its
// consumers.
type ChannelDefinition struct {
	Qos       *QosDefinition       `json:"qos,omitempty"`
	Consumers []ConsumerDefinition `json:"consumers,omitempty"`
}

// QosDefinition is the prefetch applied to a channel.
type QosDefinition struct {
	PrefetchCount int  `json:"prefetch_count"`
	Global        bool `json:"global"`
}

// ConsumerDefinition starts a consumer on Queue. Deliveries are never
// auto-acked.
type ConsumerDefinition struct {
	// Tag is generated when empty.
	Tag       string     `json:"tag,omitempty"`
	Queue     string     `json:"queue"`
	Exclusive bool       `json:"exclusive"`
	Arguments amqp.Table `json:"arguments,omitempty"`
}

// ParseTopology decodes and validates a JSON topology blob.
//
// Parameters:
//   - blob: A JSON document with "exchanges", "queues" and "channels"
//
// Returns:
//   - Topology: The parsed topology
//   - error: Wraps ErrInvalidTopology on malformed JSON or failed validation
//
// Example:
//
//	topology, err := rabbit.ParseTopology([]byte(`{
//	    "queues": [{"name": "orders", "durable": true}],
//	    "channels": [{"qos": {"prefetch_count": 10}, "consumers": [{"queue": "orders"}]}]
//	}`)
func ParseTopology(blob []byte) (Topology, error) {
	var t Topology
	if err := json.Unmarshal(blob, &t); err != nil {
		return Topology{}, fmt.Errorf("%w: %w", ErrInvalidTopology, err)
	}
	t = t.Clone()
	if err := t.Validate(); err != nil {
		return Topology{}, err
	}
	return t, nil
}

// PublisherTopology parses blob and drops its channels, so a publisher
// declares exchanges and queues but never starts a consumer.
func PublisherTopology(blob []byte) (Topology, error) {
	t, err := ParseTopology(blob)
	if err != nil {
		return Topology{}, err
	}
	t.Channels = nil
	return t, nil
}

// Validate reports every problem found, joined, wrapped in
// ErrInvalidTopology.
func (t Topology) Validate() error {
	var errs []error

	for i, ex := range t.Exchanges {
		if ex.Name == "" {
			errs = append(errs, fmt.Errorf("exchange %d: empty name", i))
		}
		switch ex.Kind {
		case amqp.ExchangeDirect, amqp.ExchangeFanout, amqp.ExchangeTopic, amqp.ExchangeHeaders:
		default:
			if !strings.HasPrefix(ex.Kind, "x-") {
				errs = append(errs, fmt.Errorf("exchange %q: unknown kind %q", ex.Name, ex.Kind))
			}
		}
		for _, b := range ex.Bindings {
			if b.Source == "" {
				errs = append(errs, fmt.Errorf("exchange %q: binding without source", ex.Name))
			}
		}
	}

	for i, q := range t.Queues {
		if q.Name == "" {
			errs = append(errs, fmt.Errorf("queue %d: empty name", i))
		}
		for _, b := range q.Bindings {
			if b.Source == "" {
				errs = append(errs, fmt.Errorf("queue %q: binding without source", q.Name))
			}
		}
	}

	for i, ch := range t.Channels {
		if ch.Qos != nil && ch.Qos.PrefetchCount < 0 {
			errs = append(errs, fmt.Errorf("channel %d: negative prefetch count", i))
		}
		for j, c := range ch.Consumers {
			if c.Queue == "" {
				errs = append(errs, fmt.Errorf("channel %d consumer %d: empty queue", i, j))
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidTopology, errors.Join(errs...))
}

// Clone returns a deep copy. Whole-number float arguments, which is how JSON
// numbers decode, are turned into int64 because the broker rejects doubles
// for arguments like x-message-ttl.
func (t Topology) Clone() Topology {
	out := Topology{}
	if t.Exchanges != nil {
		out.Exchanges = make([]ExchangeDefinition, len(t.Exchanges))
		for i, ex := range t.Exchanges {
			ex.Arguments = cloneTable(ex.Arguments)
			ex.Bindings = cloneBindings(ex.Bindings)
			out.Exchanges[i] = ex
		}
	}
	if t.Queues != nil {
		out.Queues = make([]QueueDefinition, len(t.Queues))
		for i, q := range t.Queues {
			q.Arguments = cloneTable(q.Arguments)
			q.Bindings = cloneBindings(q.Bindings)
			out.Queues[i] = q
		}
	}
	if t.Channels != nil {
		out.Channels = make([]ChannelDefinition, len(t.Channels))
		for i, ch := range t.Channels {
			if ch.Qos != nil {
				qos := *ch.Qos
				ch.Qos = &qos
			}
			if ch.Consumers != nil {
				consumers := make([]ConsumerDefinition, len(ch.Consumers))
				for j, c := range ch.Consumers {
					c.Arguments = cloneTable(c.Arguments)
					consumers[j] = c
				}
				ch.Consumers = consumers
			}
			out.Channels[i] = ch
		}
	}
	return out
}

func cloneBindings(in []BindingDefinition) []BindingDefinition {
	if in == nil {
		return nil
	}
	out := make([]BindingDefinition, len(in))
	for i, b := range in {
		b.Arguments = cloneTable(b.Arguments)
		out[i] = b
	}
	return out
}

func cloneTable(in amqp.Table) amqp.Table {
	if in == nil {
		return nil
	}
	out := make(amqp.Table, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies nested tables and slices.
func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val)
		}
		return val
	case map[string]interface{}:
		return cloneTable(amqp.Table(val))
	case amqp.Table:
		return cloneTable(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// Restore declares the topology on conn: exchanges, exchange bindings,
// queues and queue bindings on a short-lived declaration channel, then one
// channel per ChannelDefinition with its QoS and consumers.
func (t Topology) Restore(conn Connection) (*RestoredTopology, error) {
	decl, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrTopologyRestore, ErrChannelFailed, err)
	}
	if err := t.declare(decl); err != nil {
		_ = decl.Close()
		return nil, fmt.Errorf("%w: %w", ErrTopologyRestore, err)
	}
	if err := decl.Close(); err != nil {
		return nil, fmt.Errorf("%w: close declaration channel: %w", ErrTopologyRestore, err)
	}

	restored := &RestoredTopology{}
	for i, def := range t.Channels {
		rc, err := restoreChannel(conn, def)
		if err != nil {
			restored.close()
			return nil, fmt.Errorf("%w: channel %d: %w", ErrTopologyRestore, i, err)
		}
		restored.channels = append(restored.channels, rc)
	}
	return restored, nil
}

// declare runs every declaration in dependency order on one channel.
func (t Topology) declare(ch Channel) error {
	for _, ex := range t.Exchanges {
		err := ch.ExchangeDeclare(
			ex.Name,
			ex.Kind,
			ex.Durable,
			ex.AutoDelete,
			ex.Internal,
			false, // NoWait
			ex.Arguments,
		)
		if err != nil {
			return fmt.Errorf("declare exchange %q: %w", ex.Name, err)
		}
	}

	// Exchange bindings go after every exchange exists.
	for _, ex := range t.Exchanges {
		for _, b := range ex.Bindings {
			if err := ch.ExchangeBind(ex.Name, b.RoutingKey, b.Source, false, b.Arguments); err != nil {
				return fmt.Errorf("bind exchange %q to %q: %w", ex.Name, b.Source, err)
			}
		}
	}

	for _, q := range t.Queues {
		_, err := ch.QueueDeclare(
			q.Name,
			q.Durable,
			q.AutoDelete,
			q.Exclusive,
			false, // NoWait
			q.Arguments,
		)
		if err != nil {
			return fmt.Errorf("declare queue %q: %w", q.Name, err)
		}
		for _, b := range q.Bindings {
			if err := ch.QueueBind(q.Name, b.RoutingKey, b.Source, false, b.Arguments); err != nil {
				return fmt.Errorf("bind queue %q to %q: %w", q.Name, b.Source, err)
			}
		}
	}
	return nil
}

// restoreChannel opens a channel for def and starts its consumers. The
// channel is closed again if any consumer fails to start.
func restoreChannel(conn Connection, def ChannelDefinition) (*RestoredChannel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelFailed, err)
	}

	if def.Qos != nil {
		if err := ch.Qos(def.Qos.PrefetchCount, 0, def.Qos.Global); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("set QoS: %w", err)
		}
	}

	rc := &RestoredChannel{
		ch:      ch,
		cancels: ch.NotifyCancel(make(chan string, len(def.Consumers)+1)),
		closes:  ch.NotifyClose(make(chan *amqp.Error, 1)),
	}

	for _, c := range def.Consumers {
		tag := c.Tag
		if tag == "" {
			tag = "ctag-" + uuid.NewString()
		}
		deliveries, err := ch.Consume(
			c.Queue,
			tag,
			false, // AutoAck
			c.Exclusive,
			false, // NoLocal
			false, // NoWait
			c.Arguments,
		)
		if err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("consume from %q: %w", c.Queue, err)
		}
		rc.consumers = append(rc.consumers, &RestoredConsumer{
			Tag:        tag,
			Queue:      c.Queue,
			deliveries: deliveries,
			channel:    rc,
		})
	}
	return rc, nil
}

// RestoredTopology is what Restore left running on a connection.
type RestoredTopology struct {
	channels []*RestoredChannel
}

// Channel returns the i-th restored channel, or nil.
func (r *RestoredTopology) Channel(i int) *RestoredChannel {
	if r == nil || i < 0 || i >= len(r.channels) {
		return nil
	}
	return r.channels[i]
}

// Len returns the number of restored channels.
func (r *RestoredTopology) Len() int {
	if r == nil {
		return 0
	}
	return len(r.channels)
}

func (r *RestoredTopology) close() {
	for _, rc := range r.channels {
		_ = rc.ch.Close()
	}
}

// RestoredChannel is an open channel and the consumers running on it.
type RestoredChannel struct {
	ch        Channel
	consumers []*RestoredConsumer

	mu        sync.Mutex
	cancels   <-chan string
	closes    <-chan *amqp.Error
	cancelled map[string]bool
	errored   bool
}

// Channel returns the underlying channel.
func (rc *RestoredChannel) Channel() Channel {
	return rc.ch
}

// Consumer returns the j-th consumer, or nil.
func (rc *RestoredChannel) Consumer(j int) *RestoredConsumer {
	if rc == nil || j < 0 || j >= len(rc.consumers) {
		return nil
	}
	return rc.consumers[j]
}

// Len returns the number of consumers on the channel.
func (rc *RestoredChannel) Len() int {
	if rc == nil {
		return 0
	}
	return len(rc.consumers)
}

// poll drains pending cancel and close notifications.
func (rc *RestoredChannel) poll() {
	for {
		select {
		case tag, ok := <-rc.cancels:
			if !ok {
				rc.cancels = nil
				rc.errored = true
				continue
			}
			if rc.cancelled == nil {
				rc.cancelled = make(map[string]bool)
			}
			rc.cancelled[tag] = true
		case _, ok := <-rc.closes:
			rc.errored = true
			if !ok {
				rc.closes = nil
			}
		default:
			if rc.ch.IsClosed() {
				rc.errored = true
			}
			return
		}
	}
}

func (rc *RestoredChannel) state(tag string) ConsumerState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.poll()
	switch {
	case rc.cancelled[tag]:
		return ConsumerCancelled
	case rc.errored:
		return ConsumerErrored
	default:
		return ConsumerActive
	}
}

// markCancelled records a cancel issued by this process.
func (rc *RestoredChannel) markCancelled(tag string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.cancelled == nil {
		rc.cancelled = make(map[string]bool)
	}
	rc.cancelled[tag] = true
}

// ConsumerState tells whether the broker still holds a consumer
// registration.
type ConsumerState int

const (
	// ConsumerActive means the broker still delivers to the consumer.
	ConsumerActive ConsumerState = iota
	ConsumerCancelled
	// ConsumerErrored means the channel itself closed.
	ConsumerErrored
)

// String returns the lowercase state name.
func (s ConsumerState) String() string {
	switch s {
	case ConsumerActive:
		return "active"
	case ConsumerCancelled:
		return "cancelled"
	case ConsumerErrored:
		return "errored"
	}
	return fmt.Sprintf("ConsumerState(%d)", int(s))
}

// RestoredConsumer is a consumer started by Restore.
type RestoredConsumer struct {
	Tag   string
	Queue string

	deliveries <-chan amqp.Delivery
	channel    *RestoredChannel
}

// Deliveries returns the consumer's delivery stream. It is closed when the
// channel closes or the broker cancels the consumer.
func (c *RestoredConsumer) Deliveries() <-chan amqp.Delivery {
	return c.deliveries
}

// State polls the channel's notifications and reports whether the consumer
// is still registered.
func (c *RestoredConsumer) State() ConsumerState {
	return c.channel.state(c.Tag)
}

// Cancel asks the broker to stop delivering to this consumer.
func (c *RestoredConsumer) Cancel() error {
	if err := c.channel.ch.Cancel(c.Tag, false); err != nil {
		return err
	}
	c.channel.markCancelled(c.Tag)
	return nil
}
