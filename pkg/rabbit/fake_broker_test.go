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

var errBrokerDown = errors.New("dial tcp: connection refused")

// fastRetry keeps reconnect loops in tests in the millisecond range.
var fastRetry = retry.Config{
	InitialInterval: 2 * time.Millisecond,
	Multiplier:      1.5,
	MaxInterval:     20 * time.Millisecond,
}

type fakeMessage struct {
	exchange    string
	routingKey  string
	contentType string
	headers     amqp.Table
	body        []byte
	redelivered bool
}

type settled struct {
	tag     uint64
	body    string
	requeue bool
}

type published struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

type fakeBinding struct {
	source string
	key    string
}

type fakeQueue struct {
	name      string
	messages  []fakeMessage
	bindings  []fakeBinding
	consumers []*fakeConsumer
	next      int
}

type fakeConsumer struct {
	tag        string
	queue      *fakeQueue
	ch         *fakeChannel
	deliveries chan amqp.Delivery
}

type pending struct {
	msg   fakeMessage
	queue *fakeQueue
}

// fakeBroker is an in-memory AMQP broker. All state is guarded by mu.
type fakeBroker struct {
	mu sync.Mutex

	down          bool
	dials         int
	failPublishes int
	nackPublishes int
	declareErr    error

	exchanges map[string]string
	exBinds   map[string][]fakeBinding
	queues    map[string]*fakeQueue
	conns     []*fakeConn

	acked         []settled
	nacked        []settled
	unknownSettle int
	cancelled     []string
	published     []published
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		exchanges: make(map[string]string),
		exBinds:   make(map[string][]fakeBinding),
		queues:    make(map[string]*fakeQueue),
	}
}

func (b *fakeBroker) dial(string) (Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.down {
		return nil, errBrokerDown
	}
	conn := &fakeConn{b: b}
	b.conns = append(b.conns, conn)
	return conn, nil
}

func (b *fakeBroker) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *fakeBroker) setDeclareErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declareErr = err
}

func (b *fakeBroker) failNextPublishes(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPublishes = n
}

func (b *fakeBroker) nackNextPublishes(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nackPublishes = n
}

// enqueue puts a message straight onto a queue, declaring it if needed.
func (b *fakeBroker) enqueue(queue string, body []byte, headers amqp.Table) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueLocked(queue)
	q.messages = append(q.messages, fakeMessage{routingKey: queue, body: body, headers: headers})
	b.dispatchLocked(q)
}

func (b *fakeBroker) enqueueWithKey(queue, routingKey string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueLocked(queue)
	q.messages = append(q.messages, fakeMessage{routingKey: routingKey, body: body})
	b.dispatchLocked(q)
}

// dropConnections simulates a network failure.
func (b *fakeBroker) dropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, conn := range b.conns {
		conn.closeLocked(&amqp.Error{Code: amqp.ConnectionForced, Reason: "connection reset", Server: true})
	}
	b.conns = nil
}

// closeChannels closes every open channel but keeps connections up.
func (b *fakeBroker) closeChannels() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, conn := range b.conns {
		for _, ch := range conn.channels {
			ch.closeLocked(&amqp.Error{Code: amqp.ChannelError, Reason: "channel closed by test", Server: true})
		}
	}
}

// cancelConsumers simulates a broker-side basic.cancel, e.g. after the
// queue was deleted.
func (b *fakeBroker) cancelConsumers(queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return
	}
	for _, c := range q.consumers {
		for _, n := range c.ch.cancelNotify {
			select {
			case n <- c.tag:
			default:
			}
		}
		c.ch.removeConsumerLocked(c)
		close(c.deliveries)
	}
	q.consumers = nil
}

func (b *fakeBroker) queueLocked(name string) *fakeQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &fakeQueue{name: name}
		b.queues[name] = q
	}
	return q
}

func (b *fakeBroker) dispatchLocked(q *fakeQueue) {
	for len(q.messages) > 0 && len(q.consumers) > 0 {
		c := q.consumers[q.next%len(q.consumers)]
		q.next++
		msg := q.messages[0]

		c.ch.nextTag++
		tag := c.ch.nextTag
		d := amqp.Delivery{
			ConsumerTag: c.tag,
			DeliveryTag: tag,
			Redelivered: msg.redelivered,
			Exchange:    msg.exchange,
			RoutingKey:  msg.routingKey,
			ContentType: msg.contentType,
			Headers:     msg.headers,
			Body:        msg.body,
		}
		select {
		case c.deliveries <- d:
			q.messages = q.messages[1:]
			c.ch.unacked[tag] = pending{msg: msg, queue: q}
		default:
			c.ch.nextTag--
			return
		}
	}
}

func (b *fakeBroker) route(exchange, key string) []*fakeQueue {
	if exchange == "" {
		if q, ok := b.queues[key]; ok {
			return []*fakeQueue{q}
		}
		return nil
	}
	kind, ok := b.exchanges[exchange]
	if !ok {
		return nil
	}
	var out []*fakeQueue
	for _, q := range b.queues {
		for _, bind := range q.bindings {
			if bind.source == exchange && (kind == amqp.ExchangeFanout || bind.key == key || bind.key == "#") {
				out = append(out, q)
				break
			}
		}
	}
	return out
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBroker) ackedMessages() []settled {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]settled(nil), b.acked...)
}

func (b *fakeBroker) nackedMessages() []settled {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]settled(nil), b.nacked...)
}

func (b *fakeBroker) publishedMessages() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

func (b *fakeBroker) cancelledTags() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

func (b *fakeBroker) unknownSettles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unknownSettle
}

func (b *fakeBroker) queueLen(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return len(q.messages)
	}
	return 0
}

func (b *fakeBroker) hasExchange(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.exchanges[name]
	return ok
}

func (b *fakeBroker) consumerCount(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.consumers)
	}
	return 0
}

type fakeConn struct {
	b        *fakeBroker
	closed   bool
	channels []*fakeChannel
}

func (c *fakeConn) Channel() (Channel, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &fakeChannel{b: c.b, conn: c, unacked: make(map[uint64]pending)}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) IsClosed() bool {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closeLocked(nil)
	return nil
}

func (c *fakeConn) closeLocked(err *amqp.Error) {
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.channels {
		ch.closeLocked(err)
	}
}

type fakeChannel struct {
	b       *fakeBroker
	conn    *fakeConn
	closed  bool
	confirm bool
	nextTag uint64
	unacked map[uint64]pending

	consumers    []*fakeConsumer
	cancelNotify []chan string
	closeNotify  []chan *amqp.Error
}

func (ch *fakeChannel) closeLocked(err *amqp.Error) {
	if ch.closed {
		return
	}
	ch.closed = true

	for _, c := range ch.consumers {
		c.queue.consumers = removeConsumer(c.queue.consumers, c)
		close(c.deliveries)
	}
	ch.consumers = nil

	touched := map[*fakeQueue]bool{}
	for _, p := range ch.unacked {
		msg := p.msg
		msg.redelivered = true
		p.queue.messages = append([]fakeMessage{msg}, p.queue.messages...)
		touched[p.queue] = true
	}
	ch.unacked = map[uint64]pending{}

	for _, n := range ch.closeNotify {
		if err != nil {
			select {
			case n <- err:
			default:
			}
		}
		close(n)
	}
	ch.closeNotify = nil
	for _, n := range ch.cancelNotify {
		close(n)
	}
	ch.cancelNotify = nil

	for q := range touched {
		ch.b.dispatchLocked(q)
	}
}

func (ch *fakeChannel) removeConsumerLocked(c *fakeConsumer) {
	for i, existing := range ch.consumers {
		if existing == c {
			ch.consumers = append(ch.consumers[:i], ch.consumers[i+1:]...)
			return
		}
	}
}

func removeConsumer(list []*fakeConsumer, c *fakeConsumer) []*fakeConsumer {
	for i, existing := range list {
		if existing == c {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func (ch *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if ch.b.declareErr != nil {
		return ch.b.declareErr
	}
	ch.b.exchanges[name] = kind
	return nil
}

func (ch *fakeChannel) ExchangeBind(destination, key, source string, _ bool, _ amqp.Table) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if _, ok := ch.b.exchanges[source]; !ok {
		return fmt.Errorf("NOT_FOUND - no exchange '%s'", source)
	}
	ch.b.exBinds[destination] = append(ch.b.exBinds[destination], fakeBinding{source: source, key: key})
	return nil
}

func (ch *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	q := ch.b.queueLocked(name)
	return amqp.Queue{Name: name, Messages: len(q.messages), Consumers: len(q.consumers)}, nil
}

func (ch *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if _, ok := ch.b.exchanges[exchange]; !ok {
		return fmt.Errorf("NOT_FOUND - no exchange '%s'", exchange)
	}
	q := ch.b.queueLocked(name)
	q.bindings = append(q.bindings, fakeBinding{source: exchange, key: key})
	return nil
}

func (ch *fakeChannel) QueuePurge(name string, _ bool) (int, error) {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return 0, amqp.ErrClosed
	}
	q, ok := ch.b.queues[name]
	if !ok {
		return 0, fmt.Errorf("NOT_FOUND - no queue '%s'", name)
	}
	n := len(q.messages)
	q.messages = nil
	return n, nil
}

func (ch *fakeChannel) Qos(int, int, bool) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	return nil
}

func (ch *fakeChannel) Confirm(bool) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.confirm = true
	return nil
}

func (ch *fakeChannel) Consume(queue, consumer string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	q, ok := ch.b.queues[queue]
	if !ok {
		return nil, fmt.Errorf("NOT_FOUND - no queue '%s'", queue)
	}
	c := &fakeConsumer{tag: consumer, queue: q, ch: ch, deliveries: make(chan amqp.Delivery, 256)}
	q.consumers = append(q.consumers, c)
	ch.consumers = append(ch.consumers, c)
	ch.b.dispatchLocked(q)
	return c.deliveries, nil
}

func (ch *fakeChannel) Cancel(consumer string, _ bool) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	for _, c := range ch.consumers {
		if c.tag == consumer {
			c.queue.consumers = removeConsumer(c.queue.consumers, c)
			ch.removeConsumerLocked(c)
			close(c.deliveries)
			ch.b.cancelled = append(ch.b.cancelled, consumer)
			return nil
		}
	}
	return fmt.Errorf("unknown consumer tag %q", consumer)
}

func (ch *fakeChannel) Ack(tag uint64, _ bool) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	p, ok := ch.unacked[tag]
	if !ok {
		ch.b.unknownSettle++
		return fmt.Errorf("PRECONDITION_FAILED - unknown delivery tag %d", tag)
	}
	delete(ch.unacked, tag)
	ch.b.acked = append(ch.b.acked, settled{tag: tag, body: string(p.msg.body)})
	return nil
}

func (ch *fakeChannel) Nack(tag uint64, _ bool, requeue bool) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	p, ok := ch.unacked[tag]
	if !ok {
		ch.b.unknownSettle++
		return fmt.Errorf("PRECONDITION_FAILED - unknown delivery tag %d", tag)
	}
	delete(ch.unacked, tag)
	ch.b.nacked = append(ch.b.nacked, settled{tag: tag, body: string(p.msg.body), requeue: requeue})
	if requeue {
		msg := p.msg
		msg.redelivered = true
		p.queue.messages = append([]fakeMessage{msg}, p.queue.messages...)
		ch.b.dispatchLocked(p.queue)
	}
	return nil
}

func (ch *fakeChannel) NotifyCancel(c chan string) chan string {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		close(c)
		return c
	}
	ch.cancelNotify = append(ch.cancelNotify, c)
	return c
}

func (ch *fakeChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		close(c)
		return c
	}
	ch.closeNotify = append(ch.closeNotify, c)
	return c
}

func (ch *fakeChannel) IsClosed() bool {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	return ch.closed
}

func (ch *fakeChannel) Close() error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.closeLocked(nil)
	return nil
}

func (ch *fakeChannel) PublishWithConfirm(_ context.Context, exchange, key string, msg amqp.Publishing) (Confirmation, error) {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	if ch.b.failPublishes > 0 {
		ch.b.failPublishes--
		ch.closeLocked(&amqp.Error{Code: amqp.ChannelError, Reason: "injected publish failure", Server: true})
		return nil, amqp.ErrClosed
	}

	body := append([]byte(nil), msg.Body...)
	msg.Body = body
	ch.b.published = append(ch.b.published, published{exchange: exchange, routingKey: key, msg: msg})

	for _, q := range ch.b.route(exchange, key) {
		q.messages = append(q.messages, fakeMessage{
			exchange:    exchange,
			routingKey:  key,
			contentType: msg.ContentType,
			headers:     msg.Headers,
			body:        body,
		})
		ch.b.dispatchLocked(q)
	}

	if !ch.confirm {
		return nil, nil
	}
	acked := true
	if ch.b.nackPublishes > 0 {
		ch.b.nackPublishes--
		acked = false
	}
	return fakeConfirmation{acked: acked}, nil
}

type fakeConfirmation struct {
	acked bool
}

func (c fakeConfirmation) WaitContext(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.acked, nil
}
