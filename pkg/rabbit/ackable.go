package rabbit

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ManualAck settles a delivery outside the consume loop.
type ManualAck interface {
	Ack() error
	Nack() error
}

// Ackable remembers the delivery tag and the channel a delivery arrived on,
// so a handler that returned false from ProcessMessage can settle it later
// from any goroutine.
//
// A nil *Ackable stands for "nothing to settle": every method is a no-op.
// An Ackable is only valid until its channel is closed or replaced by a
// reconnect; the broker redelivers unsettled messages after that.
type Ackable struct {
	tag uint64
	ch  Channel
}

var _ ManualAck = (*Ackable)(nil)

// NewAckable captures delivery's tag together with the channel it arrived on.
func NewAckable(delivery *amqp.Delivery, ch Channel) *Ackable {
	return &Ackable{tag: delivery.DeliveryTag, ch: ch}
}

// DeliveryTag returns the captured tag, or 0 for a nil Ackable.
func (a *Ackable) DeliveryTag() uint64 {
	if a == nil {
		return 0
	}
	return a.tag
}

// Ack acknowledges the delivery. Errors wrap ErrAckFailed.
func (a *Ackable) Ack() error {
	if a == nil {
		return nil
	}
	if err := a.ch.Ack(a.tag, false); err != nil {
		return fmt.Errorf("%w: delivery %d: %w", ErrAckFailed, a.tag, err)
	}
	return nil
}

// Nack rejects the delivery without requeueing it.
func (a *Ackable) Nack() error {
	return a.nack(false)
}

// Requeue rejects the delivery and asks the broker to redeliver it.
func (a *Ackable) Requeue() error {
	return a.nack(true)
}

func (a *Ackable) nack(requeue bool) error {
	if a == nil {
		return nil
	}
	if err := a.ch.Nack(a.tag, false, requeue); err != nil {
		return fmt.Errorf("%w: delivery %d: %w", ErrNackFailed, a.tag, err)
	}
	return nil
}
