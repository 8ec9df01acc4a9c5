package rabbit

import (
	"errors"
	"fmt"

	"github.com/relaykit/amqpkit/pkg/retry"
)

// Errors returned by consumers and publishers. Match them with errors.Is.
var (
	ErrConnectionFailed   = errors.New("failed to connect to broker")
	ErrTopologyRestore    = errors.New("failed to restore topology")
	ErrChannelFailed      = errors.New("failed to open channel")
	ErrStreamClosed       = errors.New("delivery stream closed")
	ErrConsumerCancelled  = errors.New("consumer cancelled by broker")
	ErrAckFailed          = errors.New("failed to ack message")
	ErrNackFailed         = errors.New("failed to nack message")
	ErrPublishFailed      = errors.New("failed to publish message")
	ErrPublishNacked      = errors.New("publish was nacked by broker")
	ErrPublisherClosed    = errors.New("publisher is closed")
	ErrInvalidTopology    = errors.New("invalid topology")
	ErrUnsupportedMessage = errors.New("unsupported message type")

	// ErrRetryExhausted is returned once a bounded reconnect policy gives up.
	ErrRetryExhausted = retry.ErrExhausted
)

// ConsumeError ties a failure in the consume loop to the delivery it
// happened on.
type ConsumeError struct {
	Op          string
	DeliveryTag uint64
	Err         error
}

// Error names the operation and the delivery tag.
func (e *ConsumeError) Error() string {
	return fmt.Sprintf("%s delivery %d: %v", e.Op, e.DeliveryTag, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConsumeError) Unwrap() error {
	return e.Err
}
