package rabbit

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ShouldAck tells the consume loop whether to ack a successfully processed
// delivery. false hands the delivery over to the processor, which must
// settle it later, usually through an Ackable.
type ShouldAck = bool

// MessageProcessor handles one delivery. ch is the channel the delivery
// arrived on.
//
// Returning an error marked with Permanent acks the delivery; any other
// error nacks it.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, delivery *amqp.Delivery, ch Channel) (ShouldAck, error)
}

// ProcessorFunc adapts a plain function to MessageProcessor.
type ProcessorFunc func(ctx context.Context, delivery *amqp.Delivery, ch Channel) (ShouldAck, error)

// ProcessMessage calls f.
func (f ProcessorFunc) ProcessMessage(ctx context.Context, delivery *amqp.Delivery, ch Channel) (ShouldAck, error) {
	return f(ctx, delivery, ch)
}

// ErrPermanent matches every error built by Permanent.
var ErrPermanent = errors.New("permanent error")

// PermanentError marks a message that can never be processed successfully.
type PermanentError struct {
	Err error
}

// Error prefixes the marked error with "permanent error".
func (e *PermanentError) Error() string {
	if e.Err == nil {
		return ErrPermanent.Error()
	}
	return "permanent error: " + e.Err.Error()
}

// Unwrap returns the marked error.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Is matches ErrPermanent.
func (e *PermanentError) Is(target error) bool {
	return target == ErrPermanent
}

// Permanent marks err so the consumer acks the delivery instead of nacking
// it. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or any error it wraps, was marked with Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// TypedHandler handles decoded messages of type T.
type TypedHandler[T any] interface {
	HandleMessage(ctx context.Context, msg *T) error
}

// TypedHandlerFunc adapts a plain function to TypedHandler.
type TypedHandlerFunc[T any] func(ctx context.Context, msg *T) error

// HandleMessage calls f.
func (f TypedHandlerFunc[T]) HandleMessage(ctx context.Context, msg *T) error {
	return f(ctx, msg)
}

type typedOptions struct {
	routingKey string
	codec      Codec
	logger     Logger
}

// TypedOption configures NewTypedProcessor.
type TypedOption func(*typedOptions)

// WithRoutingKey makes the processor accept only deliveries with this
// routing key. Others are acked without being decoded.
func WithRoutingKey(key string) TypedOption {
	return func(o *typedOptions) {
		o.routingKey = key
	}
}

// WithDecoder sets the codec used to decode payloads. JSON by default.
func WithDecoder(codec Codec) TypedOption {
	return func(o *typedOptions) {
		if codec != nil {
			o.codec = codec
		}
	}
}

// WithProcessorLogger sets the logger used for rejected and failed deliveries.
func WithProcessorLogger(logger Logger) TypedOption {
	return func(o *typedOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// TypedProcessor decodes each delivery into a T and passes it to a
// TypedHandler.
type TypedProcessor[T any] struct {
	handler    TypedHandler[T]
	routingKey string
	codec      Codec
	logger     Logger
}

// NewTypedProcessor builds a MessageProcessor that decodes each payload into
// a fresh T before handing it to handler.
//
// Parameters:
//   - handler: Receives every decoded message. A nil error acks the delivery,
//     an error marked with Permanent acks it too and any other error nacks it
//   - opts: WithRoutingKey, WithDecoder and WithProcessorLogger
//
// Returns:
//   - *TypedProcessor[T]: A processor ready to be passed to StartConsumer
//
// Example:
//
//	processor := rabbit.NewTypedProcessor[OrderCreated](
//	    rabbit.TypedHandlerFunc[OrderCreated](func(ctx context.Context, msg *OrderCreated) error {
//	        return orders.Save(ctx, msg)
//	    }),
//	    rabbit.WithRoutingKey("order.created"),
//	)
func NewTypedProcessor[T any](handler TypedHandler[T], opts ...TypedOption) *TypedProcessor[T] {
	o := typedOptions{codec: JSONCodec{}, logger: noopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &TypedProcessor[T]{
		handler:    handler,
		routingKey: o.routingKey,
		codec:      o.codec,
		logger:     o.logger,
	}
}

// ProcessMessage acks deliveries with an unexpected routing key, returns a
// transient error for payloads that fail to decode and passes handler
// errors through unchanged.
func (p *TypedProcessor[T]) ProcessMessage(ctx context.Context, delivery *amqp.Delivery, _ Channel) (ShouldAck, error) {
	if p.routingKey != "" && delivery.RoutingKey != p.routingKey {
		p.logger.Warn("unsupported routing key", nil, map[string]interface{}{
			"delivery_tag": delivery.DeliveryTag,
			"routing_key":  delivery.RoutingKey,
		})
		return true, nil
	}

	msg := new(T)
	if err := p.codec.Decode(delivery.Body, msg); err != nil {
		p.logger.Warn("failed to deserialize message", err, map[string]interface{}{
			"delivery_tag": delivery.DeliveryTag,
		})
		return false, fmt.Errorf("decode message: %w", err)
	}

	if err := p.handler.HandleMessage(ctx, msg); err != nil {
		p.logger.Warn("failed to handle message", err, map[string]interface{}{
			"delivery_tag": delivery.DeliveryTag,
		})
		return false, err
	}
	return true, nil
}
