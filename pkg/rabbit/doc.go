// Package rabbit provides a resilient AMQP 0-9-1 consumer and publisher for
// RabbitMQ.
//
// Both sides declare their broker topology (exchanges, queues, bindings and
// consumers) from a JSON description and restore it on every new connection,
// so a broker restart or a dropped connection is invisible to the caller.
//
// Core Features:
//   - Consumer loop that reconnects with exponential backoff and never
//     surfaces connection errors to the caller
//   - Idempotent cancellation through a Trigger/Tripwire pair
//   - Ack, nack or hand-over of every delivery exactly once
//   - Publisher with confirms that reconnects and republishes transparently
//   - Trace context propagation through the traceparent message header
//   - JSON and protobuf codecs, and a generic TypedProcessor
//
// Consuming:
//
//	topology, err := rabbit.ParseTopology([]byte(blob))
//	if err != nil {
//		return err
//	}
//
//	processor := rabbit.ProcessorFunc(func(ctx context.Context, d *amqp.Delivery, ch rabbit.Channel) (rabbit.ShouldAck, error) {
//		if err := handle(ctx, d.Body); err != nil {
//			return false, err // nacked
//		}
//		return true, nil // acked
//	})
//
//	cancellation := rabbit.StartConsumer(url, topology, processor,
//		rabbit.WithLogger(log),
//		rabbit.WithRequeueOnNack(true),
//	)
//	defer cancellation.Cancel()
//
// A processor that returns false with a nil error takes over the delivery
// and must settle it itself, usually through NewAckable. Errors marked with
// Permanent are acked so a poison message does not loop forever.
//
// Publishing:
//
//	publisher, err := rabbit.NewPublisher(url, topology, rabbit.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	defer publisher.Close()
//
//	err = publisher.Publish(ctx, "events", "order.created", payload)
//
// Publish blocks until the broker confirmed the message. Concurrent callers
// share one channel; when it fails they trigger a single reconnect and every
// caller republishes its own payload.
//
// FX Module Integration:
//
//	app := fx.New(
//		logger.FXModule,
//		rabbit.FXModule,       // *rabbit.Publisher
//		rabbit.ConsumerModule, // needs a rabbit.MessageProcessor
//		// ... other modules
//	)
//	app.Run()
//
// Thread Safety:
//
// Publisher, Cancellation and Ackable are safe for concurrent use. A
// MessageProcessor is called from a single goroutine per consumer.
package rabbit
