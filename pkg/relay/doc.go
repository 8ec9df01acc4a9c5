// Package relay forwards deliveries from one queue to one or more exchanges.
//
// It is the processor behind cmd/amqp-relay: the rabbit consumer hands each
// delivery to Processor, which publishes the body to every Target through a
// confirming rabbit.Publisher and acks only when all of them succeeded.
package relay
