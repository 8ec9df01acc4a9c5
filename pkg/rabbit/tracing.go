package rabbit

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceParentHeader carries the W3C trace context in message headers.
const TraceParentHeader = "traceparent"

// Telemetry is the trace propagation strategy chosen at startup.
// *tracer.Tracer satisfies it; without WithTelemetry nothing is traced.
type Telemetry interface {
	Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context
	Inject(ctx context.Context, carrier propagation.TextMapCarrier)
	StartSpan(ctx context.Context, name string) (context.Context, trace.Span)
	RecordErrorOnSpan(span trace.Span, err error)
}

type noopTelemetry struct{}

func (noopTelemetry) Extract(ctx context.Context, _ propagation.TextMapCarrier) context.Context {
	return ctx
}

func (noopTelemetry) Inject(context.Context, propagation.TextMapCarrier) {}

func (noopTelemetry) StartSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (noopTelemetry) RecordErrorOnSpan(trace.Span, error) {}

// HeaderCarrier adapts AMQP headers to propagation.TextMapCarrier. Values
// are read from string or []byte headers and always written as strings.
type HeaderCarrier amqp.Table

var _ propagation.TextMapCarrier = HeaderCarrier(nil)

// Get returns the header value for key, or "" if it is missing or not a string.
func (c HeaderCarrier) Get(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Set stores value under key.
func (c HeaderCarrier) Set(key, value string) {
	c[key] = value
}

// Keys lists the header names.
func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
