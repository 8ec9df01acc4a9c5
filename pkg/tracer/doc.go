// Package tracer wraps OpenTelemetry for amqpkit.
//
// NewClient builds a TracerProvider (optionally exporting over OTLP HTTP)
// and a W3C TraceContext+Baggage propagator. Besides span helpers, the
// Tracer exposes Extract and Inject over any propagation.TextMapCarrier,
// which is how trace context travels inside AMQP message headers:
//
//	tr := tracer.NewClient(tracer.Config{
//		ServiceName:  "amqp-relay",
//		AppEnv:       "production",
//		EnableExport: true,
//	}, log)
//
//	ctx = tr.Extract(ctx, carrier)
//	ctx, span := tr.StartSpan(ctx, "process_message")
//	defer span.End()
//
// *Tracer satisfies rabbit.Telemetry. FXModule provides it and shuts the
// provider down when the application stops.
package tracer
