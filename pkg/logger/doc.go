// Package logger provides the structured zap logger shared by the amqpkit
// consumer, publisher and relay binary.
//
// Entries are JSON encoded with ISO8601 timestamps and carry the process id
// and the configured service name. Every level method takes an optional error
// and any number of field maps:
//
//	log := logger.NewLoggerClient(logger.Config{
//		Level:         "info",
//		ServiceName:   "amqp-relay",
//		EnableTracing: true,
//	})
//
//	log.Warn("consumer reconnecting", err, map[string]interface{}{
//		"queue": "orders",
//	})
//
// The *WithContext variants add trace_id and span_id when the context holds a
// valid OpenTelemetry span and tracing is enabled:
//
//	log.InfoWithContext(ctx, "relayed message", nil, nil)
//
// *Logger satisfies rabbit.Logger, so it can be handed straight to
// rabbit.WithLogger or provided through FXModule.
package logger
