package tracer

import (
	"context"

	"go.uber.org/fx"
)

// FXModule provides a *Tracer and flushes it when the application stops, so
// spans of the last deliveries handled before shutdown are exported.
var FXModule = fx.Module("tracer",
	fx.Provide(NewClient),
	fx.Invoke(RegisterTracerLifecycle),
)

// RegisterTracerLifecycle flushes and shuts down the tracer provider on stop.
func RegisterTracerLifecycle(lc fx.Lifecycle, t *Tracer) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if t == nil || t.tracer == nil {
				return nil
			}
			if err := t.tracer.ForceFlush(ctx); err != nil {
				t.logger.Warn("failed to flush spans", err, nil)
			}
			t.logger.Info("tracer stopped", nil, nil)
			return t.Shutdown(ctx)
		},
	})
}
