package logger

import (
	"context"

	"go.uber.org/fx"
)

// FXModule provides the *Logger every other module adapts to its own Logger
// interface.
var FXModule = fx.Module("logger",
	fx.Provide(NewLoggerClient),
	fx.Invoke(RegisterLoggerLifecycle),
)

// RegisterLoggerLifecycle logs startup at debug level and syncs the Zap logger on stop.
func RegisterLoggerLifecycle(lc fx.Lifecycle, l *Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			l.Debug("logger started", nil, map[string]interface{}{"tracing": l.tracingEnabled})
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// stderr returns EINVAL/ENOTTY on Sync on some platforms; nothing is buffered there.
			_ = l.Zap.Sync()
			return nil
		},
	})
}
