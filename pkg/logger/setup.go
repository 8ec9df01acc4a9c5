package logger

import (
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around Uber's Zap logger. It satisfies the Logger
// interfaces of the rabbit, tracer and metrics packages.
type Logger struct {
	Zap *zap.Logger

	tracingEnabled bool
}

// NewLoggerClient initializes and returns a new instance of the logger based on configuration.
// Entries are written as JSON to stderr.
//
// Parameters:
//   - cfg: Level selects the minimum level (unknown values fall back to info),
//     ServiceName is attached as the "service" field and EnableTracing turns on
//     trace_id/span_id in the *WithContext methods
//
// Returns:
//   - *Logger: A ready to use logger. A zap configuration error is fatal.
//
// Example:
//
//	log := logger.NewLoggerClient(logger.Config{Level: logger.Debug, ServiceName: "amqp-relay"})
//	log.Info("starting", nil, nil)
func NewLoggerClient(cfg Config) *Logger {

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderCfg.EncodeDuration = zapcore.MillisDurationEncoder

	config := zap.Config{
		Level:             zap.NewAtomicLevelAt(parseLevel(cfg.Level)),
		Development:       false,
		DisableCaller:     false,
		DisableStacktrace: false,
		Sampling:          nil,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths: []string{
			"stderr",
		},
		ErrorOutputPaths: []string{
			"stderr",
		},
		InitialFields: map[string]interface{}{
			"pid":     os.Getpid(),
			"service": cfg.ServiceName,
		},
	}

	logger, err := config.Build(zap.AddCaller(), zap.AddCallerSkip(1))

	if err != nil {
		log.Fatal(err)
	}

	return &Logger{Zap: logger, tracingEnabled: cfg.EnableTracing}
}

// NewFromZap wraps an existing zap logger, e.g. one built on a
// zaptest/observer core.
func NewFromZap(z *zap.Logger, enableTracing bool) *Logger {
	return &Logger{Zap: z, tracingEnabled: enableTracing}
}

// parseLevel maps a configured level name to a zap level.
func parseLevel(level string) zapcore.Level {
	switch level {
	case Debug:
		return zap.DebugLevel
	case Info:
		return zap.InfoLevel
	case Warning:
		return zap.WarnLevel
	case Error:
		return zap.ErrorLevel
	}
	return zap.InfoLevel
}
