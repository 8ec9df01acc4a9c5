package logger

// Supported values of Config.Level.
const (
	Debug   = "debug"
	Info    = "info"
	Warning = "warning"
	Error   = "error"
)

// Config defines the settings for the logger.
type Config struct {
	// 1. production -> INFO
	// 2. development -> DEBUG
	// else -> INFO
	Level string `yaml:"level" mapstructure:"level"`

	// ServiceName is attached to every entry as the "service" field.
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	// EnableTracing adds trace_id and span_id to entries written through the
	// *WithContext methods.
	EnableTracing bool `yaml:"enable_tracing" mapstructure:"enable_tracing"`
}
