package tracer

// Config controls how the tracer provider is built.
type Config struct {
	// ServiceName is recorded as the service.name resource attribute.
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	// AppEnv is recorded as deployment.environment.
	AppEnv string `yaml:"app_env" mapstructure:"app_env"`

	// EnableExport turns on the OTLP HTTP exporter. The endpoint is taken
	// from the standard OTEL_EXPORTER_OTLP_* environment variables.
	EnableExport bool `yaml:"enable_export" mapstructure:"enable_export"`
}
