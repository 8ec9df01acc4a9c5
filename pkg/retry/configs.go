package retry

import "time"

const (
	DefaultInitialInterval     = 500 * time.Millisecond
	DefaultRandomizationFactor = 0.5
	DefaultMultiplier          = 1.5
	DefaultMaxInterval         = 60 * time.Second

	// DefaultCallTimeout bounds CallWithDefaultTimeout.
	DefaultCallTimeout = 30 * time.Second
)

// Config describes an exponential backoff policy.
type Config struct {
	// InitialInterval is the first delay handed out after a failure.
	InitialInterval time.Duration `yaml:"initial_interval" mapstructure:"initial_interval"`

	// RandomizationFactor spreads each delay over
	// [delay*(1-factor), delay*(1+factor)]. Zero disables jitter.
	RandomizationFactor float64 `yaml:"randomization_factor" mapstructure:"randomization_factor"`

	// Multiplier grows the delay after every attempt.
	Multiplier float64 `yaml:"multiplier" mapstructure:"multiplier"`

	// MaxInterval caps a single delay.
	MaxInterval time.Duration `yaml:"max_interval" mapstructure:"max_interval"`

	// MaxElapsedTime makes the policy give up once this much time has passed
	// since the last Reset. Zero means retry forever.
	MaxElapsedTime time.Duration `yaml:"max_elapsed_time" mapstructure:"max_elapsed_time"`
}

// DefaultConfig returns the unbounded policy used by the consumer and the
// publisher reconnect path.
func DefaultConfig() Config {
	return Config{
		InitialInterval:     DefaultInitialInterval,
		RandomizationFactor: DefaultRandomizationFactor,
		Multiplier:          DefaultMultiplier,
		MaxInterval:         DefaultMaxInterval,
	}
}

// withDefaults fills zero fields, except MaxElapsedTime and
// RandomizationFactor whose zero values are meaningful.
func (c Config) withDefaults() Config {
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultInitialInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = DefaultMultiplier
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.RandomizationFactor < 0 || c.RandomizationFactor > 1 {
		c.RandomizationFactor = DefaultRandomizationFactor
	}
	return c
}
