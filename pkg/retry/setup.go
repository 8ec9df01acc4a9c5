package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy hands out retry delays. It wraps backoff.ExponentialBackOff, caps
// every delay at MaxInterval and reports exhaustion explicitly instead of
// returning backoff.Stop.
//
// A Policy is not safe for concurrent use; every retry loop owns its own.
type Policy struct {
	cfg Config
	b   *backoff.ExponentialBackOff
}

// Option tunes a Policy.
type Option func(*Policy)

// WithClock replaces the clock used to measure elapsed time.
func WithClock(clock backoff.Clock) Option {
	return func(p *Policy) {
		p.b.Clock = clock
	}
}

// NewPolicy creates a policy from cfg. Zero fields fall back to the defaults
// from DefaultConfig.
func NewPolicy(cfg Config, opts ...Option) *Policy {
	cfg = cfg.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.RandomizationFactor = cfg.RandomizationFactor
	b.Multiplier = cfg.Multiplier
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = cfg.MaxElapsedTime

	p := &Policy{cfg: cfg, b: b}
	for _, opt := range opts {
		opt(p)
	}
	p.b.Reset()
	return p
}

// NextDelay returns how long to wait before the next attempt. The boolean is
// false once MaxElapsedTime is set and has been exceeded; the caller must
// treat that as a permanent failure.
func (p *Policy) NextDelay() (time.Duration, bool) {
	next := p.b.NextBackOff()
	if next == backoff.Stop {
		return 0, false
	}
	if next > p.cfg.MaxInterval {
		next = p.cfg.MaxInterval
	}
	return next, true
}

// Reset restarts delay growth and the elapsed-time clock.
func (p *Policy) Reset() {
	p.b.Reset()
}

// Elapsed is the time since the last Reset.
func (p *Policy) Elapsed() time.Duration {
	return p.b.GetElapsedTime()
}

// NextBackOff implements backoff.BackOff so a Policy can be handed to the
// backoff package helpers.
func (p *Policy) NextBackOff() time.Duration {
	next, ok := p.NextDelay()
	if !ok {
		return backoff.Stop
	}
	return next
}

// Config returns the effective configuration.
func (p *Policy) Config() Config {
	return p.cfg
}
