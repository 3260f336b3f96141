package connector

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the process engine configuration. Every value that matters
// for correctness is explicit; Validate rejects anything that would make the
// engine's scheduling or retry behavior undefined.
type Config struct {
	// BatchSize is the maximum number of candidates fetched per entity type
	// per cycle.
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`

	// CycleInterval is the nominal time between processing cycles.
	CycleInterval time.Duration `yaml:"cycle_interval" env:"CYCLE_INTERVAL"`

	// CycleJitter is the fraction (0..1) of CycleInterval randomly added
	// or subtracted so a fleet of instances does not poll in lockstep.
	CycleJitter float64 `yaml:"cycle_jitter" env:"CYCLE_JITTER"`

	// Parallelism is the size of the bounded worker pool.
	Parallelism int `yaml:"parallelism" env:"PARALLELISM"`

	// LeaseTTL is how long a claimed entity stays exclusively owned.
	LeaseTTL time.Duration `yaml:"lease_ttl" env:"LEASE_TTL"`

	// MaxAttempts is the number of failed handler attempts in one state
	// after which the entity is forced to FAILED.
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`

	// BackoffBase is the delay after the first failed attempt. It doubles
	// with every further attempt.
	BackoffBase time.Duration `yaml:"backoff_base" env:"BACKOFF_BASE"`

	// BackoffCap bounds the backoff delay.
	BackoffCap time.Duration `yaml:"backoff_cap" env:"BACKOFF_CAP"`

	// BackoffJitter is the fraction (0..1) of each delay that is randomized.
	BackoffJitter float64 `yaml:"backoff_jitter" env:"BACKOFF_JITTER"`

	// HandlerTimeout bounds a single handler invocation. It must be shorter
	// than LeaseTTL.
	HandlerTimeout time.Duration `yaml:"handler_timeout" env:"HANDLER_TIMEOUT"`

	// ShutdownTimeout is the maximum time Stop waits for in-flight handlers.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// InstanceID is the lease holder identity. Empty means generate one.
	InstanceID string `yaml:"instance_id" env:"INSTANCE_ID"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:       20,
		CycleInterval:   time.Second,
		CycleJitter:     0.2,
		Parallelism:     8,
		LeaseTTL:        time.Minute,
		MaxAttempts:     7,
		BackoffBase:     time.Second,
		BackoffCap:      time.Minute,
		BackoffJitter:   0.5,
		HandlerTimeout:  30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate reports every invalid field, joined into one error.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positiveDur := func(name string, v time.Duration) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, v))
		}
	}
	fraction := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %g", name, v))
		}
	}

	positive("batch_size", c.BatchSize)
	positive("parallelism", c.Parallelism)
	positive("max_attempts", c.MaxAttempts)
	positiveDur("cycle_interval", c.CycleInterval)
	positiveDur("lease_ttl", c.LeaseTTL)
	positiveDur("backoff_base", c.BackoffBase)
	positiveDur("backoff_cap", c.BackoffCap)
	positiveDur("handler_timeout", c.HandlerTimeout)
	positiveDur("shutdown_timeout", c.ShutdownTimeout)
	fraction("cycle_jitter", c.CycleJitter)
	fraction("backoff_jitter", c.BackoffJitter)

	if c.BackoffCap > 0 && c.BackoffCap < c.BackoffBase {
		errs = append(errs, fmt.Errorf("backoff_cap %s is below backoff_base %s", c.BackoffCap, c.BackoffBase))
	}
	if c.HandlerTimeout > 0 && c.LeaseTTL > 0 && c.HandlerTimeout >= c.LeaseTTL {
		errs = append(errs, fmt.Errorf("handler_timeout %s must be shorter than lease_ttl %s", c.HandlerTimeout, c.LeaseTTL))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
