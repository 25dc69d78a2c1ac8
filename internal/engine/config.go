package engine

import "time"

// Config bounds one loop invocation.
type Config struct {
	MaxSteps         int           // Model calls allowed per invocation (default: 10)
	RepeatLimit      int           // Identical consecutive calls tolerated before aborting (default: 2)
	Backoff          time.Duration // Pause after tool execution and repeat warnings (default: 1s)
	ObservationLimit int           // Max runes of tool output kept in history, 0 = unlimited (default: 4000)
	ModelRetry       RetryPolicy   // Retries around the model call
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxSteps:         10,
		RepeatLimit:      2,
		Backoff:          1 * time.Second,
		ObservationLimit: 4000,
		ModelRetry:       DefaultModelRetryPolicy(),
	}
}

// DefaultModelRetryPolicy retries transient provider failures twice.
func DefaultModelRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Overrides carries per-invocation adjustments. Nil fields keep the
// controller's configured value.
type Overrides struct {
	MaxSteps    *int
	RepeatLimit *int
	Backoff     *time.Duration
}

// Apply returns c with o applied and invalid values normalized.
func (c Config) Apply(o Overrides) Config {
	if o.MaxSteps != nil {
		c.MaxSteps = *o.MaxSteps
	}
	if o.RepeatLimit != nil {
		c.RepeatLimit = *o.RepeatLimit
	}
	if o.Backoff != nil {
		c.Backoff = *o.Backoff
	}
	return c.normalized()
}

func (c Config) normalized() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 10
	}
	if c.RepeatLimit < 0 {
		c.RepeatLimit = 0
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	if c.ObservationLimit < 0 {
		c.ObservationLimit = 0
	}
	return c
}
