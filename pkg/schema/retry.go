package schema

import "time"

// RetryPolicy configures the per-node retry wrapper: exponential backoff
// with a cap, bounded attempts and optional jitter.
type RetryPolicy struct {
	InitialInterval time.Duration `json:"initial_interval"`
	BackoffFactor   float64       `json:"backoff_factor"`
	MaxInterval     time.Duration `json:"max_interval"`
	MaxAttempts     int           `json:"max_attempts"`
	Jitter          bool          `json:"jitter"`
}

// DefaultRetryPolicy returns the standard node retry policy: 0.5s initial,
// doubling, capped at 128s, three attempts, jittered.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 500 * time.Millisecond,
		BackoffFactor:   2.0,
		MaxInterval:     128 * time.Second,
		MaxAttempts:     3,
		Jitter:          true,
	}
}
