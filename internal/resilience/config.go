package resilience

import "time"

// FromRetryConfig builds a RetryConfig from flat config values. Zero values
// keep the defaults.
func FromRetryConfig(maxAttempts int, initial, maxBackoff time.Duration, multiplier, jitter float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initial > 0 {
		cfg.Backoff.Initial = initial
	}
	if maxBackoff > 0 {
		cfg.Backoff.Max = maxBackoff
	}
	if multiplier > 0 {
		cfg.Backoff.Multiplier = multiplier
	}
	if jitter >= 0 {
		cfg.JitterFraction = jitter
	}
	return cfg
}

// FromCircuitConfig builds a CircuitBreakerConfig from flat config values.
func FromCircuitConfig(failureThreshold int, resetTimeout time.Duration) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeout > 0 {
		cfg.ResetTimeout = resetTimeout
	}
	return cfg
}
