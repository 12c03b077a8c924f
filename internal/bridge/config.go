// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bridge

import (
	"math"
	"time"
)

// Config is the closed set of Bridge Reliability Engine options: retry
// timing, timeout/poll cadence, and circuit-breaker thresholds.
type Config struct {
	MaxRetries          int     `koanf:"max-retries"`
	InitialRetryDelayMs int     `koanf:"initial-retry-delay-ms"`
	RetryBackoffFactor  float64 `koanf:"retry-backoff-factor"`
	MaxRetryDelayMs     int     `koanf:"max-retry-delay-ms"`

	TransactionTimeoutMs       int `koanf:"transaction-timeout-ms"`
	TransactionCheckIntervalMs int `koanf:"transaction-check-interval-ms"`

	CircuitBreakerErrorThreshold int `koanf:"circuit-breaker-error-threshold"`
	CircuitBreakerWindowMs       int `koanf:"circuit-breaker-window-ms"`
	CircuitBreakerResetMs        int `koanf:"circuit-breaker-reset-ms"`

	// WorkerThreads sizes the fixed pool that performs executor/verifier
	// calls off the orchestrator goroutine. Not part of the named
	// configuration surface, but required to give execute/verify calls a
	// cancelable worker context, the same way the Bundle Engine and
	// Optimizer each own a worker pool.
	WorkerThreads int `koanf:"worker-threads"`
}

// DefaultConfig mirrors reasonable production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:                   5,
		InitialRetryDelayMs:          1000,
		RetryBackoffFactor:           2.0,
		MaxRetryDelayMs:              60_000,
		TransactionTimeoutMs:         300_000,
		TransactionCheckIntervalMs:   1000,
		CircuitBreakerErrorThreshold: 5,
		CircuitBreakerWindowMs:       30_000,
		CircuitBreakerResetMs:        60_000,
		WorkerThreads:                4,
	}
}

func (c Config) checkInterval() time.Duration {
	return time.Duration(c.TransactionCheckIntervalMs) * time.Millisecond
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.TransactionTimeoutMs) * time.Millisecond
}

// retryDelay implements delay_n = min(maxRetryDelayMs,
// initialRetryDelayMs * retryBackoffFactor^(n-1) * (1 + 0.2*jitter)),
// jitter in [0,1). n is the 1-based attempt number.
func (c Config) retryDelay(n int, jitter float64) time.Duration {
	if n < 1 {
		n = 1
	}
	base := float64(c.InitialRetryDelayMs) * math.Pow(c.RetryBackoffFactor, float64(n-1))
	withJitter := base * (1 + 0.2*jitter)
	if withJitter > float64(c.MaxRetryDelayMs) {
		withJitter = float64(c.MaxRetryDelayMs)
	}
	return time.Duration(withJitter) * time.Millisecond
}
