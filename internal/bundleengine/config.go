// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bundleengine

import "time"

// Config is the closed set of Bundle Engine options named in the external
// interface surface: sizing/gas caps, worker pool shape, and the adaptive
// retry/bundling knobs.
type Config struct {
	MaxTransactionsPerBundle int    `koanf:"max-transactions-per-bundle"`
	MaxGasPerBundle          uint64 `koanf:"max-gas-per-bundle"`
	TimeoutSeconds           int    `koanf:"timeout-seconds"`
	PriorityFee              uint64 `koanf:"priority-fee"`
	WorkerThreads            int    `koanf:"worker-threads"`
	MaxConcurrentBundles     int    `koanf:"max-concurrent-bundles"`
	UseAdaptiveBundling      bool   `koanf:"use-adaptive-bundling"`
	ProcessingIntervalMs     int    `koanf:"processing-interval-ms"`
	MaxTransactionRetries    int    `koanf:"max-transaction-retries"`
	TransactionRetryDelayMs  int    `koanf:"transaction-retry-delay-ms"`
}

// DefaultConfig mirrors the kind of defaults a production deployment would
// start from before tuning.
func DefaultConfig() Config {
	return Config{
		MaxTransactionsPerBundle: 100,
		MaxGasPerBundle:          8_000_000,
		TimeoutSeconds:           30,
		PriorityFee:              0,
		WorkerThreads:            4,
		MaxConcurrentBundles:     4,
		UseAdaptiveBundling:      true,
		ProcessingIntervalMs:     200,
		MaxTransactionRetries:    3,
		TransactionRetryDelayMs:  1000,
	}
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c Config) processingInterval() time.Duration {
	return time.Duration(c.ProcessingIntervalMs) * time.Millisecond
}
