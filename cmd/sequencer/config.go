// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package main

import (
	"context"
	"os"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/l2seq/sequencer/internal/bridge"
	"github.com/l2seq/sequencer/internal/bundleengine"
	"github.com/l2seq/sequencer/internal/optimizer"
	"github.com/l2seq/sequencer/internal/state"
	"github.com/l2seq/sequencer/internal/taxsystem"
)

// Config is the top-level configuration surface: one sub-config per engine,
// plus the process-wide knobs (status server address, log verbosity).
type Config struct {
	StatusServerAddr string `koanf:"status-addr"`
	LogLevel         int    `koanf:"log-level"`

	Bundle    bundleengine.Config `koanf:"bundle"`
	Optimizer optimizer.Config    `koanf:"optimizer"`
	Bridge    bridge.Config       `koanf:"bridge"`
	State     state.Config        `koanf:"state"`
	Tax       taxsystem.Rates     `koanf:"tax"`
}

// DefaultConfig mirrors the defaults each engine's own DefaultConfig
// returns, so an unconfigured binary starts with working settings.
func DefaultConfig() Config {
	return Config{
		StatusServerAddr: ":8080",
		LogLevel:         3,
		Bundle:           bundleengine.DefaultConfig(),
		Optimizer:        optimizer.DefaultConfig(),
		Bridge:           bridge.DefaultConfig(),
		State:            state.DefaultConfig(),
		Tax:              taxsystem.DefaultRates(),
	}
}

// ParseSequencerConfig loads configuration from CLI flags, mirroring the
// shape of ParseRelay: a pflag.FlagSet is populated with every knob, parsed
// against args, then fed into koanf via the posflag provider. An optional
// --config file is loaded first so flags always take precedence over it.
func ParseSequencerConfig(ctx context.Context, args []string) (*Config, error) {
	f := flag.NewFlagSet("sequencer", flag.ContinueOnError)

	def := DefaultConfig()

	f.String("config", "", "path to an optional JSON configuration file; flags override values it sets")
	f.String("status-addr", def.StatusServerAddr, "address the status server listens on")
	f.Int("log-level", def.LogLevel, "log verbosity (0=crit .. 5=trace)")

	f.Int("bundle.max-transactions-per-bundle", def.Bundle.MaxTransactionsPerBundle, "maximum transactions per bundle")
	f.Uint64("bundle.max-gas-per-bundle", def.Bundle.MaxGasPerBundle, "maximum gas per bundle")
	f.Int("bundle.timeout-seconds", def.Bundle.TimeoutSeconds, "bundle timeout in seconds")
	f.Uint64("bundle.priority-fee", def.Bundle.PriorityFee, "default priority fee")
	f.Int("bundle.worker-threads", def.Bundle.WorkerThreads, "bundle engine worker pool size")
	f.Int("bundle.max-concurrent-bundles", def.Bundle.MaxConcurrentBundles, "maximum bundles dispatched concurrently")
	f.Bool("bundle.use-adaptive-bundling", def.Bundle.UseAdaptiveBundling, "enable adaptive bundle sizing")
	f.Int("bundle.processing-interval-ms", def.Bundle.ProcessingIntervalMs, "tick interval in milliseconds")
	f.Int("bundle.max-transaction-retries", def.Bundle.MaxTransactionRetries, "maximum per-transaction retries")
	f.Int("bundle.transaction-retry-delay-ms", def.Bundle.TransactionRetryDelayMs, "delay between transaction retries")

	f.Int("optimizer.workers-per-type", def.Optimizer.WorkersPerType, "worker count per transaction type")
	f.Int("optimizer.max-queue-size-per-type", def.Optimizer.MaxQueueSizePerType, "maximum queued transactions per type")
	f.Int("optimizer.processing-interval-ms", def.Optimizer.ProcessingIntervalMs, "tick interval in milliseconds")
	f.Int("optimizer.transaction-timeout-ms", def.Optimizer.TransactionTimeoutMs, "per-transaction timeout")
	f.Float64("optimizer.waiting-priority-factor", def.Optimizer.WaitingPriorityFactor, "priority-aging factor")
	f.Bool("optimizer.enable-adaptive-load-balancing", def.Optimizer.EnableAdaptiveLoadBalancing, "enable worker rebalancing")
	f.Int("optimizer.adaptive-load-balancing-interval-ms", def.Optimizer.AdaptiveLoadBalancingIntervalMs, "rebalance interval")
	f.Float64("optimizer.adaptive-load-balancing-factor", def.Optimizer.AdaptiveLoadBalancingFactor, "rebalance step factor")

	f.Int("bridge.max-retries", def.Bridge.MaxRetries, "maximum bridge transaction retries")
	f.Int("bridge.initial-retry-delay-ms", def.Bridge.InitialRetryDelayMs, "initial retry delay")
	f.Float64("bridge.retry-backoff-factor", def.Bridge.RetryBackoffFactor, "retry backoff multiplier")
	f.Int("bridge.max-retry-delay-ms", def.Bridge.MaxRetryDelayMs, "maximum retry delay")
	f.Int("bridge.transaction-timeout-ms", def.Bridge.TransactionTimeoutMs, "bridge transaction timeout")
	f.Int("bridge.transaction-check-interval-ms", def.Bridge.TransactionCheckIntervalMs, "bridge tick interval")
	f.Int("bridge.circuit-breaker-error-threshold", def.Bridge.CircuitBreakerErrorThreshold, "errors before the breaker opens")
	f.Int("bridge.circuit-breaker-window-ms", def.Bridge.CircuitBreakerWindowMs, "breaker error window")
	f.Int("bridge.circuit-breaker-reset-ms", def.Bridge.CircuitBreakerResetMs, "breaker open->half-open delay")
	f.Int("bridge.worker-threads", def.Bridge.WorkerThreads, "bridge engine worker pool size")

	f.String("state.data-dir", def.State.DataDir, "badger data directory; empty opens an in-memory database")
	f.String("state.s3-bucket", def.State.S3Bucket, "optional S3 bucket for archival mirroring")
	f.String("state.s3-prefix", def.State.S3Prefix, "S3 key prefix for archival mirroring")
	f.String("state.s3-access-key-id", def.State.S3AccessKeyID, "static AWS access key id override for archival mirroring")
	f.String("state.s3-secret-access-key", def.State.S3SecretAccessKey, "static AWS secret access key override for archival mirroring")

	f.Uint64("tax.liquidity-bps", def.Tax.LiquidityBps, "liquidity tax basis points")
	f.Uint64("tax.marketing-bps", def.Tax.MarketingBps, "marketing tax basis points")
	f.Uint64("tax.development-bps", def.Tax.DevelopmentBps, "development tax basis points")
	f.Uint64("tax.burn-bps", def.Tax.BurnBps, "burn tax basis points")
	f.Uint64("tax.buyback-bps", def.Tax.BuybackBps, "buyback tax basis points")

	if err := f.Parse(args); err != nil {
		return nil, errors.Wrap(err, "parsing sequencer flags")
	}

	k := koanf.New(".")

	if configPath, _ := f.GetString("config"); configPath != "" {
		if _, statErr := os.Stat(configPath); statErr != nil {
			return nil, errors.Wrapf(statErr, "reading config file %s", configPath)
		}
		if err := k.Load(file.Provider(configPath), json.Parser()); err != nil {
			return nil, errors.Wrapf(err, "loading config file %s", configPath)
		}
	}

	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, errors.Wrap(err, "loading sequencer config")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshalling sequencer config")
	}
	// SupportedTransactionTypes has no flag surface; carry the default
	// through since koanf:"-" leaves it unset by Unmarshal.
	cfg.Optimizer.SupportedTransactionTypes = def.Optimizer.SupportedTransactionTypes
	return &cfg, nil
}
