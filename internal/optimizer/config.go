// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package optimizer

import (
	"time"

	"github.com/l2seq/sequencer/internal/seqtypes"
)

// Config is the closed set of Mixed-Transaction Optimizer options.
type Config struct {
	WorkersPerType                  int     `koanf:"workers-per-type"`
	MaxQueueSizePerType             int     `koanf:"max-queue-size-per-type"`
	ProcessingIntervalMs            int     `koanf:"processing-interval-ms"`
	TransactionTimeoutMs            int     `koanf:"transaction-timeout-ms"`
	WaitingPriorityFactor           float64 `koanf:"waiting-priority-factor"`
	EnableAdaptiveLoadBalancing     bool    `koanf:"enable-adaptive-load-balancing"`
	AdaptiveLoadBalancingIntervalMs int     `koanf:"adaptive-load-balancing-interval-ms"`
	AdaptiveLoadBalancingFactor     float64 `koanf:"adaptive-load-balancing-factor"`
	SupportedTransactionTypes       []seqtypes.TxType `koanf:"-"`
}

// DefaultConfig covers every supported transaction type with an even split
// of workers.
func DefaultConfig() Config {
	return Config{
		WorkersPerType:                  2,
		MaxQueueSizePerType:             256,
		ProcessingIntervalMs:            50,
		TransactionTimeoutMs:            30000,
		WaitingPriorityFactor:           2.0,
		EnableAdaptiveLoadBalancing:     true,
		AdaptiveLoadBalancingIntervalMs: 5000,
		AdaptiveLoadBalancingFactor:     0.5,
		SupportedTransactionTypes:       seqtypes.SupportedTxTypes(),
	}
}

func (c Config) processingInterval() time.Duration {
	return time.Duration(c.ProcessingIntervalMs) * time.Millisecond
}

func (c Config) rebalanceInterval() time.Duration {
	return time.Duration(c.AdaptiveLoadBalancingIntervalMs) * time.Millisecond
}

func (c Config) transactionTimeout() time.Duration {
	return time.Duration(c.TransactionTimeoutMs) * time.Millisecond
}

func (c Config) supports(t seqtypes.TxType) bool {
	for _, s := range c.SupportedTransactionTypes {
		if s == t {
			return true
		}
	}
	return false
}
