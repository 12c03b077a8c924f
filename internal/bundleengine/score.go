// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bundleengine

import (
	"github.com/l2seq/sequencer/internal/seqtypes"
)

const baselineTxGas = 21000

// computeScore implements the weighted optimization score:
// 0.4·fullness + 0.3·avg_priority + 0.2·gas_efficiency + 0.1·type_diversity.
func computeScore(b *seqtypes.Bundle, effectiveMaxSize int) float64 {
	n := b.Len()
	if n == 0 {
		return 0
	}

	fullness := 0.0
	if effectiveMaxSize > 0 {
		fullness = min100(100 * float64(n) / float64(effectiveMaxSize))
	}

	var prioritySum float64
	for _, tx := range b.Transactions {
		prioritySum += tx.Priority
	}
	avgPriority := min100(prioritySum / float64(n))

	gasEfficiency := 0.0
	if b.TotalGas > 0 {
		gasEfficiency = min100(100 * float64(n*baselineTxGas) / float64(b.TotalGas))
	}

	typeDiversity := min100(33.33 * float64(len(b.TypesPresent)))

	return 0.4*fullness + 0.3*avgPriority + 0.2*gasEfficiency + 0.1*typeDiversity
}

func min100(v float64) float64 {
	if v > 100 {
		return 100
	}
	return v
}

// adaptiveState holds the two multipliers adaptive bundling tunes, each
// clamped to [0.5, 1.5].
type adaptiveState struct {
	bundleSizeMultiplier float64
	gasLimitMultiplier   float64
}

func newAdaptiveState() adaptiveState {
	return adaptiveState{bundleSizeMultiplier: 1.0, gasLimitMultiplier: 1.0}
}

func clampMultiplier(v float64) float64 {
	if v > 1.5 {
		return 1.5
	}
	if v < 0.5 {
		return 0.5
	}
	return v
}

// observe updates both multipliers from a single completed bundle's
// observed throughput and success rate, per the adaptive bundling rule.
func (a *adaptiveState) observe(txCount int, processingTimeMs int64, confirmedCount int) {
	if processingTimeMs <= 0 || txCount == 0 {
		return
	}
	tpsObserved := 1000 * float64(txCount) / float64(processingTimeMs)
	switch {
	case tpsObserved > 10000:
		a.bundleSizeMultiplier = clampMultiplier(a.bundleSizeMultiplier * 1.05)
	case tpsObserved < 5000:
		a.bundleSizeMultiplier = clampMultiplier(a.bundleSizeMultiplier * 0.95)
	}

	successRate := float64(confirmedCount) / float64(txCount)
	switch {
	case successRate > 0.98:
		a.gasLimitMultiplier = clampMultiplier(a.gasLimitMultiplier * 1.05)
	case successRate < 0.90:
		a.gasLimitMultiplier = clampMultiplier(a.gasLimitMultiplier * 0.95)
	}
}

func (a adaptiveState) effectiveMaxSize(base int) int {
	return int(float64(base) * a.bundleSizeMultiplier)
}

func (a adaptiveState) effectiveMaxGas(base uint64) uint64 {
	return uint64(float64(base) * a.gasLimitMultiplier)
}
