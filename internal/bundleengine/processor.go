// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bundleengine

import (
	"context"
	"time"

	"github.com/l2seq/sequencer/internal/seqtypes"
)

// Processor is the black-box execution collaborator a worker calls to run a
// bundle's transactions against whatever backs this deployment (an EVM-style
// chain, a simulator, a test double). The engine never interprets opcodes or
// talks to chain RPC itself; it only calls Process and interprets the
// BundleResult tagged union it returns.
type Processor interface {
	Process(ctx context.Context, bundleID seqtypes.BundleID, txs []*seqtypes.Tx, priorityFee uint64) BundleResult
}

// ProcessorFunc adapts a plain function to a Processor.
type ProcessorFunc func(ctx context.Context, bundleID seqtypes.BundleID, txs []*seqtypes.Tx, priorityFee uint64) BundleResult

func (f ProcessorFunc) Process(ctx context.Context, bundleID seqtypes.BundleID, txs []*seqtypes.Tx, priorityFee uint64) BundleResult {
	return f(ctx, bundleID, txs, priorityFee)
}

// AlwaysSucceedProcessor confirms every transaction in the bundle after a
// fixed simulated delay. Useful as the default Processor for tests and for
// standing up the reference binary without a live chain connection.
type AlwaysSucceedProcessor struct {
	Delay time.Duration
}

func (p AlwaysSucceedProcessor) Process(ctx context.Context, bundleID seqtypes.BundleID, txs []*seqtypes.Tx, priorityFee uint64) BundleResult {
	start := time.Now()
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
		}
	}
	outcomes := make([]TxOutcome, len(txs))
	for i, tx := range txs {
		outcomes[i] = TxOutcome{TxID: tx.ID, Success: true, Hash: syntheticHash(bundleID, tx.ID)}
	}
	return BundleResult{
		BundleID:         bundleID,
		Success:          true,
		Outcomes:         outcomes,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
}

func syntheticHash(bundleID seqtypes.BundleID, txID seqtypes.TxID) string {
	return "0x" + string(bundleID) + ":" + string(txID)
}
