// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package optimizer

import (
	"context"
	"time"

	"github.com/l2seq/sequencer/internal/seqtypes"
)

// QueuedTransaction wraps a Tx with the bookkeeping the priority-with-aging
// scheduler needs: when it arrived and its starting priority. Attempts is
// carried along but the optimizer never changes it.
type QueuedTransaction struct {
	Tx           *seqtypes.Tx
	EnqueuedAt   time.Time
	BasePriority float64
	Attempts     int
}

// effectivePriority is base_priority + waitTimeSeconds*waitingPriorityFactor.
func (q *QueuedTransaction) effectivePriority(now time.Time, waitingPriorityFactor float64) float64 {
	waitSeconds := now.Sub(q.EnqueuedAt).Seconds()
	if waitSeconds < 0 {
		waitSeconds = 0
	}
	return q.BasePriority + waitSeconds*waitingPriorityFactor
}

// Processor is the black-box per-transaction execution collaborator a
// dispatched worker calls.
type Processor interface {
	Process(ctx context.Context, tx *seqtypes.Tx) (success bool, hash string, err error)
}

// ProcessorFunc adapts a plain function to a Processor.
type ProcessorFunc func(ctx context.Context, tx *seqtypes.Tx) (bool, string, error)

func (f ProcessorFunc) Process(ctx context.Context, tx *seqtypes.Tx) (bool, string, error) {
	return f(ctx, tx)
}

// AlwaysSucceedProcessor confirms every transaction handed to it.
type AlwaysSucceedProcessor struct{}

func (AlwaysSucceedProcessor) Process(ctx context.Context, tx *seqtypes.Tx) (bool, string, error) {
	return true, "0x" + string(tx.ID), nil
}
