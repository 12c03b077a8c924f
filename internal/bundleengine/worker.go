// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bundleengine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"

	"github.com/l2seq/sequencer/internal/seqtypes"
)

// workerHandle is the engine's private bookkeeping for one worker goroutine:
// its input channel and its slot record (index/active/load), mirrored in
// sync with seqtypes.WorkerSlot so status snapshots can be built without
// reaching into the goroutine itself.
type workerHandle struct {
	in   chan workItem
	slot seqtypes.WorkerSlot
}

// spawnWorker launches one worker goroutine that pulls ProcessBundle
// messages off in and reports a WorkerOut on e.workOut for each. It exits
// when the engine's context is cancelled or in is closed.
func (e *Engine) spawnWorker(ctx context.Context, workerID int, in chan workItem) {
	e.LaunchThread(func(ctx context.Context) {
		defer e.respawnOnExit(workerID)
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-in:
				if !ok {
					return
				}
				e.runWorkItem(ctx, workerID, item)
			}
		}
	})
}

// runWorkItem recovers from a panicking Processor so one bad bundle cannot
// take down the whole worker pool; a panic is reported as a WorkerError,
// per the "worker crash" edge in the state diagram. Process runs inside a per-bundle deadline derived from
// TimeoutSeconds, the same internal-deadline idiom internal/bridge's
// runWork applies per attempt: a Processor that overruns it has its result
// replaced with a synthesized failure instead of being trusted.
func (e *Engine) runWorkItem(ctx context.Context, workerID int, item workItem) {
	defer func() {
		if r := recover(); r != nil {
			bundleID := seqtypes.BundleID("")
			if item.in.ProcessBundle != nil {
				bundleID = item.in.ProcessBundle.BundleID
			}
			e.workOut <- newErrorOut(WorkerError{BundleID: bundleID, WorkerID: workerID, Err: "worker panic"})
		}
	}()

	pb := item.in.ProcessBundle
	wctx, cancel := context.WithTimeout(ctx, e.config.timeout())
	defer cancel()

	result := e.processor.Process(wctx, pb.BundleID, pb.Txs, pb.PriorityFee)
	if wctx.Err() == context.DeadlineExceeded {
		result = timeoutResult(pb)
	}
	result.ProcessingTimeMs = time.Since(item.startedAt).Milliseconds()
	e.workOut <- newBundleResultOut(result)
}

// timeoutResult synthesizes an all-failed BundleResult for a bundle whose
// Processor call did not return within the worker's per-bundle deadline.
func timeoutResult(pb *ProcessBundle) BundleResult {
	outcomes := make([]TxOutcome, len(pb.Txs))
	for i, tx := range pb.Txs {
		outcomes[i] = TxOutcome{TxID: tx.ID, Success: false}
	}
	return BundleResult{BundleID: pb.BundleID, Success: false, Outcomes: outcomes}
}

// respawnOnExit replaces a worker goroutine that returned (crashed or was
// told to stop outside of normal shutdown). If the engine itself is
// shutting down, ctx.Err() is non-nil and no replacement is spawned.
func (e *Engine) respawnOnExit(workerID int) {
	if e.GetContext().Err() != nil {
		return
	}
	e.mu.Lock()
	if workerID < len(e.workers) {
		e.workers[workerID].slot.Active = false
	}
	e.mu.Unlock()

	b := backoff.NewConstantBackOff(5 * time.Second)
	op := func() error {
		if e.GetContext().Err() != nil {
			return nil
		}
		e.mu.Lock()
		in := e.workers[workerID].in
		e.workers[workerID].slot.Active = true
		e.mu.Unlock()
		e.spawnWorker(e.GetContext(), workerID, in)
		return nil
	}
	if err := backoff.Retry(op, b); err != nil {
		log.Error("bundle worker respawn failed permanently", "workerId", workerID, "err", err)
	}
}
