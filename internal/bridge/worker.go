// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bridge

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"

	"github.com/l2seq/sequencer/internal/seqtypes"
)

// spawnWorker launches one worker goroutine that performs executor/verifier
// calls off the orchestrator thread, so a slow or hung collaborator cannot
// block tick(). It exits when the engine's context is cancelled.
func (e *Engine) spawnWorker(ctx context.Context, workerID int) {
	e.LaunchThread(func(ctx context.Context) {
		defer e.respawnOnExit(workerID)
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-e.workIn:
				if !ok {
					return
				}
				e.runWork(ctx, item)
			}
		}
	})
}

// runWork performs one executor/verifier call inside a per-attempt deadline
// derived from TransactionTimeoutMs, recovering from a panic the same way
// the bundle engine's worker does so one bad collaborator cannot take down
// the pool.
func (e *Engine) runWork(ctx context.Context, item bridgeWork) {
	defer func() {
		if r := recover(); r != nil {
			e.postPanicResult(item)
		}
	}()

	// Snapshot under the orchestrator's mutex rather than dereferencing the
	// arena's pointer directly: tx fields keep changing (status, attempts,
	// errors) while this call runs, and the collaborator must see a
	// consistent, unchanging value for the duration of one attempt.
	tx, ok := e.Transaction(item.id)
	if !ok {
		return
	}

	wctx, cancel := context.WithTimeout(ctx, e.config.timeout())
	defer cancel()

	switch item.kind {
	case workExecute:
		exec := e.executorFor(tx.Type)
		if exec == nil {
			e.workOut <- bridgeResult{id: item.id, kind: workExecute, attempt: item.attempt, execute: ExecuteResult{
				Success: false,
				Error:   &ExecuteErrorInfo{Message: ErrNoExecutor.Error(), Recoverable: false},
			}}
			return
		}
		res := exec.Execute(wctx, tx, item.attempt)
		e.workOut <- bridgeResult{id: item.id, kind: workExecute, attempt: item.attempt, execute: res}
	case workVerify:
		ver := e.verifierFor(tx.Type)
		if ver == nil {
			e.workOut <- bridgeResult{id: item.id, kind: workVerify, attempt: item.attempt, verify: VerifyResult{
				Status: VerifyFailed,
				Error:  &ExecuteErrorInfo{Message: ErrNoVerifier.Error(), Recoverable: false},
			}}
			return
		}
		res := ver.Verify(wctx, tx)
		e.workOut <- bridgeResult{id: item.id, kind: workVerify, attempt: item.attempt, verify: res}
	}
}

func (e *Engine) postPanicResult(item bridgeWork) {
	errInfo := &ExecuteErrorInfo{Message: "worker panic", Recoverable: true}
	if item.kind == workExecute {
		e.workOut <- bridgeResult{id: item.id, kind: workExecute, attempt: item.attempt, execute: ExecuteResult{Success: false, Error: errInfo}}
	} else {
		e.workOut <- bridgeResult{id: item.id, kind: workVerify, attempt: item.attempt, verify: VerifyResult{Status: VerifyFailed, Error: errInfo}}
	}
}

// respawnOnExit replaces a worker goroutine that returned. Mirrors the
// bundle engine's constant 5s backoff for the "worker spawn failure → retry
// after 5s" resource-error rule.
func (e *Engine) respawnOnExit(workerID int) {
	if e.GetContext().Err() != nil {
		return
	}
	b := backoff.NewConstantBackOff(5 * time.Second)
	op := func() error {
		if e.GetContext().Err() != nil {
			return nil
		}
		e.spawnWorker(e.GetContext(), workerID)
		return nil
	}
	if err := backoff.Retry(op, b); err != nil {
		log.Error("bridge worker respawn failed permanently", "workerId", workerID, "err", err)
	}
}

// timeoutFor reports whether tx has exceeded its wall-clock timeout, measured
// from CreatedAt, as seqtypes.BridgeTransaction has no separate dispatch
// timestamp distinct from its creation time.
func timeoutFor(tx *seqtypes.BridgeTransaction, now time.Time, timeout time.Duration) bool {
	return now.Sub(tx.CreatedAt) > timeout
}
