// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bridge

import (
	"context"

	"github.com/l2seq/sequencer/internal/seqtypes"
)

// ExecuteErrorInfo carries an executor or verifier failure's detail, mirroring
// the external error{message, optional code, details, recoverable} shape.
type ExecuteErrorInfo struct {
	Message     string
	Code        string // optional, empty if unset
	Details     string // optional, empty if unset
	Recoverable bool
}

// ExecuteResult is what a registered Executor returns for one attempt.
type ExecuteResult struct {
	Success bool
	Hash    string // optional, empty if unset
	Error   *ExecuteErrorInfo
}

// Executor performs one attempt at moving a bridge transaction forward. It
// must not hold state across calls and must respect ctx cancellation.
type Executor interface {
	Execute(ctx context.Context, tx seqtypes.BridgeTransaction, attempt int) ExecuteResult
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, tx seqtypes.BridgeTransaction, attempt int) ExecuteResult

func (f ExecutorFunc) Execute(ctx context.Context, tx seqtypes.BridgeTransaction, attempt int) ExecuteResult {
	return f(ctx, tx, attempt)
}

// VerifyStatus is a Verifier's reported progress for an in-flight attempt.
type VerifyStatus int

const (
	VerifyInProgress VerifyStatus = iota
	VerifyCompleted
	VerifyFailed
)

// VerifyResult is what a registered Verifier returns for one poll.
type VerifyResult struct {
	Status          VerifyStatus
	DestinationHash string // optional, empty if unset
	Error           *ExecuteErrorInfo
}

// Verifier polls for the outcome of a previously executed attempt.
type Verifier interface {
	Verify(ctx context.Context, tx seqtypes.BridgeTransaction) VerifyResult
}

// VerifierFunc adapts a plain function to the Verifier interface.
type VerifierFunc func(ctx context.Context, tx seqtypes.BridgeTransaction) VerifyResult

func (f VerifierFunc) Verify(ctx context.Context, tx seqtypes.BridgeTransaction) VerifyResult {
	return f(ctx, tx)
}

// workKind distinguishes an execute attempt from a verifier poll inside the
// worker-dispatch tagged union.
type workKind int

const (
	workExecute workKind = iota
	workVerify
)

// bridgeWork is what the orchestrator posts to a worker.
type bridgeWork struct {
	id      seqtypes.BridgeTxID
	kind    workKind
	attempt int
}

// bridgeResult is what a worker posts back after performing one bridgeWork.
type bridgeResult struct {
	id      seqtypes.BridgeTxID
	kind    workKind
	attempt int
	execute ExecuteResult
	verify  VerifyResult
}
