// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bundleengine

import (
	"time"

	"github.com/l2seq/sequencer/internal/seqtypes"
)

// WorkerInKind tags the single variant carried by a WorkerIn message. There
// is only one today (ProcessBundle); the tag still exists so a second
// message kind never needs a breaking change to the channel's element type.
type WorkerInKind int

const (
	WorkerInProcessBundle WorkerInKind = iota
)

// ProcessBundle is the payload a worker receives: a bundle id, a borrowed
// transaction list, and the priority fee in effect when it was dispatched.
// Workers must not retain state across calls.
type ProcessBundle struct {
	BundleID    seqtypes.BundleID
	Txs         []*seqtypes.Tx
	PriorityFee uint64
}

// WorkerIn is a tagged union of inbound worker messages, replacing
// dynamically-typed JSON task messages with a discriminated variant workers
// pattern-match on instead of type-asserting.
type WorkerIn struct {
	Kind           WorkerInKind
	ProcessBundle  *ProcessBundle
}

func newProcessBundleIn(p ProcessBundle) WorkerIn {
	return WorkerIn{Kind: WorkerInProcessBundle, ProcessBundle: &p}
}

// WorkerOutKind tags the variant carried by a WorkerOut message.
type WorkerOutKind int

const (
	WorkerOutBundleResult WorkerOutKind = iota
	WorkerOutError
)

// TxOutcome is one transaction's result as returned by a worker.
type TxOutcome struct {
	TxID    seqtypes.TxID
	Success bool
	Hash    string // optional, empty if unset
}

// BundleResult is a worker's report after processing every tx in a bundle.
type BundleResult struct {
	BundleID         seqtypes.BundleID
	Success          bool
	Outcomes         []TxOutcome
	ProcessingTimeMs int64
}

// WorkerError reports a worker dying or erroring out mid-task, distinct from
// a BundleResult with success=false: it means no per-tx outcomes exist at
// all and the slot must be treated as abandoned.
type WorkerError struct {
	BundleID seqtypes.BundleID
	WorkerID int
	Err      string
}

// WorkerOut is a tagged union of outbound worker messages.
type WorkerOut struct {
	Kind         WorkerOutKind
	BundleResult *BundleResult
	Error        *WorkerError
}

func newBundleResultOut(r BundleResult) WorkerOut {
	return WorkerOut{Kind: WorkerOutBundleResult, BundleResult: &r}
}

func newErrorOut(e WorkerError) WorkerOut {
	return WorkerOut{Kind: WorkerOutError, Error: &e}
}

// workItem pairs a WorkerIn with the timestamp it was enqueued, so the
// worker can compute its own processing-time measurement.
type workItem struct {
	in        WorkerIn
	workerID  int
	startedAt time.Time
}
