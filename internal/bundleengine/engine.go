// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package bundleengine adaptively groups transactions into bundles, dispatches
// them to a fixed worker pool, carves recoverable failures into retry
// bundles, applies taxes on success, and tunes its own size/gas caps from
// observed throughput.
package bundleengine

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/l2seq/sequencer/internal/clock"
	"github.com/l2seq/sequencer/internal/events"
	"github.com/l2seq/sequencer/internal/seqtypes"
	"github.com/l2seq/sequencer/internal/stopwaiter"
	"github.com/l2seq/sequencer/internal/taxsystem"
)

// ErrBundleNotFound is returned (or signalled via a false return) when an id
// does not name a known bundle.
var ErrBundleNotFound = errors.New("bundleengine: bundle not found")

// Engine groups transactions into bundles, dispatches them to a fixed
// worker pool, and adapts its own sizing state from observed throughput. It
// owns every Bundle ever created; all mutable state is touched only while
// mu is held, matching a single-orchestrator-thread concurrency model.
type Engine struct {
	stopwaiter.StopWaiter

	config    Config
	clk       clock.Clock
	taxSystem taxsystem.TaxSystem
	sink      events.Sink
	processor Processor

	mu               sync.Mutex
	arena            *arena
	currentBundle    seqtypes.BundleID
	hasCurrentBundle bool
	processingCount  int
	adaptive         adaptiveState
	perType          map[seqtypes.TxType]PerTypeStat
	workers          []workerHandle

	workOut chan WorkerOut
	counters *counters
}

// New constructs an Engine. Start must be called before it does any work.
func New(cfg Config, ts taxsystem.TaxSystem, sink events.Sink, clk clock.Clock, processor Processor) *Engine {
	if sink == nil {
		sink = events.NopSink{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if processor == nil {
		processor = AlwaysSucceedProcessor{}
	}
	return &Engine{
		config:    cfg,
		clk:       clk,
		taxSystem: ts,
		sink:      sink,
		processor: processor,
		arena:     newArena(),
		adaptive:  newAdaptiveState(),
		perType:   make(map[seqtypes.TxType]PerTypeStat),
		workOut:   make(chan WorkerOut, cfg.WorkerThreads*2+8),
		counters:  newCounters(),
	}
}

// Start launches the worker pool, the result-handling loop, and the
// periodic process_tick loop.
func (e *Engine) Start(ctxIn context.Context) error {
	if err := e.StopWaiter.Start(ctxIn); err != nil {
		return err
	}

	e.mu.Lock()
	e.workers = make([]workerHandle, e.config.WorkerThreads)
	for i := range e.workers {
		e.workers[i] = workerHandle{
			in:   make(chan workItem, 1),
			slot: seqtypes.WorkerSlot{Index: i, Active: true},
		}
	}
	workers := e.workers
	e.mu.Unlock()

	for i, w := range workers {
		e.spawnWorker(e.GetContext(), i, w.in)
	}

	e.LaunchThread(e.handleResults)

	e.CallIteratively(func(ctx context.Context) time.Duration {
		e.ProcessTick()
		return e.config.processingInterval()
	})

	return nil
}

// CreateBundle opens a new Pending bundle and makes it the current
// open-for-additions bundle.
func (e *Engine) CreateBundle(priorityFee uint64) seqtypes.BundleID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createBundleLocked(priorityFee)
}

func (e *Engine) createBundleLocked(priorityFee uint64) seqtypes.BundleID {
	id := seqtypes.NewBundleID()
	now := e.clk.Now()
	b := seqtypes.NewBundle(id, now, e.config.timeout())
	pf := priorityFee
	b.PriorityFee = &pf
	e.arena.insert(b)
	e.currentBundle = id
	e.hasCurrentBundle = true
	return id
}

// effectiveCaps returns the current adaptive size/gas caps.
func (e *Engine) effectiveCaps() (int, uint64) {
	return e.adaptive.effectiveMaxSize(e.config.MaxTransactionsPerBundle),
		e.adaptive.effectiveMaxGas(e.config.MaxGasPerBundle)
}

// AddTransaction validates and appends tx to bundleID, returning false plus
// a reason on any validation failure (unknown bundle, bundle not pending,
// unsupported type, size or gas cap exceeded).
func (e *Engine) AddTransaction(bundleID seqtypes.BundleID, tx *seqtypes.Tx, txType seqtypes.TxType) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.arena.get(bundleID)
	if b == nil {
		return false, "bundle not found"
	}
	if b.Status != seqtypes.BundlePending {
		return false, "bundle not pending"
	}

	supported := false
	for _, t := range seqtypes.SupportedTxTypes() {
		if t == txType {
			supported = true
			break
		}
	}
	if !supported {
		return false, "unsupported type"
	}

	effectiveMaxSize, effectiveMaxGas := e.effectiveCaps()
	if b.Len() >= effectiveMaxSize {
		return false, "bundle full"
	}
	if b.TotalGas+tx.GasLimit > effectiveMaxGas {
		return false, "gas cap exceeded"
	}

	tx.Type = txType
	tx.Status = seqtypes.TxPending
	tx.Priority = basePriority(txType)

	var taxed seqtypes.TaxAmount
	if e.taxSystem != nil {
		taxedTx, amount, err := e.taxSystem.ApplyTaxes(tx, txType)
		if err != nil {
			log.Error("tax application failed on add_transaction", "err", err)
		} else {
			tx = taxedTx
			taxed = amount
		}
	}
	if !taxed.Valid() {
		taxed = seqtypes.ZeroTaxAmount()
	}

	b.Transactions = append(b.Transactions, tx)
	b.TotalGas += tx.GasLimit
	b.Taxes = b.Taxes.Add(taxed)
	b.TypesPresent[txType] = struct{}{}
	b.Score = computeScore(b, effectiveMaxSize)

	if b.Len() >= effectiveMaxSize || b.TotalGas >= effectiveMaxGas {
		e.createBundleLocked(e.config.PriorityFee)
	}

	return true, ""
}

// basePriority gives every transaction type a starting priority before
// aging: swaps and withdrawals get 6, buys and sells 5, and transfers,
// deposits and every other type 4.
func basePriority(t seqtypes.TxType) float64 {
	switch t {
	case seqtypes.TxSwap, seqtypes.TxWithdraw:
		return 6
	case seqtypes.TxBuy, seqtypes.TxSell:
		return 5
	default:
		return 4
	}
}

// Submit moves a Pending bundle to Queued, making it dispatch-eligible.
func (e *Engine) Submit(bundleID seqtypes.BundleID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.arena.get(bundleID)
	if b == nil || b.Status != seqtypes.BundlePending || b.Len() == 0 {
		return false
	}
	b.Status = seqtypes.BundleQueued
	return true
}

// Abort moves a Pending or Queued bundle to Aborted. Repeated calls on an
// already-terminal bundle are a no-op, per the idempotence property.
func (e *Engine) Abort(bundleID seqtypes.BundleID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.arena.get(bundleID)
	if b == nil {
		return false
	}
	if b.Status != seqtypes.BundlePending && b.Status != seqtypes.BundleQueued {
		return false
	}
	b.Status = seqtypes.BundleAborted
	e.counters.addAborted(1)
	return true
}

// ProcessTick dispatches the next eligible bundle (if any worker/capacity is
// free) and expires overdue bundles. It is also exposed publicly for tests
// that want to drive the engine without waiting on the real timer.
func (e *Engine) ProcessTick() {
	now := e.clk.Now()
	e.expireOverdue(now)
	e.dispatchNext(now)
}

func (e *Engine) expireOverdue(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.arena.snapshot() {
		if b.Status != seqtypes.BundlePending && b.Status != seqtypes.BundleQueued {
			continue
		}
		if !now.After(b.ExpiresAt) && !now.Equal(b.ExpiresAt) {
			continue
		}
		if b.Len() == 0 {
			b.Status = seqtypes.BundleExpired
			e.counters.addExpired(1)
			continue
		}
		if e.processingCount >= e.config.MaxConcurrentBundles {
			break
		}
		e.dispatchBundleLocked(b, now)
	}
}

// dispatchNext implements the dispatch rule: highest score among eligible
// bundles, ties broken by earliest creation time, subject to a free worker
// slot and headroom under maxConcurrentBundles.
func (e *Engine) dispatchNext(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.processingCount >= e.config.MaxConcurrentBundles {
		return
	}
	slotIdx := e.freeWorkerSlotLocked()
	if slotIdx < 0 {
		return
	}

	var best *seqtypes.Bundle
	for _, b := range e.arena.snapshot() {
		if b.Status != seqtypes.BundlePending && b.Status != seqtypes.BundleQueued {
			continue
		}
		if b.Len() == 0 {
			continue
		}
		if best == nil || b.Score > best.Score ||
			(b.Score == best.Score && b.CreatedAt.Before(best.CreatedAt)) {
			best = b
		}
	}
	if best == nil {
		return
	}
	e.dispatchBundleLocked(best, now)
}

// freeWorkerSlotLocked returns the index of an active, idle worker, or -1.
// Caller must hold mu.
func (e *Engine) freeWorkerSlotLocked() int {
	for i := range e.workers {
		if e.workers[i].slot.Active && e.workers[i].slot.Load == 0 {
			return i
		}
	}
	return -1
}

// dispatchBundleLocked marks a bundle Processing, assigns it to the given
// slot, and hands it to the worker. Caller must hold mu.
func (e *Engine) dispatchBundleLocked(b *seqtypes.Bundle, now time.Time) {
	slotIdx := e.freeWorkerSlotLocked()
	if slotIdx < 0 {
		return
	}
	b.Status = seqtypes.BundleProcessing
	b.WorkerID = slotIdx
	b.HasWorker = true

	e.workers[slotIdx].slot.Load = 1
	e.workers[slotIdx].slot.LastActive = now
	e.processingCount++

	pf := e.config.PriorityFee
	if b.PriorityFee != nil {
		pf = *b.PriorityFee
	}

	item := workItem{
		in:        newProcessBundleIn(ProcessBundle{BundleID: b.ID, Txs: append([]*seqtypes.Tx(nil), b.Transactions...), PriorityFee: pf}),
		workerID:  slotIdx,
		startedAt: now,
	}
	select {
	case e.workers[slotIdx].in <- item:
	default:
		// slot claimed to be free but channel full: should not happen with
		// buffer size 1 and load tracking, but fail safe rather than block
		// the orchestrator.
		e.workers[slotIdx].slot.Load = 0
		e.processingCount--
		b.Status = seqtypes.BundleQueued
		b.HasWorker = false
	}
}

// handleResults is the orchestrator's single consumer of worker output; it
// frees the worker slot, applies the retry-carving and tax rules, and
// transitions the bundle to its terminal state.
func (e *Engine) handleResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-e.workOut:
			e.applyResult(out)
		}
	}
}

func (e *Engine) applyResult(out WorkerOut) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var bundleID seqtypes.BundleID
	var workerID int
	if out.Kind == WorkerOutError {
		bundleID = out.Error.BundleID
		workerID = out.Error.WorkerID
	} else {
		bundleID = out.BundleResult.BundleID
		workerID = -1
	}

	b := e.arena.get(bundleID)
	e.freeSlotForBundleLocked(bundleID, workerID)

	if b == nil {
		return
	}
	if b.Status == seqtypes.BundleAborted {
		// Discarded: an aborted bundle stays terminal regardless of a
		// late-arriving worker result.
		return
	}

	now := e.clk.Now()

	if out.Kind == WorkerOutError {
		b.Status = seqtypes.BundleFailed
		e.counters.addFailed(1)
		e.sink.Publish(events.NewWorkerError(now, events.WorkerError{
			Type: "bundle", WorkerID: workerID, Error: out.Error.Err,
		}))
		e.maybeCarveRetryBundleLocked(b, now)
		return
	}

	result := out.BundleResult
	byID := make(map[seqtypes.TxID]TxOutcome, len(result.Outcomes))
	for _, o := range result.Outcomes {
		byID[o.TxID] = o
	}

	var confirmed, failed int
	for _, tx := range b.Transactions {
		outcome, ok := byID[tx.ID]
		if !ok {
			continue
		}
		if outcome.Success {
			tx.Status = seqtypes.TxConfirmed
			tx.Hash = outcome.Hash
			confirmed++
			continue
		}
		if tx.RetryCount < e.config.MaxTransactionRetries {
			tx.Status = seqtypes.TxRetry
			tx.RetryCount++
		} else {
			tx.Status = seqtypes.TxFailed
			failed++
		}
	}

	if result.Success {
		b.Status = seqtypes.BundleCompleted
		e.counters.addCompleted(1)
	} else {
		b.Status = seqtypes.BundleFailed
		e.counters.addFailed(1)
	}
	e.counters.addConfirmed(int64(confirmed))
	e.counters.addTxFailed(int64(failed))

	e.recordPerTypeLocked(b)

	if result.Success && confirmed > 0 && e.taxSystem != nil && b.Taxes.Valid() {
		if err := taxsystem.Settle(e.taxSystem, b.Taxes); err != nil {
			log.Error("tax settlement failed", "bundleId", string(b.ID), "err", err)
		}
	}

	if e.config.UseAdaptiveBundling && result.Success {
		e.adaptive.observe(len(result.Outcomes), result.ProcessingTimeMs, confirmed)
	}

	e.maybeCarveRetryBundleLocked(b, now)

	e.sink.Publish(events.NewBundleProcessed(now, events.BundleProcessed{
		BundleID:   b.ID,
		Success:    result.Success,
		TxCount:    len(b.Transactions),
		FailCount:  failed,
		DurationMs: result.ProcessingTimeMs,
	}))
	for _, tx := range b.Transactions {
		outcome, ok := byID[tx.ID]
		if !ok {
			continue
		}
		e.sink.Publish(events.NewTransactionProcessed(now, events.TransactionProcessed{
			TxID: tx.ID, Type: tx.Type, Success: outcome.Success, Hash: outcome.Hash,
			DurationMs: result.ProcessingTimeMs,
		}))
	}
}

func (e *Engine) recordPerTypeLocked(b *seqtypes.Bundle) {
	for _, tx := range b.Transactions {
		s := e.perType[tx.Type]
		switch tx.Status {
		case seqtypes.TxConfirmed:
			s.Confirmed++
		case seqtypes.TxFailed:
			s.Failed++
		}
		e.perType[tx.Type] = s
	}
}

// freeSlotForBundleLocked clears load on whichever slot was assigned to
// bundleID, preferring workerID when it is known (error case always knows
// it; a normal result looks it up via the bundle record).
func (e *Engine) freeSlotForBundleLocked(bundleID seqtypes.BundleID, workerID int) {
	if workerID < 0 {
		if b := e.arena.get(bundleID); b != nil && b.HasWorker {
			workerID = b.WorkerID
		}
	}
	if workerID >= 0 && workerID < len(e.workers) {
		e.workers[workerID].slot.Load = 0
	}
	e.processingCount--
	if e.processingCount < 0 {
		e.processingCount = 0
	}
}

// maybeCarveRetryBundleLocked moves every Retry tx out of b into a freshly
// created Pending bundle, resetting their status to Pending in the new
// bundle. Runs even if b ended Failed, as long as at least one Retry tx
// exists.
func (e *Engine) maybeCarveRetryBundleLocked(b *seqtypes.Bundle, now time.Time) {
	var retries, kept []*seqtypes.Tx
	for _, tx := range b.Transactions {
		if tx.Status == seqtypes.TxRetry {
			retries = append(retries, tx)
		} else {
			kept = append(kept, tx)
		}
	}
	if len(retries) == 0 {
		return
	}

	b.Transactions = kept
	b.TotalGas = b.RecomputeTotalGas()

	retryID := seqtypes.NewBundleID()
	retryBundle := seqtypes.NewBundle(retryID, now, e.config.timeout())
	for _, tx := range retries {
		tx.Status = seqtypes.TxPending
		retryBundle.Transactions = append(retryBundle.Transactions, tx)
		retryBundle.TypesPresent[tx.Type] = struct{}{}
	}
	retryBundle.TotalGas = retryBundle.RecomputeTotalGas()
	effectiveMaxSize, _ := e.effectiveCaps()
	retryBundle.Score = computeScore(retryBundle, effectiveMaxSize)
	e.arena.insert(retryBundle)
	e.counters.addRetried(int64(len(retries)))
}

// GetPerformanceMetrics returns a snapshot of counters, adaptive params, and
// per-type stats.
func (e *Engine) GetPerformanceMetrics() PerformanceMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	perType := make(map[string]PerTypeStat, len(e.perType))
	for t, s := range e.perType {
		perType[t.String()] = s
	}

	effectiveMaxSize, effectiveMaxGas := e.effectiveCaps()
	queueDepth := 0
	for _, b := range e.arena.snapshot() {
		if b.Status == seqtypes.BundlePending || b.Status == seqtypes.BundleQueued {
			queueDepth++
		}
	}

	confirmed := e.counters.txsConfirmed
	return PerformanceMetrics{
		BundlesCompleted:     e.counters.bundlesCompleted,
		BundlesFailed:        e.counters.bundlesFailed,
		BundlesExpired:       e.counters.bundlesExpired,
		BundlesAborted:       e.counters.bundlesAborted,
		TxsConfirmed:         e.counters.txsConfirmed,
		TxsFailed:            e.counters.txsFailed,
		TxsRetried:           e.counters.txsRetried,
		RollingTPS:           e.counters.rollingTPS(e.clk.Now(), confirmed),
		PerType:              perType,
		BundleSizeMultiplier: e.adaptive.bundleSizeMultiplier,
		GasLimitMultiplier:   e.adaptive.gasLimitMultiplier,
		EffectiveMaxSize:     effectiveMaxSize,
		EffectiveMaxGas:      effectiveMaxGas,
		QueueDepth:           queueDepth,
		ProcessingCount:      e.processingCount,
	}
}

// Bundle returns a snapshot bundle by id, or nil if unknown. Intended for
// tests and status reporting; callers must not mutate the returned value.
func (e *Engine) Bundle(id seqtypes.BundleID) *seqtypes.Bundle {
	return e.arena.get(id)
}
