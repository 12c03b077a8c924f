// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package optimizer implements the Mixed-Transaction Optimizer: one queue
// per transaction type with an independent worker sub-pool, priority-with-
// aging scheduling, and adaptive worker rebalancing across types by
// observed load.
package optimizer

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"

	"github.com/l2seq/sequencer/internal/clock"
	"github.com/l2seq/sequencer/internal/events"
	"github.com/l2seq/sequencer/internal/seqtypes"
	"github.com/l2seq/sequencer/internal/stopwaiter"
)

// Engine is the Mixed-Transaction Optimizer.
type Engine struct {
	stopwaiter.StopWaiter

	config    Config
	clk       clock.Clock
	sink      events.Sink
	processor Processor

	mu     sync.Mutex
	queues map[seqtypes.TxType]*typeQueue
}

// New constructs an Engine. Start must be called before it does any work.
func New(cfg Config, sink events.Sink, clk clock.Clock, processor Processor) *Engine {
	if sink == nil {
		sink = events.NopSink{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if processor == nil {
		processor = AlwaysSucceedProcessor{}
	}
	e := &Engine{config: cfg, clk: clk, sink: sink, processor: processor, queues: make(map[seqtypes.TxType]*typeQueue)}
	for _, t := range cfg.SupportedTransactionTypes {
		e.queues[t] = newTypeQueue(t, cfg.WorkersPerType)
	}
	return e
}

// Start launches one worker goroutine per (type, slot) pair, the dispatch
// tick loop, the expiration sweep, and — if enabled — the adaptive
// rebalancing loop.
func (e *Engine) Start(ctxIn context.Context) error {
	if err := e.StopWaiter.Start(ctxIn); err != nil {
		return err
	}

	e.mu.Lock()
	queues := make([]*typeQueue, 0, len(e.queues))
	for _, q := range e.queues {
		queues = append(queues, q)
	}
	e.mu.Unlock()

	for _, q := range queues {
		for i := range q.in {
			e.spawnWorker(q, i)
		}
	}

	e.CallIteratively(func(ctx context.Context) time.Duration {
		e.tick()
		return e.config.processingInterval()
	})

	if e.config.EnableAdaptiveLoadBalancing {
		e.CallIteratively(func(ctx context.Context) time.Duration {
			e.rebalance()
			return e.config.rebalanceInterval()
		})
	}

	return nil
}

// Submit validates and enqueues tx under the given type, per the optimizer's
// submit contract.
func (e *Engine) Submit(tx *seqtypes.Tx, txType seqtypes.TxType, priority float64) bool {
	if !e.config.supports(txType) {
		return false
	}
	e.mu.Lock()
	q, ok := e.queues[txType]
	e.mu.Unlock()
	if !ok {
		return false
	}
	item := &QueuedTransaction{Tx: tx, EnqueuedAt: e.clk.Now(), BasePriority: priority}
	if !q.enqueue(item, e.config.MaxQueueSizePerType) {
		e.sink.Publish(events.NewQueueFull(e.clk.Now(), events.QueueFull{TxID: tx.ID, Type: txType}))
		return false
	}
	return true
}

// tick expires overdue transactions and dispatches every type's ready work.
func (e *Engine) tick() {
	now := e.clk.Now()
	e.mu.Lock()
	queues := make([]*typeQueue, 0, len(e.queues))
	for _, q := range e.queues {
		queues = append(queues, q)
	}
	e.mu.Unlock()

	for _, q := range queues {
		qt := q.txType
		q.expireOverdue(now, e.config.transactionTimeout(), func(item *QueuedTransaction) {
			e.sink.Publish(events.NewTransactionExpired(now, events.TransactionExpired{
				TxID: item.Tx.ID, Type: qt, WaitMs: now.Sub(item.EnqueuedAt).Milliseconds(),
			}))
		})
		for _, d := range q.dispatchReady(now, e.config.WaitingPriorityFactor) {
			d.ch <- d.item
		}
	}
}

// spawnWorker launches one worker goroutine for slot workerIdx of q. The
// channel is captured once at spawn time rather than re-indexed from
// q.in on every iteration, since growWorkersLocked appends to q.in
// concurrently with this goroutine running.
func (e *Engine) spawnWorker(q *typeQueue, workerIdx int) {
	q.mu.Lock()
	ch := q.in[workerIdx]
	q.mu.Unlock()

	e.LaunchThread(func(ctx context.Context) {
		defer e.respawnOnExit(q, workerIdx)
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-ch:
				if !ok {
					return
				}
				e.runItem(ctx, q, workerIdx, item)
			}
		}
	})
}

// respawnOnExit replaces a worker goroutine that exited with its slot still
// marked active — i.e. its input channel was closed without a deliberate
// shrinkWorkersLocked deactivation. Shutdown (ctx cancelled) and deliberate
// rebalance-driven shrinks are left alone.
func (e *Engine) respawnOnExit(q *typeQueue, workerIdx int) {
	if e.GetContext().Err() != nil {
		return
	}
	q.mu.Lock()
	active := workerIdx < len(q.workers) && q.workers[workerIdx].Active
	q.mu.Unlock()
	if !active {
		return
	}

	b := backoff.NewConstantBackOff(5 * time.Second)
	op := func() error {
		if e.GetContext().Err() != nil {
			return nil
		}
		q.mu.Lock()
		q.in[workerIdx] = make(chan *QueuedTransaction, 1)
		q.workers[workerIdx].Active = true
		q.mu.Unlock()
		e.spawnWorker(q, workerIdx)
		return nil
	}
	if err := backoff.Retry(op, b); err != nil {
		log.Error("optimizer worker respawn failed permanently", "workerIdx", workerIdx, "err", err)
	}
}

func (e *Engine) runItem(ctx context.Context, q *typeQueue, workerIdx int, item *QueuedTransaction) {
	start := e.clk.Now()
	waitMs := start.Sub(item.EnqueuedAt).Milliseconds()

	success, hash, err := e.safeProcess(ctx, item.Tx)

	now := e.clk.Now()
	durationMs := now.Sub(start).Milliseconds()
	q.freeWorker(workerIdx)
	q.recordCompletion(now, waitMs, durationMs, success)

	if err != nil {
		e.sink.Publish(events.NewWorkerError(now, events.WorkerError{
			Type: q.txType.String(), WorkerID: workerIdx, Error: err.Error(),
		}))
	}

	if success {
		item.Tx.Status = seqtypes.TxConfirmed
		item.Tx.Hash = hash
	} else {
		item.Tx.Status = seqtypes.TxFailed
	}

	e.sink.Publish(events.NewTransactionProcessed(now, events.TransactionProcessed{
		TxID: item.Tx.ID, Type: q.txType, Success: success, Hash: hash,
		DurationMs: durationMs,
	}))
}

// safeProcess recovers from a panicking Processor, synthesizing a failure
// result so no in-flight transaction is silently lost.
func (e *Engine) safeProcess(ctx context.Context, tx *seqtypes.Tx) (success bool, hash string, err error) {
	defer func() {
		if r := recover(); r != nil {
			success, hash, err = false, "", errPanic
		}
	}()
	return e.processor.Process(ctx, tx)
}

var errPanic = panicError{}

type panicError struct{}

func (panicError) Error() string { return "worker panic" }

// typeLoad is one transaction type's rebalancing input: its observed load
// score and its current worker count.
type typeLoad struct {
	txType  seqtypes.TxType
	q       *typeQueue
	load    float64
	current int
}

// rebalance implements the adaptive load-balancing rule: compute each
// type's load score, derive an ideal worker distribution proportional to
// load, and move workers gradually toward it.
func (e *Engine) rebalance() {
	e.mu.Lock()
	defer e.mu.Unlock()

	var loads []typeLoad
	var totalLoad, totalWorkers float64
	for t, q := range e.queues {
		total, _, _ := q.activeWorkerCount()
		load := 0.7*float64(q.len()) + 0.3*q.throughputLastMinute()
		loads = append(loads, typeLoad{txType: t, q: q, load: load, current: total})
		totalLoad += load
		totalWorkers += float64(total)
	}
	if totalLoad == 0 || len(loads) == 0 {
		return
	}

	sort.Slice(loads, func(i, j int) bool { return loads[i].load > loads[j].load })

	ideal := make(map[seqtypes.TxType]int, len(loads))
	assigned := 0
	for _, tl := range loads {
		v := int(math.Round(totalWorkers * tl.load / totalLoad))
		if v < 1 {
			v = 1
		}
		ideal[tl.txType] = v
		assigned += v
	}

	// Correct rounding drift so Σideal == totalWorkers: when over, take one
	// at a time starting from the lowest-load type (never reducing any type
	// below 1); when under, give to the highest-load type. loads is sorted
	// highest-load-first, so index 0 is the highest- and the tail the
	// lowest-load type.
	drift := assigned - int(totalWorkers)
	for drift > 0 {
		moved := false
		for i := len(loads) - 1; i >= 0 && drift > 0; i-- {
			t := loads[i].txType
			if ideal[t] > 1 {
				ideal[t]--
				drift--
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	for drift < 0 {
		t := loads[0].txType
		ideal[t]++
		drift++
	}

	for _, tl := range loads {
		target := ideal[tl.txType]
		delta := target - tl.current
		if delta == 0 {
			continue
		}
		step := int(math.Ceil(math.Abs(float64(delta)) * e.config.AdaptiveLoadBalancingFactor))
		if step == 0 {
			continue
		}
		if delta > 0 {
			e.growWorkersLocked(tl.q, step)
		} else {
			e.shrinkWorkersLocked(tl.q, step)
		}
	}
}

// growWorkersLocked adds up to n new worker slots to q.
func (e *Engine) growWorkersLocked(q *typeQueue, n int) {
	q.mu.Lock()
	start := len(q.workers)
	for i := 0; i < n; i++ {
		q.workers = append(q.workers, seqtypes.WorkerSlot{Index: start + i, Active: true})
		q.in = append(q.in, make(chan *QueuedTransaction, 1))
	}
	added := q.in[start:]
	q.mu.Unlock()
	for i, ch := range added {
		_ = ch
		e.spawnWorker(q, start+i)
	}
}

// shrinkWorkersLocked deactivates up to n workers, picking the
// lowest-load ones first, never going below one active worker.
func (e *Engine) shrinkWorkersLocked(q *typeQueue, n int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	type idxLoad struct {
		idx  int
		load int
	}
	var candidates []idxLoad
	activeCount := 0
	for i, w := range q.workers {
		if w.Active {
			activeCount++
			candidates = append(candidates, idxLoad{idx: i, load: w.Load})
		}
	}
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].load < candidates[i].load {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}

	removed := 0
	for _, c := range candidates {
		if removed >= n || activeCount-removed <= 1 {
			break
		}
		if q.workers[c.idx].Load != 0 {
			continue
		}
		q.workers[c.idx].Active = false
		close(q.in[c.idx])
		removed++
	}
}
