// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package optimizer

import (
	"sort"
	"sync"
	"time"

	"github.com/l2seq/sequencer/internal/seqtypes"
)

// typeQueue holds one transaction type's pending-transaction queue and its
// dedicated worker sub-pool, so a slow or saturated type never starves
// another type's dispatch.
type typeQueue struct {
	mu      sync.Mutex
	txType  seqtypes.TxType
	items   []*QueuedTransaction
	workers []seqtypes.WorkerSlot
	in      []chan *QueuedTransaction

	processedCount   int64
	totalProcessedMs int64
	successCount     int64
	recentWindow     []time.Time // timestamps of completions in the last 60s, for throughput

	totalWaitMs int64
	waitSamples int64
}

func newTypeQueue(t seqtypes.TxType, workerCount int) *typeQueue {
	q := &typeQueue{
		txType:  t,
		workers: make([]seqtypes.WorkerSlot, workerCount),
		in:      make([]chan *QueuedTransaction, workerCount),
	}
	for i := range q.workers {
		q.workers[i] = seqtypes.WorkerSlot{Index: i, Active: true}
		q.in[i] = make(chan *QueuedTransaction, 1)
	}
	return q
}

// enqueue appends a new item if there is room, returning false if the queue
// is at capacity.
func (q *typeQueue) enqueue(item *QueuedTransaction, maxSize int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= maxSize {
		return false
	}
	q.items = append(q.items, item)
	return true
}

// sortByEffectivePriority orders items by descending effective priority,
// ties broken by earliest enqueue time (stable sort preserves FIFO order
// among exact ties, which already hold enqueue order since items are
// appended in arrival order).
func (q *typeQueue) sortByEffectivePriority(now time.Time, waitingPriorityFactor float64) {
	sort.SliceStable(q.items, func(i, j int) bool {
		pi := q.items[i].effectivePriority(now, waitingPriorityFactor)
		pj := q.items[j].effectivePriority(now, waitingPriorityFactor)
		if pi != pj {
			return pi > pj
		}
		return q.items[i].EnqueuedAt.Before(q.items[j].EnqueuedAt)
	})
}

// expireOverdue removes items that have waited longer than timeout, invoking
// onExpire for each one removed.
func (q *typeQueue) expireOverdue(now time.Time, timeout time.Duration, onExpire func(*QueuedTransaction)) {
	q.mu.Lock()
	var kept []*QueuedTransaction
	var expired []*QueuedTransaction
	for _, item := range q.items {
		if now.Sub(item.EnqueuedAt) > timeout {
			expired = append(expired, item)
		} else {
			kept = append(kept, item)
		}
	}
	q.items = kept
	q.mu.Unlock()

	for _, item := range expired {
		onExpire(item)
	}
}

// freeWorkerIndexLocked returns the index of an active, idle worker, or -1.
// Caller must hold q.mu.
func (q *typeQueue) freeWorkerIndexLocked() int {
	for i := range q.workers {
		if q.workers[i].Active && q.workers[i].Load == 0 {
			return i
		}
	}
	return -1
}

// dispatchReady repeatedly pairs a free worker with the highest-effective-
// priority queued item until either runs out, per the dispatch rule.
func (q *typeQueue) dispatchReady(now time.Time, waitingPriorityFactor float64) []dispatched {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = sortItemsByPriority(q.items, now, waitingPriorityFactor)

	var out []dispatched
	for {
		slot := q.freeWorkerIndexLocked()
		if slot < 0 || len(q.items) == 0 {
			break
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.workers[slot].Load = 1
		q.workers[slot].LastActive = now
		out = append(out, dispatched{item: item, workerIdx: slot, ch: q.in[slot]})
	}
	return out
}

func sortItemsByPriority(items []*QueuedTransaction, now time.Time, waitingPriorityFactor float64) []*QueuedTransaction {
	sort.SliceStable(items, func(i, j int) bool {
		pi := items[i].effectivePriority(now, waitingPriorityFactor)
		pj := items[j].effectivePriority(now, waitingPriorityFactor)
		if pi != pj {
			return pi > pj
		}
		return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
	})
	return items
}

type dispatched struct {
	item      *QueuedTransaction
	workerIdx int
	ch        chan *QueuedTransaction
}

// freeWorker clears load on the given worker index.
func (q *typeQueue) freeWorker(idx int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idx >= 0 && idx < len(q.workers) {
		q.workers[idx].Load = 0
	}
}

// recordCompletion folds one finished item's timing/outcome into the
// rolling stats used by get_processing_metrics.
func (q *typeQueue) recordCompletion(now time.Time, waitMs int64, processingMs int64, success bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processedCount++
	q.totalProcessedMs += processingMs
	q.totalWaitMs += waitMs
	q.waitSamples++
	if success {
		q.successCount++
	}
	q.recentWindow = append(q.recentWindow, now)
	cutoff := now.Add(-60 * time.Second)
	i := 0
	for i < len(q.recentWindow) && q.recentWindow[i].Before(cutoff) {
		i++
	}
	q.recentWindow = q.recentWindow[i:]
}

func (q *typeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *typeQueue) oldestAge(now time.Time) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0
	}
	oldest := q.items[0].EnqueuedAt
	for _, item := range q.items[1:] {
		if item.EnqueuedAt.Before(oldest) {
			oldest = item.EnqueuedAt
		}
	}
	return now.Sub(oldest)
}

func (q *typeQueue) activeWorkerCount() (total, active int, avgLoad float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	total = len(q.workers)
	var loadSum int
	for _, w := range q.workers {
		if w.Active {
			active++
		}
		loadSum += w.Load
	}
	if total > 0 {
		avgLoad = float64(loadSum) / float64(total)
	}
	return
}

func (q *typeQueue) throughputLastMinute() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return float64(len(q.recentWindow)) / 60.0
}
