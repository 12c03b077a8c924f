// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package optimizer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l2seq/sequencer/internal/clock"
	"github.com/l2seq/sequencer/internal/events"
	"github.com/l2seq/sequencer/internal/seqtypes"
)

func newTx(txType seqtypes.TxType) *seqtypes.Tx {
	return &seqtypes.Tx{ID: seqtypes.NewTxID(), Type: txType, Status: seqtypes.TxPending}
}

// gatedProcessor blocks Process until release is closed, letting a test
// hold both workers busy so queued items can age before dispatch.
type gatedProcessor struct {
	mu      sync.Mutex
	order   []seqtypes.TxID
	release chan struct{}
}

func newGatedProcessor() *gatedProcessor {
	return &gatedProcessor{release: make(chan struct{})}
}

func (g *gatedProcessor) Process(ctx context.Context, tx *seqtypes.Tx) (bool, string, error) {
	<-g.release
	g.mu.Lock()
	g.order = append(g.order, tx.ID)
	g.mu.Unlock()
	return true, "", nil
}

func TestPriorityAging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkersPerType = 2
	cfg.ProcessingIntervalMs = 5
	cfg.WaitingPriorityFactor = 2.0
	cfg.EnableAdaptiveLoadBalancing = false
	cfg.SupportedTransactionTypes = []seqtypes.TxType{seqtypes.TxTransfer}

	mc := clock.NewManual(time.Unix(0, 0))
	proc := newGatedProcessor()
	sink := events.NewRecordingSink()
	eng := New(cfg, sink, mc, proc)
	require.NoError(t, eng.Start(context.Background()))
	defer eng.StopAndWait()

	// Occupy both workers so nothing dispatches while A and B sit in queue.
	busyA := newTx(seqtypes.TxTransfer)
	busyB := newTx(seqtypes.TxTransfer)
	require.True(t, eng.Submit(busyA, seqtypes.TxTransfer, 0))
	require.True(t, eng.Submit(busyB, seqtypes.TxTransfer, 0))
	eng.tick()
	time.Sleep(20 * time.Millisecond) // let dispatchReady hand both to workers

	txA := newTx(seqtypes.TxTransfer)
	txB := newTx(seqtypes.TxTransfer)
	require.True(t, eng.Submit(txA, seqtypes.TxTransfer, 10))
	require.True(t, eng.Submit(txB, seqtypes.TxTransfer, 1))

	mc.Advance(5 * time.Second)

	q := eng.queues[seqtypes.TxTransfer]
	effA := q.items[0].effectivePriority(mc.Now(), cfg.WaitingPriorityFactor)
	effB := q.items[1].effectivePriority(mc.Now(), cfg.WaitingPriorityFactor)
	require.InDelta(t, 20.0, effA, 0.001)
	require.InDelta(t, 11.0, effB, 0.001)

	close(proc.release)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		eng.tick()
		proc.mu.Lock()
		n := len(proc.order)
		proc.mu.Unlock()
		if n >= 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	require.GreaterOrEqual(t, len(proc.order), 3)
	var posA, posB = -1, -1
	for i, id := range proc.order {
		if id == txA.ID {
			posA = i
		}
		if id == txB.ID {
			posB = i
		}
	}
	require.NotEqual(t, -1, posA)
	require.NotEqual(t, -1, posB)
	require.Less(t, posA, posB)
}

func TestSubmitRejectsUnsupportedType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SupportedTransactionTypes = []seqtypes.TxType{seqtypes.TxTransfer}
	eng := New(cfg, nil, clock.Real{}, AlwaysSucceedProcessor{})
	require.NoError(t, eng.Start(context.Background()))
	defer eng.StopAndWait()

	ok := eng.Submit(newTx(seqtypes.TxSwap), seqtypes.TxSwap, 1)
	require.False(t, ok)
}

func TestQueueFullRejectsAndEmitsEvent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SupportedTransactionTypes = []seqtypes.TxType{seqtypes.TxTransfer}
	cfg.MaxQueueSizePerType = 1
	cfg.WorkersPerType = 0

	sink := events.NewRecordingSink()
	eng := New(cfg, sink, clock.Real{}, AlwaysSucceedProcessor{})
	require.NoError(t, eng.Start(context.Background()))
	defer eng.StopAndWait()

	require.True(t, eng.Submit(newTx(seqtypes.TxTransfer), seqtypes.TxTransfer, 1))
	require.False(t, eng.Submit(newTx(seqtypes.TxTransfer), seqtypes.TxTransfer, 1))
	require.Equal(t, 1, sink.CountKind(events.KindQueueFull))
}
