// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bundleengine

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/l2seq/sequencer/internal/clock"
	"github.com/l2seq/sequencer/internal/events"
	"github.com/l2seq/sequencer/internal/seqtypes"
	"github.com/l2seq/sequencer/internal/taxsystem"
)

func newTestTx(t *testing.T, txType seqtypes.TxType, gas uint64) *seqtypes.Tx {
	t.Helper()
	return &seqtypes.Tx{
		ID:       seqtypes.NewTxID(),
		Sender:   "alice",
		Recipient: "bob",
		Value:    uint256.NewInt(1000),
		GasLimit: gas,
		Type:     txType,
		Status:   seqtypes.TxPending,
	}
}

func startTestEngine(t *testing.T, cfg Config, processor Processor) (*Engine, *events.RecordingSink) {
	t.Helper()
	sink := events.NewRecordingSink()
	ts := taxsystem.NewSimple(taxsystem.DefaultRates())
	eng := New(cfg, ts, sink, clock.Real{}, processor)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.StopAndWait)
	return eng, sink
}

func waitForBundleStatus(t *testing.T, eng *Engine, id seqtypes.BundleID, status seqtypes.BundleStatus, timeout time.Duration) *seqtypes.Bundle {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		b := eng.Bundle(id)
		if b != nil && b.Status == status {
			return b
		}
		eng.ProcessTick()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("bundle %s did not reach status %v in time", id, status)
	return nil
}

func TestHappyBundle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProcessingIntervalMs = 10
	eng, _ := startTestEngine(t, cfg, AlwaysSucceedProcessor{})

	id := eng.CreateBundle(10)
	types := []seqtypes.TxType{seqtypes.TxTransfer, seqtypes.TxTransfer, seqtypes.TxSwap}
	for _, ty := range types {
		ok, reason := eng.AddTransaction(id, newTestTx(t, ty, 21000), ty)
		require.True(t, ok, reason)
	}
	require.True(t, eng.Submit(id))

	b := waitForBundleStatus(t, eng, id, seqtypes.BundleCompleted, 2*time.Second)
	require.Len(t, b.Transactions, 3)
	for _, tx := range b.Transactions {
		require.Equal(t, seqtypes.TxConfirmed, tx.Status)
	}
	require.True(t, b.Score > 0)
}

func TestProcessorOverrunSynthesizesFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProcessingIntervalMs = 10
	cfg.TimeoutSeconds = 1

	blocked := ProcessorFunc(func(ctx context.Context, bundleID seqtypes.BundleID, txs []*seqtypes.Tx, priorityFee uint64) BundleResult {
		<-ctx.Done() // wakes once the per-bundle deadline fires
		return BundleResult{BundleID: bundleID, Success: true} // arrives too late; must be overridden
	})
	eng, _ := startTestEngine(t, cfg, blocked)

	id := eng.CreateBundle(10)
	ok, reason := eng.AddTransaction(id, newTestTx(t, seqtypes.TxTransfer, 21000), seqtypes.TxTransfer)
	require.True(t, ok, reason)
	require.True(t, eng.Submit(id))

	b := waitForBundleStatus(t, eng, id, seqtypes.BundleFailed, 3*time.Second)
	require.Len(t, b.Transactions, 0) // the failed tx has retries left and moves to a retry bundle
}

func TestRetryCarving(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProcessingIntervalMs = 10
	cfg.MaxTransactionRetries = 3

	failSet := map[int]bool{1: true, 3: true} // 0-indexed positions #2 and #4
	processor := ProcessorFunc(func(ctx context.Context, bundleID seqtypes.BundleID, txs []*seqtypes.Tx, priorityFee uint64) BundleResult {
		outcomes := make([]TxOutcome, len(txs))
		for i, tx := range txs {
			outcomes[i] = TxOutcome{TxID: tx.ID, Success: !failSet[i]}
		}
		return BundleResult{BundleID: bundleID, Success: true, Outcomes: outcomes, ProcessingTimeMs: 1}
	})

	eng, _ := startTestEngine(t, cfg, processor)
	id := eng.CreateBundle(0)
	var txIDs []seqtypes.TxID
	for i := 0; i < 5; i++ {
		tx := newTestTx(t, seqtypes.TxTransfer, 21000)
		txIDs = append(txIDs, tx.ID)
		ok, reason := eng.AddTransaction(id, tx, seqtypes.TxTransfer)
		require.True(t, ok, reason)
	}
	require.True(t, eng.Submit(id))

	b := waitForBundleStatus(t, eng, id, seqtypes.BundleCompleted, 2*time.Second)
	require.Len(t, b.Transactions, 3)
	confirmed := 0
	for _, tx := range b.Transactions {
		if tx.Status == seqtypes.TxConfirmed {
			confirmed++
		}
	}
	require.Equal(t, 3, confirmed)

	var retryBundle *seqtypes.Bundle
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, candidate := range eng.arena.snapshot() {
			if candidate.ID != id && candidate.Len() > 0 {
				retryBundle = candidate
				break
			}
		}
		if retryBundle != nil {
			break
		}
		eng.ProcessTick()
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, retryBundle)
	require.Len(t, retryBundle.Transactions, 2)
	for _, tx := range retryBundle.Transactions {
		require.Equal(t, seqtypes.TxPending, tx.Status)
		require.Equal(t, 1, tx.RetryCount)
		require.True(t, tx.ID == txIDs[1] || tx.ID == txIDs[3])
	}
}

func TestAdaptiveShrink(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProcessingIntervalMs = 10
	cfg.UseAdaptiveBundling = true

	// Slow processor: 1 tx over ~50ms gives tps_observed well under 5000.
	processor := ProcessorFunc(func(ctx context.Context, bundleID seqtypes.BundleID, txs []*seqtypes.Tx, priorityFee uint64) BundleResult {
		time.Sleep(50 * time.Millisecond)
		outcomes := make([]TxOutcome, len(txs))
		for i, tx := range txs {
			outcomes[i] = TxOutcome{TxID: tx.ID, Success: true}
		}
		return BundleResult{BundleID: bundleID, Success: true, Outcomes: outcomes, ProcessingTimeMs: 50}
	})

	eng, _ := startTestEngine(t, cfg, processor)
	id := eng.CreateBundle(0)
	tx := newTestTx(t, seqtypes.TxTransfer, 21000)
	ok, reason := eng.AddTransaction(id, tx, seqtypes.TxTransfer)
	require.True(t, ok, reason)
	require.True(t, eng.Submit(id))

	waitForBundleStatus(t, eng, id, seqtypes.BundleCompleted, 2*time.Second)

	metrics := eng.GetPerformanceMetrics()
	require.LessOrEqual(t, metrics.BundleSizeMultiplier, 0.95)
	require.LessOrEqual(t, metrics.EffectiveMaxSize, int(float64(cfg.MaxTransactionsPerBundle)*0.95))
}

func TestAbortIsIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	eng, _ := startTestEngine(t, cfg, AlwaysSucceedProcessor{})
	id := eng.CreateBundle(0)
	require.True(t, eng.Abort(id))
	require.False(t, eng.Abort(id))
}

func TestTaxInvariantHolds(t *testing.T) {
	cfg := DefaultConfig()
	eng, _ := startTestEngine(t, cfg, AlwaysSucceedProcessor{})
	id := eng.CreateBundle(0)
	tx := newTestTx(t, seqtypes.TxBuy, 21000)
	ok, reason := eng.AddTransaction(id, tx, seqtypes.TxBuy)
	require.True(t, ok, reason)

	b := eng.Bundle(id)
	require.True(t, b.Taxes.Valid())
	require.Equal(t, b.TotalGas, b.RecomputeTotalGas())
}
