// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/require"

	"github.com/l2seq/sequencer/internal/clock"
	"github.com/l2seq/sequencer/internal/events"
	"github.com/l2seq/sequencer/internal/seqtypes"
)

func newTestBadger(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newEndpoint(chain string) seqtypes.ChainEndpoint {
	return seqtypes.ChainEndpoint{Chain: chain, Address: "0xabc"}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.FailNow(t, "condition not met before timeout")
}

// alwaysFailExecutor always returns a recoverable failure, driving a
// transaction through repeated Retrying cycles.
type alwaysFailExecutor struct {
	mu    sync.Mutex
	calls int
}

func (e *alwaysFailExecutor) Execute(ctx context.Context, tx seqtypes.BridgeTransaction, attempt int) ExecuteResult {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return ExecuteResult{Success: false, Error: &ExecuteErrorInfo{Message: "rpc timeout", Recoverable: true}}
}

func (e *alwaysFailExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type successVerifier struct{}

func (successVerifier) Verify(ctx context.Context, tx seqtypes.BridgeTransaction) VerifyResult {
	return VerifyResult{Status: VerifyCompleted, DestinationHash: "0xdest"}
}

func newTestConfig() Config {
	cfg := DefaultConfig()
	cfg.WorkerThreads = 2
	cfg.TransactionCheckIntervalMs = 5
	cfg.InitialRetryDelayMs = 10
	cfg.MaxRetryDelayMs = 200
	cfg.RetryBackoffFactor = 2.0
	cfg.MaxRetries = 3
	cfg.TransactionTimeoutMs = 5000
	cfg.CircuitBreakerErrorThreshold = 3
	cfg.CircuitBreakerWindowMs = 10_000
	cfg.CircuitBreakerResetMs = 50
	return cfg
}

func TestHappyPathCompletesViaVerifier(t *testing.T) {
	cfg := newTestConfig()
	sink := events.NewRecordingSink()
	eng := New(cfg, sink, clock.Real{})
	eng.RegisterExecutor(seqtypes.BridgeDeposit, ExecutorFunc(func(ctx context.Context, tx seqtypes.BridgeTransaction, attempt int) ExecuteResult {
		return ExecuteResult{Success: true, Hash: "0xsrc"}
	}))
	eng.RegisterVerifier(seqtypes.BridgeDeposit, successVerifier{})
	require.NoError(t, eng.Start(context.Background()))
	defer eng.StopAndWait()

	id := eng.Submit(seqtypes.BridgeDeposit, newEndpoint("l1"), newEndpoint("l2"), "ETH", nil)

	waitFor(t, 2*time.Second, func() bool {
		tx, ok := eng.Transaction(id)
		return ok && tx.Status == seqtypes.BridgeCompleted
	})

	tx, ok := eng.Transaction(id)
	require.True(t, ok)
	require.Equal(t, seqtypes.BridgeCompleted, tx.Status)
	require.Equal(t, "0xsrc", tx.SourceHash)
	require.Equal(t, "0xdest", tx.DestinationHash)
	require.True(t, tx.HasCompletedAt)
}

func TestNoExecutorFailsImmediately(t *testing.T) {
	cfg := newTestConfig()
	eng := New(cfg, events.NewRecordingSink(), clock.Real{})
	require.NoError(t, eng.Start(context.Background()))
	defer eng.StopAndWait()

	id := eng.Submit(seqtypes.BridgeWithdrawal, newEndpoint("l2"), newEndpoint("l1"), "ETH", nil)

	waitFor(t, 2*time.Second, func() bool {
		tx, ok := eng.Transaction(id)
		return ok && tx.Status.Terminal()
	})

	tx, ok := eng.Transaction(id)
	require.True(t, ok)
	require.Equal(t, seqtypes.BridgeFailed, tx.Status)
	require.Len(t, tx.Errors, 1)
}

func TestRetryRespectsMaxRetries(t *testing.T) {
	cfg := newTestConfig()
	exec := &alwaysFailExecutor{}
	eng := New(cfg, events.NewRecordingSink(), clock.Real{})
	eng.RegisterExecutor(seqtypes.BridgeTransfer, exec)
	require.NoError(t, eng.Start(context.Background()))
	defer eng.StopAndWait()

	id := eng.Submit(seqtypes.BridgeTransfer, newEndpoint("l1"), newEndpoint("l2"), "USDC", nil)

	waitFor(t, 3*time.Second, func() bool {
		tx, ok := eng.Transaction(id)
		return ok && tx.Status == seqtypes.BridgeFailed
	})

	tx, ok := eng.Transaction(id)
	require.True(t, ok)
	require.Equal(t, seqtypes.BridgeFailed, tx.Status)
	require.LessOrEqual(t, tx.Attempts, cfg.MaxRetries)
	require.GreaterOrEqual(t, tx.Attempts, 1)
}

func TestCancelTerminatesNonTerminalTransaction(t *testing.T) {
	cfg := newTestConfig()
	cfg.TransactionCheckIntervalMs = 10_000 // keep the tick loop from racing the cancel
	eng := New(cfg, events.NewRecordingSink(), clock.Real{})
	require.NoError(t, eng.Start(context.Background()))
	defer eng.StopAndWait()

	id := eng.Submit(seqtypes.BridgeDeposit, newEndpoint("l1"), newEndpoint("l2"), "ETH", nil)
	require.True(t, eng.Cancel(id))

	tx, ok := eng.Transaction(id)
	require.True(t, ok)
	require.Equal(t, seqtypes.BridgeCancelled, tx.Status)

	require.False(t, eng.Cancel(id))
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cfg := newTestConfig()
	cfg.MaxRetries = 10
	cfg.CircuitBreakerErrorThreshold = 3
	cfg.CircuitBreakerWindowMs = 10_000
	cfg.CircuitBreakerResetMs = 40

	exec := &alwaysFailExecutor{}
	sink := events.NewRecordingSink()
	eng := New(cfg, sink, clock.Real{})
	eng.RegisterExecutor(seqtypes.BridgeDeposit, exec)
	require.NoError(t, eng.Start(context.Background()))
	defer eng.StopAndWait()

	eng.Submit(seqtypes.BridgeDeposit, newEndpoint("l1"), newEndpoint("l2"), "ETH", nil)

	waitFor(t, 2*time.Second, func() bool {
		return eng.CircuitBreakerState() == "open"
	})
	require.GreaterOrEqual(t, sink.CountKind(events.KindCircuitBreakerOpen), 1)

	waitFor(t, 2*time.Second, func() bool {
		return eng.CircuitBreakerState() == "half_open" || eng.CircuitBreakerState() == "closed"
	})
}

func TestTransactionTimesOutWhenExecutorNeverResponds(t *testing.T) {
	cfg := newTestConfig()
	cfg.TransactionTimeoutMs = 20
	cfg.TransactionCheckIntervalMs = 5

	block := make(chan struct{})
	eng := New(cfg, events.NewRecordingSink(), clock.Real{})
	eng.RegisterExecutor(seqtypes.BridgeDeposit, ExecutorFunc(func(ctx context.Context, tx seqtypes.BridgeTransaction, attempt int) ExecuteResult {
		<-ctx.Done()
		<-block
		return ExecuteResult{Success: true}
	}))
	require.NoError(t, eng.Start(context.Background()))
	defer func() {
		close(block)
		eng.StopAndWait()
	}()

	id := eng.Submit(seqtypes.BridgeDeposit, newEndpoint("l1"), newEndpoint("l2"), "ETH", nil)

	waitFor(t, 2*time.Second, func() bool {
		tx, ok := eng.Transaction(id)
		return ok && tx.Status == seqtypes.BridgeTimedOut
	})
}

func TestMetricsTalliesByStatus(t *testing.T) {
	cfg := newTestConfig()
	eng := New(cfg, events.NewRecordingSink(), clock.Real{})
	eng.RegisterExecutor(seqtypes.BridgeDeposit, ExecutorFunc(func(ctx context.Context, tx seqtypes.BridgeTransaction, attempt int) ExecuteResult {
		return ExecuteResult{Success: true, Hash: "0xsrc"}
	}))
	eng.RegisterVerifier(seqtypes.BridgeDeposit, successVerifier{})
	require.NoError(t, eng.Start(context.Background()))
	defer eng.StopAndWait()

	id := eng.Submit(seqtypes.BridgeDeposit, newEndpoint("l1"), newEndpoint("l2"), "ETH", nil)

	waitFor(t, 2*time.Second, func() bool {
		tx, ok := eng.Transaction(id)
		return ok && tx.Status == seqtypes.BridgeCompleted
	})

	m := eng.Metrics()
	require.Equal(t, 1, m.Completed)
	require.Equal(t, "closed", m.CircuitBreaker)
}

func TestAttachStorePersistsAndReloadsNonTerminal(t *testing.T) {
	cfg := newTestConfig()
	cfg.TransactionCheckIntervalMs = 10_000 // keep the tick loop from racing the assertions
	db := newTestBadger(t)

	eng1 := New(cfg, events.NewRecordingSink(), clock.Real{})
	eng1.AttachStore(db)
	require.NoError(t, eng1.Start(context.Background()))

	id := eng1.Submit(seqtypes.BridgeDeposit, newEndpoint("l1"), newEndpoint("l2"), "ETH", nil)
	waitFor(t, 2*time.Second, func() bool {
		_, ok := eng1.Transaction(id)
		return ok
	})
	eng1.StopAndWait()

	eng2 := New(cfg, events.NewRecordingSink(), clock.Real{})
	eng2.AttachStore(db)
	require.NoError(t, eng2.Start(context.Background()))
	defer eng2.StopAndWait()

	tx, ok := eng2.Transaction(id)
	require.True(t, ok)
	require.Equal(t, seqtypes.BridgePending, tx.Status)
}

func TestRetryDelayMonotonicIgnoringJitter(t *testing.T) {
	cfg := newTestConfig()
	d1 := cfg.retryDelay(1, 0)
	d2 := cfg.retryDelay(2, 0)
	d3 := cfg.retryDelay(3, 0)
	require.LessOrEqual(t, d1, d2)
	require.LessOrEqual(t, d2, d3)
}
