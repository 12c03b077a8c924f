// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package bridge owns a per-bridge-transaction state machine with
// exponential-backoff retry, verifier polling, and a process-wide circuit
// breaker gating new dispatch during sustained collaborator failure.
package bridge

import (
	"context"
	"math/rand"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/l2seq/sequencer/internal/clock"
	"github.com/l2seq/sequencer/internal/events"
	"github.com/l2seq/sequencer/internal/seqtypes"
	"github.com/l2seq/sequencer/internal/stopwaiter"
)

// ErrNoExecutor and ErrNoVerifier surface a dispatch-time registration gap
// as an explicit Failed reason, per the protocol error-kind taxonomy.
var (
	ErrNoExecutor = errors.New("bridge: no executor registered for type")
	ErrNoVerifier = errors.New("bridge: no verifier registered for type")
)

// Engine is the Bridge Reliability Engine: it owns every BridgeTransaction
// it has created, runs a fixed worker pool for executor/verifier calls, and
// drives a tick loop that advances the state machine and the circuit
// breaker.
type Engine struct {
	stopwaiter.StopWaiter

	config Config
	clk    clock.Clock
	sink   events.Sink

	mu        sync.Mutex
	arena     *arena
	executors map[seqtypes.BridgeTxType]Executor
	verifiers map[seqtypes.BridgeTxType]Verifier
	inFlight  map[seqtypes.BridgeTxID]bool

	breaker *circuitBreaker

	workIn  chan bridgeWork
	workOut chan bridgeResult

	// store, if attached via AttachStore before Start, durably mirrors
	// every transition so in-flight bridge transactions survive a
	// process restart. Nil disables persistence (the default, and what
	// every existing test uses).
	store *badger.DB
}

// New constructs an Engine. Start must be called before it does any work.
func New(cfg Config, sink events.Sink, clk clock.Clock) *Engine {
	if sink == nil {
		sink = events.NopSink{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Engine{
		config:    cfg,
		clk:       clk,
		sink:      sink,
		arena:     newArena(),
		executors: make(map[seqtypes.BridgeTxType]Executor),
		verifiers: make(map[seqtypes.BridgeTxType]Verifier),
		inFlight:  make(map[seqtypes.BridgeTxID]bool),
		breaker:   newCircuitBreaker(cfg),
		workIn:    make(chan bridgeWork, cfg.WorkerThreads*4+8),
		workOut:   make(chan bridgeResult, cfg.WorkerThreads*4+8),
	}
}

// Start launches the worker pool, the result-handling loop, and the
// periodic tick loop.
func (e *Engine) Start(ctxIn context.Context) error {
	if err := e.StopWaiter.Start(ctxIn); err != nil {
		return err
	}
	e.mu.Lock()
	loadErr := e.loadFromStoreLocked()
	e.mu.Unlock()
	if loadErr != nil {
		return errors.Wrap(loadErr, "reloading bridge transactions from store")
	}
	for i := 0; i < e.config.WorkerThreads; i++ {
		e.spawnWorker(e.GetContext(), i)
	}
	e.LaunchThread(e.handleResults)
	e.CallIteratively(func(ctx context.Context) time.Duration {
		e.Tick()
		return e.config.checkInterval()
	})
	return nil
}

// RegisterExecutor binds an Executor to a bridge transaction type.
func (e *Engine) RegisterExecutor(t seqtypes.BridgeTxType, ex Executor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executors[t] = ex
}

// RegisterVerifier binds a Verifier to a bridge transaction type.
func (e *Engine) RegisterVerifier(t seqtypes.BridgeTxType, v Verifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verifiers[t] = v
}

func (e *Engine) executorFor(t seqtypes.BridgeTxType) Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executors[t]
}

func (e *Engine) verifierFor(t seqtypes.BridgeTxType) Verifier {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.verifiers[t]
}

// Submit creates a new Pending bridge transaction and returns its id.
func (e *Engine) Submit(txType seqtypes.BridgeTxType, source, destination seqtypes.ChainEndpoint, token string, amount *uint256.Int) seqtypes.BridgeTxID {
	id := seqtypes.NewBridgeTxID()
	now := e.clk.Now()
	tx := &seqtypes.BridgeTransaction{
		ID:          id,
		Type:        txType,
		Status:      seqtypes.BridgePending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Source:      source,
		Destination: destination,
		Token:       token,
		Amount:      amount,
	}
	e.mu.Lock()
	e.arena.insert(tx)
	e.persistLocked(tx)
	e.mu.Unlock()
	return id
}

// Cancel moves any non-terminal bridge transaction to Cancelled.
func (e *Engine) Cancel(id seqtypes.BridgeTxID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx := e.arena.get(id)
	if tx == nil || tx.Status.Terminal() {
		return false
	}
	from := tx.Status
	tx.Status = seqtypes.BridgeCancelled
	tx.UpdatedAt = e.clk.Now()
	e.emitTransitionLocked(tx.UpdatedAt, tx.ID, tx.Type, from, tx.Status, tx.Attempts, false, "")
	e.persistLocked(tx)
	return true
}

// Transaction returns a snapshot copy of a bridge transaction by id.
func (e *Engine) Transaction(id seqtypes.BridgeTxID) (seqtypes.BridgeTransaction, bool) {
	tx := e.arena.get(id)
	if tx == nil {
		return seqtypes.BridgeTransaction{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return *tx, true
}

// CircuitBreakerState reports the breaker's current state as a string
// ("closed", "open", "half_open").
func (e *Engine) CircuitBreakerState() string {
	return e.breaker.currentState().String()
}

// Tick advances the circuit breaker and dispatches or transitions every
// non-terminal bridge transaction once. Exposed publicly so tests can drive
// the engine without waiting on the real timer.
func (e *Engine) Tick() {
	now := e.clk.Now()

	if newState, transitioned := e.breaker.tick(now); transitioned {
		e.sink.Publish(events.NewCircuitBreakerTransition(now, events.CircuitBreakerTransition{
			Bridge: "default", State: newState.String(),
		}))
	}

	for _, tx := range e.arena.snapshot() {
		e.tickOne(tx, now)
	}
}

func (e *Engine) tickOne(tx *seqtypes.BridgeTransaction, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if tx.Status.Terminal() {
		return
	}

	// Age-based timeout is checked regardless of whether a worker call is
	// currently in flight for this id: a hung collaborator must not prevent
	// the transaction from reaching a terminal state.
	timeout := e.config.timeout()
	if (tx.Status == seqtypes.BridgePending || tx.Status == seqtypes.BridgeInProgress) && timeoutFor(tx, now, timeout) {
		from := tx.Status
		tx.Status = seqtypes.BridgeTimedOut
		tx.UpdatedAt = now
		e.emitTransitionLocked(now, tx.ID, tx.Type, from, tx.Status, tx.Attempts, false, "")
		e.persistLocked(tx)
		return
	}

	if e.inFlight[tx.ID] {
		return
	}

	switch tx.Status {
	case seqtypes.BridgePending:
		if !e.breaker.allowsExecute() {
			return
		}
		e.dispatchExecuteLocked(tx, now)
	case seqtypes.BridgeInProgress:
		e.dispatchVerifyLocked(tx, now)
	case seqtypes.BridgeRetrying:
		if !e.breaker.allowsExecute() {
			return
		}
		delay := e.config.retryDelay(tx.Attempts, jitter())
		if now.Sub(tx.UpdatedAt) >= delay {
			e.dispatchExecuteLocked(tx, now)
		}
	}
}

// dispatchExecuteLocked sends an execute attempt to the worker pool. Caller
// holds mu.
func (e *Engine) dispatchExecuteLocked(tx *seqtypes.BridgeTransaction, now time.Time) {
	attempt := tx.Attempts + 1
	select {
	case e.workIn <- bridgeWork{id: tx.ID, kind: workExecute, attempt: attempt}:
		e.inFlight[tx.ID] = true
		tx.Attempts = attempt
	default:
		// pool saturated; retry next tick rather than block the orchestrator.
	}
}

// dispatchVerifyLocked sends a verifier poll to the worker pool. Caller
// holds mu.
func (e *Engine) dispatchVerifyLocked(tx *seqtypes.BridgeTransaction, now time.Time) {
	select {
	case e.workIn <- bridgeWork{id: tx.ID, kind: workVerify, attempt: tx.Attempts}:
		e.inFlight[tx.ID] = true
	default:
	}
}

func (e *Engine) handleResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-e.workOut:
			e.applyResult(r)
		}
	}
}

func (e *Engine) applyResult(r bridgeResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.inFlight, r.id)
	tx := e.arena.get(r.id)
	if tx == nil || tx.Status.Terminal() {
		return
	}
	now := e.clk.Now()

	switch r.kind {
	case workExecute:
		if r.execute.Success {
			from := tx.Status
			tx.Status = seqtypes.BridgeInProgress
			tx.UpdatedAt = now
			if r.execute.Hash != "" {
				tx.SourceHash = r.execute.Hash
			}
			e.emitTransitionLocked(now, tx.ID, tx.Type, from, tx.Status, tx.Attempts, from == seqtypes.BridgeRetrying, "")
			e.persistLocked(tx)
			return
		}
		e.handleErrorLocked(tx, now, r.execute.Error)
	case workVerify:
		switch r.verify.Status {
		case VerifyCompleted:
			from := tx.Status
			tx.Status = seqtypes.BridgeCompleted
			tx.UpdatedAt = now
			tx.CompletedAt = now
			tx.HasCompletedAt = true
			if r.verify.DestinationHash != "" {
				tx.DestinationHash = r.verify.DestinationHash
			}
			e.emitTransitionLocked(now, tx.ID, tx.Type, from, tx.Status, tx.Attempts, false, "")
			e.persistLocked(tx)
		case VerifyFailed:
			e.handleErrorLocked(tx, now, r.verify.Error)
		case VerifyInProgress:
			// no state change; poll again next tick.
		}
	}
}

// handleErrorLocked appends an error record, decides Retrying vs Failed, and
// consults the circuit breaker. Caller holds mu.
func (e *Engine) handleErrorLocked(tx *seqtypes.BridgeTransaction, now time.Time, info *ExecuteErrorInfo) {
	msg, code, details, recoverable := "unknown error", "", "", true
	if info != nil {
		msg, code, details, recoverable = info.Message, info.Code, info.Details, info.Recoverable
	}
	tx.Errors = append(tx.Errors, seqtypes.BridgeError{Timestamp: now, Message: msg, Code: code, Details: details})

	from := tx.Status
	if recoverable && tx.Attempts < e.config.MaxRetries {
		tx.Status = seqtypes.BridgeRetrying
	} else {
		tx.Status = seqtypes.BridgeFailed
	}
	tx.UpdatedAt = now
	e.emitTransitionLocked(now, tx.ID, tx.Type, from, tx.Status, tx.Attempts, false, msg)
	e.persistLocked(tx)

	if opened := e.breaker.recordError(now); opened {
		e.sink.Publish(events.NewCircuitBreakerTransition(now, events.CircuitBreakerTransition{
			Bridge: "default", State: breakerOpen.String(),
		}))
	}
}

func (e *Engine) emitTransitionLocked(now time.Time, id seqtypes.BridgeTxID, txType seqtypes.BridgeTxType, from, to seqtypes.BridgeStatus, attempt int, isRetry bool, errMsg string) {
	if from == to {
		return
	}
	log.Debug("bridge transaction transition", "id", string(id), "from", from.String(), "to", to.String())
	e.sink.Publish(events.NewBridgeTransition(now, events.BridgeTransition{
		BridgeTxID: id, Type: txType, From: from, To: to, Attempt: attempt, Error: errMsg,
	}, isRetry))
}

// jitter returns a pseudo-random value in [0,1); tickOne passes it to
// config.go's retryDelay as the retry-delay jitter.
func jitter() float64 {
	return rand.Float64()
}
