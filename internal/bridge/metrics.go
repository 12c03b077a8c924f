// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bridge

import "github.com/l2seq/sequencer/internal/seqtypes"

// Metrics is the snapshot Metrics() returns: per-status transaction counts
// plus the circuit breaker's current state.
type Metrics struct {
	Pending       int
	InProgress    int
	Retrying      int
	Completed     int
	Failed        int
	TimedOut      int
	Cancelled     int
	CircuitBreaker string
}

// Metrics returns a snapshot of every transaction's status tally and the
// circuit breaker's current state, for the status server to publish.
func (e *Engine) Metrics() Metrics {
	m := Metrics{CircuitBreaker: e.CircuitBreakerState()}
	for _, tx := range e.arena.snapshot() {
		e.mu.Lock()
		status := tx.Status
		e.mu.Unlock()
		switch status {
		case seqtypes.BridgePending:
			m.Pending++
		case seqtypes.BridgeInProgress:
			m.InProgress++
		case seqtypes.BridgeRetrying:
			m.Retrying++
		case seqtypes.BridgeCompleted:
			m.Completed++
		case seqtypes.BridgeFailed:
			m.Failed++
		case seqtypes.BridgeTimedOut:
			m.TimedOut++
		case seqtypes.BridgeCancelled:
			m.Cancelled++
		}
	}
	return m
}
