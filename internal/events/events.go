// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package events is the standalone observation boundary every engine
// publishes through, replacing the event-emitter-inheritance pattern the
// original system used: engines accept a Sink and publish tagged Event
// values on it, rather than binding state machines to a host event-emitter
// superclass.
package events

import (
	"time"

	"github.com/l2seq/sequencer/internal/seqtypes"
)

// Event is a closed set of tagged variants. Exactly one of the pointer
// fields is non-nil; callers switch on Kind rather than type-asserting.
type Kind int

const (
	KindBundleProcessed Kind = iota
	KindTransactionProcessed
	KindTransactionExpired
	KindQueueFull
	KindWorkerError
	KindBridgeCompleted
	KindBridgeFailed
	KindBridgeRetrying
	KindBridgeTimedOut
	KindBridgeCancelled
	KindBridgeRetried
	KindCircuitBreakerOpen
	KindCircuitBreakerHalfOpen
	KindCircuitBreakerClosed
	KindStats
)

func (k Kind) String() string {
	switch k {
	case KindBundleProcessed:
		return "bundleProcessed"
	case KindTransactionProcessed:
		return "transactionProcessed"
	case KindTransactionExpired:
		return "transactionExpired"
	case KindQueueFull:
		return "queueFull"
	case KindWorkerError:
		return "workerError"
	case KindBridgeCompleted:
		return "transactionCompleted"
	case KindBridgeFailed:
		return "transactionFailed"
	case KindBridgeRetrying:
		return "transactionRetrying"
	case KindBridgeTimedOut:
		return "transactionTimedOut"
	case KindBridgeCancelled:
		return "transactionCancelled"
	case KindBridgeRetried:
		return "transactionRetried"
	case KindCircuitBreakerOpen:
		return "circuitBreakerOpen"
	case KindCircuitBreakerHalfOpen:
		return "circuitBreakerHalfOpen"
	case KindCircuitBreakerClosed:
		return "circuitBreakerClosed"
	case KindStats:
		return "stats"
	default:
		return "unknown"
	}
}

// BundleProcessed fires once a bundle reaches a terminal state.
type BundleProcessed struct {
	BundleID   seqtypes.BundleID
	Success    bool
	TxCount    int
	FailCount  int
	DurationMs int64
}

// TransactionProcessed fires for each transaction a bundle worker finishes
// handling, independent of the bundle's own outcome.
type TransactionProcessed struct {
	TxID       seqtypes.TxID
	Type       seqtypes.TxType
	Success    bool
	Hash       string // optional, empty if unset
	Error      string // optional, empty if unset
	DurationMs int64
}

// TransactionExpired fires when a queued transaction ages out before being
// picked up for processing.
type TransactionExpired struct {
	TxID   seqtypes.TxID
	Type   seqtypes.TxType
	WaitMs int64
}

// QueueFull fires when a submission is rejected because its type queue is at
// capacity.
type QueueFull struct {
	TxID seqtypes.TxID
	Type seqtypes.TxType
}

// WorkerError fires when a bundle or optimizer worker dies or returns an
// error while a unit of work was in flight.
type WorkerError struct {
	Type     string
	WorkerID int
	Error    string
}

// BridgeTransition fires on every bridge-transaction state-machine edge worth
// surfacing: Completed, Failed, Retrying, TimedOut, Cancelled, Retried.
type BridgeTransition struct {
	BridgeTxID seqtypes.BridgeTxID
	Type       seqtypes.BridgeTxType
	From       seqtypes.BridgeStatus
	To         seqtypes.BridgeStatus
	Attempt    int
	Error      string // optional, empty if unset
}

// CircuitBreakerTransition fires when a bridge's circuit breaker changes
// state.
type CircuitBreakerTransition struct {
	Bridge string
	State  string // "open", "half_open", "closed"
}

// Stats is a periodic snapshot published on the same sink as discrete
// events, so subscribers can watch aggregate health without polling a
// separate status endpoint.
type Stats struct {
	Source string
	Data   map[string]interface{}
}

// Event wraps exactly one variant plus its Kind and emission time. Producers
// use the New* constructors; consumers switch on Kind.
type Event struct {
	Kind Kind
	At   time.Time

	BundleProcessed          *BundleProcessed
	TransactionProcessed     *TransactionProcessed
	TransactionExpired       *TransactionExpired
	QueueFull                *QueueFull
	WorkerError              *WorkerError
	BridgeTransition         *BridgeTransition
	CircuitBreakerTransition *CircuitBreakerTransition
	Stats                    *Stats
}

func NewBundleProcessed(at time.Time, v BundleProcessed) Event {
	return Event{Kind: KindBundleProcessed, At: at, BundleProcessed: &v}
}

func NewTransactionProcessed(at time.Time, v TransactionProcessed) Event {
	return Event{Kind: KindTransactionProcessed, At: at, TransactionProcessed: &v}
}

func NewTransactionExpired(at time.Time, v TransactionExpired) Event {
	return Event{Kind: KindTransactionExpired, At: at, TransactionExpired: &v}
}

func NewQueueFull(at time.Time, v QueueFull) Event {
	return Event{Kind: KindQueueFull, At: at, QueueFull: &v}
}

func NewWorkerError(at time.Time, v WorkerError) Event {
	return Event{Kind: KindWorkerError, At: at, WorkerError: &v}
}

// bridgeKindFor maps a bridge status transition's destination to its event
// Kind, per the "transactionCompleted/Failed/Retrying/TimedOut/Cancelled/
// Retried" list.
func bridgeKindFor(to seqtypes.BridgeStatus, isRetry bool) Kind {
	if isRetry {
		return KindBridgeRetried
	}
	switch to {
	case seqtypes.BridgeCompleted:
		return KindBridgeCompleted
	case seqtypes.BridgeFailed:
		return KindBridgeFailed
	case seqtypes.BridgeRetrying:
		return KindBridgeRetrying
	case seqtypes.BridgeTimedOut:
		return KindBridgeTimedOut
	case seqtypes.BridgeCancelled:
		return KindBridgeCancelled
	default:
		return KindBridgeRetrying
	}
}

func NewBridgeTransition(at time.Time, v BridgeTransition, isRetry bool) Event {
	return Event{Kind: bridgeKindFor(v.To, isRetry), At: at, BridgeTransition: &v}
}

func NewCircuitBreakerTransition(at time.Time, v CircuitBreakerTransition) Event {
	var k Kind
	switch v.State {
	case "open":
		k = KindCircuitBreakerOpen
	case "half_open":
		k = KindCircuitBreakerHalfOpen
	default:
		k = KindCircuitBreakerClosed
	}
	return Event{Kind: k, At: at, CircuitBreakerTransition: &v}
}

func NewStats(at time.Time, v Stats) Event {
	return Event{Kind: KindStats, At: at, Stats: &v}
}
