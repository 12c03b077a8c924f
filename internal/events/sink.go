// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package events

import "github.com/ethereum/go-ethereum/log"

// Sink receives published events. Engines hold a Sink, never a concrete
// type, so tests can substitute a recording sink and production can wire a
// channel or an observer without either side knowing about the other.
type Sink interface {
	Publish(Event)
}

// ChannelSink publishes onto a buffered channel. If the channel is full,
// events are dropped rather than blocking the publishing engine; Dropped
// counts how many.
type ChannelSink struct {
	C       chan Event
	Dropped *int64
}

// NewChannelSink returns a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	var dropped int64
	return &ChannelSink{C: make(chan Event, buffer), Dropped: &dropped}
}

func (s *ChannelSink) Publish(e Event) {
	select {
	case s.C <- e:
	default:
		*s.Dropped++
	}
}

// Observer receives events through typed callbacks instead of a channel,
// for callers that want the old on_bundle_processed/on_worker_error style
// without reintroducing emitter inheritance.
type Observer struct {
	OnBundleProcessed          func(BundleProcessed)
	OnTransactionProcessed     func(TransactionProcessed)
	OnTransactionExpired       func(TransactionExpired)
	OnQueueFull                func(QueueFull)
	OnWorkerError              func(WorkerError)
	OnBridgeTransition         func(Kind, BridgeTransition)
	OnCircuitBreakerTransition func(CircuitBreakerTransition)
	OnStats                    func(Stats)
}

// ObserverSink adapts an Observer to the Sink interface, invoking whichever
// callback matches the event's Kind and silently skipping unset callbacks.
type ObserverSink struct {
	Observer Observer
}

func NewObserverSink(o Observer) *ObserverSink {
	return &ObserverSink{Observer: o}
}

func (s *ObserverSink) Publish(e Event) {
	o := s.Observer
	switch e.Kind {
	case KindBundleProcessed:
		if o.OnBundleProcessed != nil && e.BundleProcessed != nil {
			o.OnBundleProcessed(*e.BundleProcessed)
		}
	case KindTransactionProcessed:
		if o.OnTransactionProcessed != nil && e.TransactionProcessed != nil {
			o.OnTransactionProcessed(*e.TransactionProcessed)
		}
	case KindTransactionExpired:
		if o.OnTransactionExpired != nil && e.TransactionExpired != nil {
			o.OnTransactionExpired(*e.TransactionExpired)
		}
	case KindQueueFull:
		if o.OnQueueFull != nil && e.QueueFull != nil {
			o.OnQueueFull(*e.QueueFull)
		}
	case KindWorkerError:
		if o.OnWorkerError != nil && e.WorkerError != nil {
			o.OnWorkerError(*e.WorkerError)
		}
	case KindBridgeCompleted, KindBridgeFailed, KindBridgeRetrying, KindBridgeTimedOut, KindBridgeCancelled, KindBridgeRetried:
		if o.OnBridgeTransition != nil && e.BridgeTransition != nil {
			o.OnBridgeTransition(e.Kind, *e.BridgeTransition)
		}
	case KindCircuitBreakerOpen, KindCircuitBreakerHalfOpen, KindCircuitBreakerClosed:
		if o.OnCircuitBreakerTransition != nil && e.CircuitBreakerTransition != nil {
			o.OnCircuitBreakerTransition(*e.CircuitBreakerTransition)
		}
	case KindStats:
		if o.OnStats != nil && e.Stats != nil {
			o.OnStats(*e.Stats)
		}
	}
}

// LogSink publishes every event through structured logging. Useful as a
// default sink for cmd/sequencer when no richer subscriber is wired up.
type LogSink struct{}

func (LogSink) Publish(e Event) {
	switch e.Kind {
	case KindWorkerError:
		log.Error("worker error", "type", e.WorkerError.Type, "workerId", e.WorkerError.WorkerID, "err", e.WorkerError.Error)
	case KindTransactionExpired:
		log.Warn("transaction expired", "id", e.TransactionExpired.TxID, "type", e.TransactionExpired.Type, "waitMs", e.TransactionExpired.WaitMs)
	case KindQueueFull:
		log.Warn("queue full", "id", e.QueueFull.TxID, "type", e.QueueFull.Type)
	case KindCircuitBreakerOpen, KindCircuitBreakerHalfOpen, KindCircuitBreakerClosed:
		log.Info("circuit breaker transition", "bridge", e.CircuitBreakerTransition.Bridge, "state", e.CircuitBreakerTransition.State)
	default:
		log.Debug("event", "kind", e.Kind.String())
	}
}

// NopSink discards every event. Used by tests and components that have not
// been wired to a real sink yet.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// MultiSink fans a published event out to every sink in the list.
type MultiSink struct {
	Sinks []Sink
}

func (s MultiSink) Publish(e Event) {
	for _, sink := range s.Sinks {
		sink.Publish(e)
	}
}
