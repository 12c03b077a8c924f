// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bridge

import (
	"sync"
	"time"
)

// breakerState is one of the three circuit-breaker states.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// circuitBreaker is a hand-rolled three-state breaker over a rolling error
// window: no circuit-breaker library appears anywhere in the retrieved
// pack, so this tracks error timestamps directly in a plain slice rather
// than through a metrics client.
type circuitBreaker struct {
	mu          sync.Mutex
	state       breakerState
	errorWindow []time.Time
	openedAt    time.Time

	windowMs  int
	threshold int
	resetMs   int
}

func newCircuitBreaker(cfg Config) *circuitBreaker {
	return &circuitBreaker{
		state:     breakerClosed,
		windowMs:  cfg.CircuitBreakerWindowMs,
		threshold: cfg.CircuitBreakerErrorThreshold,
		resetMs:   cfg.CircuitBreakerResetMs,
	}
}

func (cb *circuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Duration(cb.windowMs) * time.Millisecond)
	i := 0
	for i < len(cb.errorWindow) && cb.errorWindow[i].Before(cutoff) {
		i++
	}
	cb.errorWindow = cb.errorWindow[i:]
}

// allowsExecute reports whether new Pending/Retrying work may be dispatched.
// Transitions driven by tick (timeouts, HalfOpen observation) are never
// suppressed by this check.
func (cb *circuitBreaker) allowsExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state != breakerOpen
}

func (cb *circuitBreaker) currentState() breakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// recordError registers one error observation and reports whether this call
// caused a transition into Open (Closed->Open on crossing the threshold, or
// HalfOpen->Open on any new error while half-open).
func (cb *circuitBreaker) recordError(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.errorWindow = append(cb.errorWindow, now)
	cb.pruneLocked(now)

	switch cb.state {
	case breakerHalfOpen:
		cb.state = breakerOpen
		cb.openedAt = now
		return true
	case breakerClosed:
		if len(cb.errorWindow) >= cb.threshold {
			cb.state = breakerOpen
			cb.openedAt = now
			return true
		}
	}
	return false
}

// tick advances Open->HalfOpen after resetMs, and HalfOpen->Closed once a
// monitoring tick observes zero recent errors. Returns the new state and
// whether a transition happened this call.
func (cb *circuitBreaker) tick(now time.Time) (breakerState, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerOpen:
		if now.Sub(cb.openedAt) >= time.Duration(cb.resetMs)*time.Millisecond {
			cb.state = breakerHalfOpen
			cb.errorWindow = nil
			return cb.state, true
		}
	case breakerHalfOpen:
		cb.pruneLocked(now)
		if len(cb.errorWindow) == 0 {
			cb.state = breakerClosed
			return cb.state, true
		}
	}
	return cb.state, false
}
