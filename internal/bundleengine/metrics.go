// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bundleengine

import (
	"sync/atomic"
	"time"
)

// counters holds every running total get_performance_metrics reports. Plain
// sync/atomic fields: the codebase this module is built from carries no
// metrics-client dependency, so counters stay on the standard library (see
// DESIGN.md).
type counters struct {
	bundlesCompleted int64
	bundlesFailed    int64
	bundlesExpired   int64
	bundlesAborted   int64
	txsConfirmed     int64
	txsFailed        int64
	txsRetried       int64

	recentTxCount atomic.Int64 // confirmed total as of the last rollingTPS read
	recentAt      atomic.Int64 // unix nanos of the last rollingTPS read
}

func newCounters() *counters {
	c := &counters{}
	c.recentAt.Store(0)
	return c
}

// PerTypeStat is one transaction type's running totals.
type PerTypeStat struct {
	Confirmed int64
	Failed    int64
}

// PerformanceMetrics is the snapshot get_performance_metrics returns.
type PerformanceMetrics struct {
	BundlesCompleted int64
	BundlesFailed    int64
	BundlesExpired   int64
	BundlesAborted   int64
	TxsConfirmed     int64
	TxsFailed        int64
	TxsRetried       int64
	RollingTPS       float64
	PerType          map[string]PerTypeStat
	BundleSizeMultiplier float64
	GasLimitMultiplier   float64
	EffectiveMaxSize     int
	EffectiveMaxGas      uint64
	QueueDepth           int
	ProcessingCount      int
}

func (c *counters) addCompleted(n int64) { atomic.AddInt64(&c.bundlesCompleted, n) }
func (c *counters) addFailed(n int64)    { atomic.AddInt64(&c.bundlesFailed, n) }
func (c *counters) addExpired(n int64)   { atomic.AddInt64(&c.bundlesExpired, n) }
func (c *counters) addAborted(n int64)   { atomic.AddInt64(&c.bundlesAborted, n) }
func (c *counters) addConfirmed(n int64) { atomic.AddInt64(&c.txsConfirmed, n) }
func (c *counters) addTxFailed(n int64)  { atomic.AddInt64(&c.txsFailed, n) }
func (c *counters) addRetried(n int64)   { atomic.AddInt64(&c.txsRetried, n) }

// rollingTPS returns transactions confirmed per second since the window
// opened, resetting the window every time it is read, matching the "current
// rolling TPS" snapshot semantics — approximate, never used for control
// decisions.
func (c *counters) rollingTPS(now time.Time, txCount int64) float64 {
	lastNanos := c.recentAt.Swap(now.UnixNano())
	prevTotal := c.recentTxCount.Swap(txCount)
	if lastNanos == 0 {
		return 0
	}
	elapsed := now.Sub(time.Unix(0, lastNanos)).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(txCount-prevTotal) / elapsed
}
