// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package seqtypes

import "time"

// BundleStatus is a Bundle's lifecycle state, following the bundle engine's
// state diagram.
type BundleStatus int

const (
	BundlePending BundleStatus = iota
	BundleQueued
	BundleProcessing
	BundleCompleted
	BundleFailed
	BundleExpired
	BundleAborted
)

func (s BundleStatus) String() string {
	switch s {
	case BundlePending:
		return "pending"
	case BundleQueued:
		return "queued"
	case BundleProcessing:
		return "processing"
	case BundleCompleted:
		return "completed"
	case BundleFailed:
		return "failed"
	case BundleExpired:
		return "expired"
	case BundleAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of the four terminal states a bundle
// can never leave once reached.
func (s BundleStatus) Terminal() bool {
	switch s {
	case BundleCompleted, BundleFailed, BundleExpired, BundleAborted:
		return true
	default:
		return false
	}
}

// Bundle is an ordered group of transactions dispatched and judged
// atomically as a unit of work.
type Bundle struct {
	ID              BundleID
	Transactions    []*Tx
	CreatedAt       time.Time
	ExpiresAt       time.Time
	TotalGas        uint64
	Taxes           TaxAmount
	Status          BundleStatus
	WorkerID        int
	HasWorker       bool
	Score           float64
	PriorityFee     *uint64
	TypesPresent    map[TxType]struct{}
}

// NewBundle opens a fresh Pending bundle expiring at now+timeout.
func NewBundle(id BundleID, now time.Time, timeout time.Duration) *Bundle {
	return &Bundle{
		ID:           id,
		Transactions: nil,
		CreatedAt:    now,
		ExpiresAt:    now.Add(timeout),
		Taxes:        ZeroTaxAmount(),
		Status:       BundlePending,
		TypesPresent: make(map[TxType]struct{}),
	}
}

// RecomputeTotalGas recomputes TotalGas from the transaction list. Callers
// mutate Transactions/TotalGas together; this exists mainly for tests and
// invariant checks.
func (b *Bundle) RecomputeTotalGas() uint64 {
	var total uint64
	for _, tx := range b.Transactions {
		total += tx.GasLimit
	}
	return total
}

// Len returns the number of transactions currently in the bundle.
func (b *Bundle) Len() int {
	return len(b.Transactions)
}
