// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package seqtypes

import (
	"github.com/holiman/uint256"
)

// TxType is the closed set of transaction kinds the sequencer recognizes.
type TxType int

const (
	TxBuy TxType = iota
	TxSell
	TxTransfer
	TxSwap
	TxDeposit
	TxWithdraw
	TxOther
)

func (t TxType) String() string {
	switch t {
	case TxBuy:
		return "buy"
	case TxSell:
		return "sell"
	case TxTransfer:
		return "transfer"
	case TxSwap:
		return "swap"
	case TxDeposit:
		return "deposit"
	case TxWithdraw:
		return "withdraw"
	case TxOther:
		return "other"
	default:
		return "unknown"
	}
}

// SupportedTxTypes is the full closed enum, in a stable order.
func SupportedTxTypes() []TxType {
	return []TxType{TxBuy, TxSell, TxTransfer, TxSwap, TxDeposit, TxWithdraw, TxOther}
}

// TxStatus is a Tx's lifecycle state.
type TxStatus int

const (
	TxPending TxStatus = iota
	TxProcessing
	TxConfirmed
	TxFailed
	TxRetry
)

func (s TxStatus) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxProcessing:
		return "processing"
	case TxConfirmed:
		return "confirmed"
	case TxFailed:
		return "failed"
	case TxRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Tx is a single typed transaction submitted by a client. The payload is an
// opaque byte blob the core never interprets; it is only ever handed to a
// worker.
type Tx struct {
	ID         TxID
	Sender     string
	Recipient  string
	Value      *uint256.Int
	Payload    []byte
	GasLimit   uint64
	GasPrice   *uint256.Int // optional; nil means unset
	Type       TxType
	Priority   float64
	RetryCount int
	Status     TxStatus
	Hash       string // set once Confirmed
}

// Clone returns a deep-enough copy of tx suitable for handing to a worker
// without sharing mutable state back with the caller. The payload slice and
// big integers are treated as immutable once set, so they are shared, not
// copied, matching the "opaque Bytes" ownership rule in the design notes.
func (tx *Tx) Clone() *Tx {
	clone := *tx
	return &clone
}
