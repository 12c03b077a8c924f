// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package seqtypes

import (
	"time"

	"github.com/holiman/uint256"
)

// BridgeTxType is the closed set of bridge operations.
type BridgeTxType int

const (
	BridgeDeposit BridgeTxType = iota
	BridgeWithdrawal
	BridgeTransfer
	BridgeOther
)

func (t BridgeTxType) String() string {
	switch t {
	case BridgeDeposit:
		return "deposit"
	case BridgeWithdrawal:
		return "withdrawal"
	case BridgeTransfer:
		return "transfer"
	case BridgeOther:
		return "other"
	default:
		return "unknown"
	}
}

// BridgeStatus is a BridgeTransaction's lifecycle state, per the bridge
// engine's state machine.
type BridgeStatus int

const (
	BridgePending BridgeStatus = iota
	BridgeInProgress
	BridgeRetrying
	BridgeCompleted
	BridgeFailed
	BridgeTimedOut
	BridgeCancelled
)

func (s BridgeStatus) String() string {
	switch s {
	case BridgePending:
		return "pending"
	case BridgeInProgress:
		return "in_progress"
	case BridgeRetrying:
		return "retrying"
	case BridgeCompleted:
		return "completed"
	case BridgeFailed:
		return "failed"
	case BridgeTimedOut:
		return "timed_out"
	case BridgeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of the terminal bridge states.
func (s BridgeStatus) Terminal() bool {
	switch s {
	case BridgeCompleted, BridgeFailed, BridgeTimedOut, BridgeCancelled:
		return true
	default:
		return false
	}
}

// ChainEndpoint names a chain and an address on it; used for both the
// source and destination sides of a bridge transaction.
type ChainEndpoint struct {
	Chain   string
	Address string
}

// BridgeError is one entry in a BridgeTransaction's ordered error history.
type BridgeError struct {
	Timestamp time.Time
	Message   string
	Code      string // optional, empty if unset
	Details   string // optional, empty if unset
}

// BridgeTransaction is a single in-flight bridge operation, owned
// exclusively by the Bridge Reliability Engine for its lifetime.
type BridgeTransaction struct {
	ID              BridgeTxID
	Type            BridgeTxType
	Status          BridgeStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     time.Time
	HasCompletedAt  bool
	Source          ChainEndpoint
	Destination     ChainEndpoint
	Token           string
	Amount          *uint256.Int
	Attempts        int
	Errors          []BridgeError
	SourceHash      string
	DestinationHash string
}
