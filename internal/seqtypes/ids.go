// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package seqtypes holds the data model shared by the bundle engine, the
// mixed-transaction optimizer, the state commitment manager, and the bridge
// reliability engine: transactions, bundles, tax amounts, state roots, and
// bridge transactions.
package seqtypes

import (
	"github.com/google/uuid"
)

// BundleID uniquely identifies a Bundle for its entire lifetime.
type BundleID string

// TxID uniquely identifies a Tx for its entire lifetime.
type TxID string

// BridgeTxID uniquely identifies a BridgeTransaction for its entire lifetime.
type BridgeTxID string

// NewBundleID mints a fresh, random bundle identifier.
func NewBundleID() BundleID {
	return BundleID(uuid.New().String())
}

// NewTxID mints a fresh, random transaction identifier.
func NewTxID() TxID {
	return TxID(uuid.New().String())
}

// NewBridgeTxID mints a fresh, random bridge-transaction identifier.
func NewBridgeTxID() BridgeTxID {
	return BridgeTxID(uuid.New().String())
}
