// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package seqtypes

// StateRoot summarizes the L2 state at a given block number. Root is a
// 32-byte hash; BlockNumber increases monotonically and is unique across the
// log.
type StateRoot struct {
	Root        [32]byte
	BlockNumber uint64
	Timestamp   uint64
}

// IsZero reports whether this entry is a zero-root placeholder that readers
// must tolerate and skip rather than treat as a real log entry.
func (r StateRoot) IsZero() bool {
	return r.Root == [32]byte{} && r.BlockNumber == 0 && r.Timestamp == 0
}
