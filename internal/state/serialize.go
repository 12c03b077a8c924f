// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package state implements the State Commitment Manager: an append-only log
// of state roots ordered by block number, with point lookup and canonical
// hash generation.
package state

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"github.com/l2seq/sequencer/internal/seqtypes"
)

// tripleSize is the on-disk/on-wire size of one (root, blockNumber,
// timestamp) entry: 32 + 8 + 8 bytes, tightly packed.
const tripleSize = 32 + 8 + 8

// ErrTruncated is returned when a reader runs out of bytes mid-entry.
var ErrTruncated = errors.New("state: truncated triple")

// serializeTriple packs one StateRoot into its tightly-packed wire form.
func serializeTriple(r seqtypes.StateRoot) []byte {
	buf := make([]byte, tripleSize)
	copy(buf[0:32], r.Root[:])
	binary.BigEndian.PutUint64(buf[32:40], r.BlockNumber)
	binary.BigEndian.PutUint64(buf[40:48], r.Timestamp)
	return buf
}

// deserializeTripleFrom reads one triple from rd, tolerating and skipping
// zero-root entries by returning them as-is; callers that must skip
// zero-root placeholders check StateRoot.IsZero() themselves.
func deserializeTripleFrom(rd io.Reader) (seqtypes.StateRoot, error) {
	r := bufio.NewReader(rd)
	var out seqtypes.StateRoot

	if _, err := io.ReadFull(r, out.Root[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return out, io.EOF
		}
		return out, ErrTruncated
	}
	var blockBuf, tsBuf [8]byte
	if _, err := io.ReadFull(r, blockBuf[:]); err != nil {
		return out, ErrTruncated
	}
	if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
		return out, ErrTruncated
	}
	out.BlockNumber = binary.BigEndian.Uint64(blockBuf[:])
	out.Timestamp = binary.BigEndian.Uint64(tsBuf[:])
	return out, nil
}

// blockNumberKey renders blockNumber as a big-endian 8-byte key, so a
// range-ordered key-value store iterates entries in blockNumber order
// without a secondary index.
func blockNumberKey(blockNumber uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, blockNumber)
	return key
}

// GenerateStateRoot computes the canonical hash used to derive a block's
// root before submission: SHA-256 of a length-prefixed concatenation of the
// given serialized transaction byte strings. Deterministic: identical input
// always yields identical output.
func GenerateStateRoot(serializedTxs [][]byte) [32]byte {
	var buf bytes.Buffer
	for _, tx := range serializedTxs {
		var lenPrefix [8]byte
		binary.BigEndian.PutUint64(lenPrefix[:], uint64(len(tx)))
		buf.Write(lenPrefix[:])
		buf.Write(tx)
	}
	return sha256.Sum256(buf.Bytes())
}
