// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bridge

import (
	"sync"

	"github.com/l2seq/sequencer/internal/seqtypes"
)

// arena stores every BridgeTransaction the engine has ever created in a flat
// slice plus an id→index map, the same arena-plus-index shape used by the
// bundle engine: entries are never removed, so indices stay stable and there
// is no pointer aliasing between the index and concurrent readers.
type arena struct {
	mu   sync.RWMutex
	txs  []*seqtypes.BridgeTransaction
	byID map[seqtypes.BridgeTxID]int
}

func newArena() *arena {
	return &arena{byID: make(map[seqtypes.BridgeTxID]int)}
}

func (a *arena) insert(tx *seqtypes.BridgeTransaction) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := len(a.txs)
	a.txs = append(a.txs, tx)
	a.byID[tx.ID] = idx
	return idx
}

func (a *arena) get(id seqtypes.BridgeTxID) *seqtypes.BridgeTransaction {
	a.mu.RLock()
	defer a.mu.RUnlock()
	idx, ok := a.byID[id]
	if !ok {
		return nil
	}
	return a.txs[idx]
}

func (a *arena) snapshot() []*seqtypes.BridgeTransaction {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*seqtypes.BridgeTransaction, len(a.txs))
	copy(out, a.txs)
	return out
}
