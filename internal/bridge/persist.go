// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bridge

import (
	"encoding/json"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/log"

	"github.com/l2seq/sequencer/internal/seqtypes"
)

// bridgeKeyPrefix namespaces bridge transaction records within a badger
// database shared with the State Commitment Manager's own blockNumber-keyed
// log, so both can live in one store without key collisions.
const bridgeKeyPrefix = "bridgetx:"

func bridgeStoreKey(id seqtypes.BridgeTxID) []byte {
	return []byte(bridgeKeyPrefix + string(id))
}

// AttachStore enables durable persistence: every subsequent state
// transition is mirrored to db, and a call to Start reloads every
// non-terminal transaction found under the bridge key prefix before the
// tick loop begins, so an in-flight bridge transaction survives a process
// restart.
func (e *Engine) AttachStore(db *badger.DB) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store = db
}

// loadFromStoreLocked repopulates the arena from the backing store. Caller
// holds mu.
func (e *Engine) loadFromStoreLocked() error {
	if e.store == nil {
		return nil
	}
	prefix := []byte(bridgeKeyPrefix)
	return e.store.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var tx seqtypes.BridgeTransaction
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &tx)
			})
			if err != nil {
				return err
			}
			txCopy := tx
			e.arena.insert(&txCopy)
		}
		return nil
	})
}

// persistLocked mirrors tx's current state to the backing store. Failures
// are logged, never fatal: the in-memory arena remains authoritative for a
// running process, the same non-fatal-mirror treatment the State
// Commitment Manager gives its own S3 archival writes.
func (e *Engine) persistLocked(tx *seqtypes.BridgeTransaction) {
	if e.store == nil {
		return
	}
	body, err := json.Marshal(tx)
	if err != nil {
		log.Error("bridge: failed to encode transaction for persistence", "id", string(tx.ID), "err", err)
		return
	}
	err = e.store.Update(func(txn *badger.Txn) error {
		return txn.Set(bridgeStoreKey(tx.ID), body)
	})
	if err != nil {
		log.Error("bridge: failed to persist transaction", "id", string(tx.ID), "err", err)
	}
}
