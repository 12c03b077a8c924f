// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package state

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v3"
	lru "github.com/hashicorp/golang-lru"
	"github.com/ethereum/go-ethereum/log"
	pkgerrors "github.com/pkg/errors"

	"github.com/l2seq/sequencer/internal/clock"
	"github.com/l2seq/sequencer/internal/seqtypes"
)

// ErrEmptyLog is returned by Latest when no state root has ever been
// submitted.
var ErrEmptyLog = errors.New("state: log is empty")

// ErrDuplicateBlockNumber is returned by SubmitStateRoot when blockNumber
// already has an entry.
var ErrDuplicateBlockNumber = errors.New("state: duplicate block number")

const cachePointLookupSize = 4096

// Archiver optionally mirrors every submitted state root to a secondary,
// non-authoritative store. Mirror failures are logged, never fatal: the
// badger-backed log remains the single source of truth. Fetch is consulted
// only as a last resort when the local badger log misses a lookup.
type Archiver interface {
	Archive(ctx context.Context, root seqtypes.StateRoot) error
	Fetch(ctx context.Context, blockNumber uint64) (seqtypes.StateRoot, error)
}

// Manager is the State Commitment Manager: a durable, strictly
// blockNumber-ordered append-only log with point lookup.
type Manager struct {
	db       *badger.DB
	cache    *lru.Cache
	archiver Archiver
	clk      clock.Clock

	mu     sync.RWMutex
	latest *seqtypes.StateRoot

	entryCount atomic.Int64
}

// New constructs a Manager backed by an already-open badger database.
// archiver may be nil to disable archival mirroring.
func New(db *badger.DB, archiver Archiver, clk clock.Clock) (*Manager, error) {
	cache, err := lru.New(cachePointLookupSize)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "creating state root cache")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{db: db, cache: cache, archiver: archiver, clk: clk}, nil
}

// Initialize loads existing entries from the backing store, establishing
// Latest(). rootIdentity is accepted for interface symmetry with deployments
// that bind to a named ledger/namespace; this implementation uses a single
// badger database per Manager and ignores it beyond logging. Keys that are
// not 8-byte block numbers (such as bridge records sharing the store) are
// skipped.
func (m *Manager) Initialize(rootIdentity string) error {
	log.Info("state manager initializing", "rootIdentity", rootIdentity)

	var last *seqtypes.StateRoot
	var count int64
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if len(item.Key()) != 8 {
				continue // not a block-number key (e.g. a bridge record)
			}
			var root seqtypes.StateRoot
			err := item.Value(func(val []byte) error {
				r, decodeErr := decodeTriple(val)
				if decodeErr != nil {
					return decodeErr
				}
				root = r
				return nil
			})
			if err != nil {
				return err
			}
			if root.IsZero() {
				continue
			}
			rCopy := root
			last = &rCopy
			count++
		}
		return nil
	})
	if err != nil {
		return pkgerrors.Wrap(err, "loading state root log")
	}

	m.mu.Lock()
	m.latest = last
	m.mu.Unlock()
	m.entryCount.Store(count)
	return nil
}

func decodeTriple(val []byte) (seqtypes.StateRoot, error) {
	var out seqtypes.StateRoot
	if len(val) != tripleSize {
		return out, ErrTruncated
	}
	copy(out.Root[:], val[0:32])
	out.BlockNumber = beUint64(val[32:40])
	out.Timestamp = beUint64(val[40:48])
	return out, nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// SubmitStateRoot appends a new entry, rejecting a duplicate blockNumber.
// The entry is persisted before this call returns.
func (m *Manager) SubmitStateRoot(ctx context.Context, root [32]byte, blockNumber uint64) (string, error) {
	key := blockNumberKey(blockNumber)

	err := m.db.Update(func(txn *badger.Txn) error {
		_, getErr := txn.Get(key)
		if getErr == nil {
			return ErrDuplicateBlockNumber
		}
		if !errors.Is(getErr, badger.ErrKeyNotFound) {
			return getErr
		}
		entry := seqtypes.StateRoot{Root: root, BlockNumber: blockNumber, Timestamp: uint64(m.clk.Now().Unix())}
		return txn.Set(key, serializeTriple(entry))
	})
	if err != nil {
		return "", err
	}

	entry := seqtypes.StateRoot{Root: root, BlockNumber: blockNumber, Timestamp: uint64(m.clk.Now().Unix())}

	m.mu.Lock()
	if m.latest == nil || entry.BlockNumber > m.latest.BlockNumber {
		m.latest = &entry
	}
	m.mu.Unlock()

	m.cache.Add(blockNumber, entry)
	m.entryCount.Add(1)

	if m.archiver != nil {
		if archErr := m.archiver.Archive(ctx, entry); archErr != nil {
			log.Error("state root archival mirror failed", "blockNumber", blockNumber, "err", archErr)
		}
	}

	return handleFor(blockNumber), nil
}

func handleFor(blockNumber uint64) string {
	return "stateroot:" + itoa(blockNumber)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Latest returns the highest-blockNumber entry, or ErrEmptyLog if none
// exist.
func (m *Manager) Latest() (seqtypes.StateRoot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return seqtypes.StateRoot{}, ErrEmptyLog
	}
	return *m.latest, nil
}

// ByBlockNumber returns the entry for n, checking the point-lookup cache,
// then the durable badger log, and — only if both miss and an archiver is
// configured — the archival mirror, for the rare case a local replica's
// badger log never held (or has since lost) an entry the mirror still has.
func (m *Manager) ByBlockNumber(n uint64) (seqtypes.StateRoot, bool) {
	if v, ok := m.cache.Get(n); ok {
		return v.(seqtypes.StateRoot), true
	}

	var out seqtypes.StateRoot
	found := false
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockNumberKey(n))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			root, decodeErr := decodeTriple(val)
			if decodeErr != nil {
				return decodeErr
			}
			if root.IsZero() {
				return nil
			}
			out = root
			found = true
			return nil
		})
	})
	if err != nil {
		log.Error("state root point lookup failed", "blockNumber", n, "err", err)
		return seqtypes.StateRoot{}, false
	}
	if found {
		m.cache.Add(n, out)
		return out, true
	}

	if m.archiver == nil {
		return seqtypes.StateRoot{}, false
	}
	root, fetchErr := m.archiver.Fetch(context.Background(), n)
	if fetchErr != nil {
		log.Error("state root archival fallback lookup failed", "blockNumber", n, "err", fetchErr)
		return seqtypes.StateRoot{}, false
	}
	if root.IsZero() {
		return seqtypes.StateRoot{}, false
	}
	m.cache.Add(n, root)
	return root, true
}

// GenerateStateRoot is the Manager-bound entry point to the canonical hash
// function; see GenerateStateRoot (package-level) for the algorithm.
func (m *Manager) GenerateStateRoot(serializedTxs [][]byte) [32]byte {
	return GenerateStateRoot(serializedTxs)
}

// Metrics is the snapshot reported to the status server.
type Metrics struct {
	EntryCount       int64
	LatestBlockNumber uint64
	HasLatest        bool
}

// Metrics returns the current entry count and latest block number.
func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := Metrics{EntryCount: m.entryCount.Load()}
	if m.latest != nil {
		out.HasLatest = true
		out.LatestBlockNumber = m.latest.BlockNumber
	}
	return out
}
