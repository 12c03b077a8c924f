// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l2seq/sequencer/internal/clock"
	"github.com/l2seq/sequencer/internal/seqtypes"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := OpenBadger(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	mc := clock.NewManual(time.Unix(1_700_000_000, 0))
	m, err := New(db, nil, mc)
	require.NoError(t, err)
	require.NoError(t, m.Initialize("test-root"))
	return m
}

func root(b byte) [32]byte {
	var r [32]byte
	r[0] = b
	return r
}

func TestLatestEmptyLogErrors(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Latest()
	require.ErrorIs(t, err, ErrEmptyLog)
}

func TestSubmitThenByBlockNumberRoundTrips(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	r1 := root(1)
	_, err := m.SubmitStateRoot(ctx, r1, 5)
	require.NoError(t, err)

	got, ok := m.ByBlockNumber(5)
	require.True(t, ok)
	require.Equal(t, r1, got.Root)
	require.Equal(t, uint64(5), got.BlockNumber)
}

func TestSubmitRejectsDuplicateBlockNumber(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.SubmitStateRoot(ctx, root(1), 5)
	require.NoError(t, err)

	_, err = m.SubmitStateRoot(ctx, root(2), 5)
	require.ErrorIs(t, err, ErrDuplicateBlockNumber)
}

func TestStateLogOrderingAndLatest(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.SubmitStateRoot(ctx, root(1), 5)
	require.NoError(t, err)
	r2 := root(2)
	_, err = m.SubmitStateRoot(ctx, r2, 7)
	require.NoError(t, err)
	_, err = m.SubmitStateRoot(ctx, root(3), 6)
	require.NoError(t, err)

	latest, err := m.Latest()
	require.NoError(t, err)
	require.Equal(t, uint64(7), latest.BlockNumber)
	require.Equal(t, r2, latest.Root)

	for _, n := range []uint64{5, 6, 7} {
		entry, ok := m.ByBlockNumber(n)
		require.True(t, ok)
		require.Equal(t, n, entry.BlockNumber)
	}
}

func TestGenerateStateRootDeterministic(t *testing.T) {
	m := newTestManager(t)
	txs := [][]byte{[]byte("tx-a"), []byte("tx-b")}
	h1 := m.GenerateStateRoot(txs)
	h2 := m.GenerateStateRoot(txs)
	require.Equal(t, h1, h2)

	h3 := m.GenerateStateRoot([][]byte{[]byte("tx-b"), []byte("tx-a")})
	require.NotEqual(t, h1, h3)
}

func TestInitializeLoadsExistingLatest(t *testing.T) {
	db, err := OpenBadger(DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	mc := clock.NewManual(time.Unix(1_700_000_000, 0))
	m1, err := New(db, nil, mc)
	require.NoError(t, err)
	require.NoError(t, m1.Initialize("test-root"))

	ctx := context.Background()
	r1 := root(9)
	_, err = m1.SubmitStateRoot(ctx, r1, 42)
	require.NoError(t, err)

	m2, err := New(db, nil, mc)
	require.NoError(t, err)
	require.NoError(t, m2.Initialize("test-root"))

	latest, err := m2.Latest()
	require.NoError(t, err)
	require.Equal(t, uint64(42), latest.BlockNumber)
	require.Equal(t, r1, latest.Root)

	metrics := m2.Metrics()
	require.Equal(t, int64(1), metrics.EntryCount)
	require.True(t, metrics.HasLatest)
	require.Equal(t, uint64(42), metrics.LatestBlockNumber)
}

// fakeArchiver is an in-memory stand-in for S3Archiver, so the archival
// fallback path in ByBlockNumber can be exercised without a real AWS client.
type fakeArchiver struct {
	entries map[uint64]seqtypes.StateRoot
}

func newFakeArchiver() *fakeArchiver {
	return &fakeArchiver{entries: make(map[uint64]seqtypes.StateRoot)}
}

func (a *fakeArchiver) Archive(ctx context.Context, root seqtypes.StateRoot) error {
	a.entries[root.BlockNumber] = root
	return nil
}

func (a *fakeArchiver) Fetch(ctx context.Context, blockNumber uint64) (seqtypes.StateRoot, error) {
	root, ok := a.entries[blockNumber]
	if !ok {
		return seqtypes.StateRoot{}, ErrEmptyLog
	}
	return root, nil
}

func TestByBlockNumberFallsBackToArchiverOnBadgerMiss(t *testing.T) {
	db, err := OpenBadger(DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	archiver := newFakeArchiver()
	r := seqtypes.StateRoot{Root: root(7), BlockNumber: 99, Timestamp: 123}
	archiver.entries[99] = r

	mc := clock.NewManual(time.Unix(1_700_000_000, 0))
	m, err := New(db, archiver, mc)
	require.NoError(t, err)
	require.NoError(t, m.Initialize("test-root"))

	got, ok := m.ByBlockNumber(99)
	require.True(t, ok)
	require.Equal(t, r.Root, got.Root)
	require.Equal(t, r.BlockNumber, got.BlockNumber)

	_, ok = m.ByBlockNumber(100)
	require.False(t, ok)
}

func TestMetricsReflectsSubmissions(t *testing.T) {
	m := newTestManager(t)
	require.False(t, m.Metrics().HasLatest)
	require.Equal(t, int64(0), m.Metrics().EntryCount)

	ctx := context.Background()
	_, err := m.SubmitStateRoot(ctx, root(1), 1)
	require.NoError(t, err)
	_, err = m.SubmitStateRoot(ctx, root(2), 2)
	require.NoError(t, err)

	metrics := m.Metrics()
	require.Equal(t, int64(2), metrics.EntryCount)
	require.True(t, metrics.HasLatest)
	require.Equal(t, uint64(2), metrics.LatestBlockNumber)
}
