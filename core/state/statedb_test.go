// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package state

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/smtstate/core/rawdb"
	"github.com/sunyihoo/smtstate/core/types"
	"github.com/sunyihoo/smtstate/ethdb"
	"github.com/sunyihoo/smtstate/ethdb/memorydb"
	"github.com/sunyihoo/smtstate/ethdb/pebble"
	"github.com/sunyihoo/smtstate/smt"
)

func newTestState(t *testing.T, db ethdb.Database, keyLength int) *StateDB {
	t.Helper()
	config := Defaults
	config.KeyLength = keyLength
	config.SubtreeHeight = smt.SubtreeHeight4
	sdb, err := New(db, &config)
	require.NoError(t, err)
	return sdb
}

func key4(i int) []byte {
	return []byte{byte(i >> 24), byte(i >> 16), byte(i >> 8), byte(i)}
}

func mustGet(t *testing.T, sdb *StateDB, key []byte) []byte {
	t.Helper()
	value, err := sdb.Get(key)
	require.NoError(t, err)
	return value
}

func TestCommitRevert(t *testing.T) {
	db := memorydb.New()
	sdb := newTestState(t, db, 4)
	require.Equal(t, smt.EmptyHash, sdb.Root())

	for i := 0; i < 20; i++ {
		require.NoError(t, sdb.Set(key4(i), []byte(fmt.Sprintf("v1-%d", i))))
	}
	r1, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)
	require.Equal(t, types.StateVersion{Root: r1, Version: 1}, sdb.CurrentState())

	// Update some, delete some, create some.
	for i := 0; i < 5; i++ {
		require.NoError(t, sdb.Set(key4(i), []byte(fmt.Sprintf("v2-%d", i))))
	}
	for i := 5; i < 10; i++ {
		require.NoError(t, sdb.Remove(key4(i)))
	}
	for i := 20; i < 25; i++ {
		require.NoError(t, sdb.Set(key4(i), []byte(fmt.Sprintf("v2-%d", i))))
	}
	r2, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)
	require.NotEqual(t, r1, r2)
	require.Equal(t, []byte("v2-3"), mustGet(t, sdb, key4(3)))
	_, err = sdb.Get(key4(7))
	require.ErrorIs(t, err, ErrNotFound)

	reverted, err := sdb.Revert()
	require.NoError(t, err)
	require.Equal(t, r1, reverted)
	require.Equal(t, types.StateVersion{Root: r1, Version: 1}, sdb.CurrentState())
	require.False(t, rawdb.HasDiff(db, 2))

	for i := 0; i < 20; i++ {
		require.Equal(t, []byte(fmt.Sprintf("v1-%d", i)), mustGet(t, sdb, key4(i)))
	}
	for i := 20; i < 25; i++ {
		ok, err := sdb.Has(key4(i))
		require.NoError(t, err)
		require.False(t, ok)
	}
	// The tree agrees with the restored store.
	proof, err := sdb.Prove([][]byte{key4(3), key4(22)})
	require.NoError(t, err)
	require.True(t, sdb.Verify(r1, [][]byte{key4(3), key4(22)}, proof))
	hash, ok := proof.Lookup(key4(3))
	require.True(t, ok)
	require.Equal(t, smt.ValueHash([]byte("v1-3")), hash)

	// Down to the empty state, then nothing is left.
	root, err := sdb.Revert()
	require.NoError(t, err)
	require.Equal(t, smt.EmptyHash, root)
	_, err = sdb.Revert()
	require.ErrorIs(t, err, ErrNothingToRevert)
	require.ErrorIs(t, err, ErrInvalidUsage)

	it, err := sdb.Iterate(IterateOptions{})
	require.NoError(t, err)
	require.Empty(t, it)
}

func TestCommitDeterministic(t *testing.T) {
	a := newTestState(t, memorydb.New(), 4)
	b := newTestState(t, memorydb.New(), 4)

	for i := 0; i < 50; i++ {
		require.NoError(t, a.Set(key4(i), []byte{byte(i), 1}))
	}
	for i := 49; i >= 0; i-- {
		require.NoError(t, b.Set(key4(i), []byte{byte(i), 1}))
		if i%10 == 0 {
			_, err := b.Commit(CommitOptions{})
			require.NoError(t, err)
		}
	}
	ra, err := a.Commit(CommitOptions{})
	require.NoError(t, err)
	require.Equal(t, ra, b.Root())
}

func TestCommitOptions(t *testing.T) {
	db := memorydb.New()
	sdb := newTestState(t, db, 4)
	require.NoError(t, sdb.Set(key4(1), []byte("one")))

	dry, err := sdb.Commit(CommitOptions{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, smt.LeafHash(key4(1), smt.ValueHash([]byte("one"))), dry)
	require.Equal(t, uint64(0), sdb.CurrentState().Version)
	require.True(t, sdb.IsCached(key4(1)))
	require.False(t, rawdb.HasState(db, key4(1)))
	require.False(t, rawdb.HasSubtreeNode(db, dry))

	_, err = sdb.Commit(CommitOptions{ExpectedRoot: smt.EmptyHash})
	require.ErrorIs(t, err, ErrRootMismatch)
	require.Equal(t, uint64(0), sdb.CurrentState().Version)
	require.True(t, sdb.IsCached(key4(1)))

	root, err := sdb.Commit(CommitOptions{ExpectedRoot: dry})
	require.NoError(t, err)
	require.Equal(t, dry, root)
	require.False(t, sdb.IsCached(key4(1)))
	require.True(t, rawdb.HasSubtreeNode(db, root))
}

func TestRevertPendingWrites(t *testing.T) {
	sdb := newTestState(t, memorydb.New(), 4)
	require.NoError(t, sdb.Set(key4(1), []byte("one")))
	_, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)

	require.NoError(t, sdb.Set(key4(2), []byte("two")))
	_, err = sdb.Revert()
	require.ErrorIs(t, err, ErrPendingWrites)
	require.Equal(t, uint64(1), sdb.CurrentState().Version)
}

func TestRevertMismatch(t *testing.T) {
	db := memorydb.New()
	sdb := newTestState(t, db, 4)
	require.NoError(t, sdb.Set(key4(1), []byte("one")))
	r1, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)
	require.NoError(t, sdb.Set(key4(2), []byte("two")))
	r2, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)

	// Point the latest diff at a parent it cannot lead back to.
	parent, diff, err := readDiff(db, 2)
	require.NoError(t, err)
	require.Equal(t, r1, parent)
	rawdb.WriteDiff(db, 2, encodeDiff(smt.EmptyHash, diff))

	_, err = sdb.Revert()
	require.ErrorIs(t, err, ErrRevertMismatch)
	require.Equal(t, r2, sdb.Root())
	require.Equal(t, []byte("two"), mustGet(t, sdb, key4(2)))

	rawdb.WriteDiff(db, 2, []byte{0xff, 0x00})
	_, err = sdb.Revert()
	require.ErrorIs(t, err, ErrCorruptDiff)
	require.ErrorIs(t, err, types.ErrCodec)
}

func TestGetHasIterate(t *testing.T) {
	sdb := newTestState(t, memorydb.New(), 4)
	for i := 0; i < 10; i++ {
		require.NoError(t, sdb.Set(key4(i), []byte{byte(i)}))
	}
	_, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)

	// Pending writes shadow the committed state.
	require.NoError(t, sdb.Set(key4(2), []byte{22}))
	require.NoError(t, sdb.Remove(key4(3)))
	require.NoError(t, sdb.Set(key4(11), []byte{11}))

	require.Equal(t, []byte{22}, mustGet(t, sdb, key4(2)))
	_, err = sdb.Get(key4(3))
	require.ErrorIs(t, err, ErrNotFound)
	ok, err := sdb.Has(key4(3))
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = sdb.Has(key4(11))
	require.NoError(t, err)
	require.True(t, ok)
	_, err = sdb.Get(key4(12))
	require.ErrorIs(t, err, ErrNotFound)

	tests := []struct {
		opts IterateOptions
		want []int
	}{
		{IterateOptions{}, []int{0, 1, 2, 4, 5, 6, 7, 8, 9, 11}},
		{IterateOptions{Start: key4(2), End: key4(5)}, []int{2, 4, 5}},
		{IterateOptions{Start: key4(1), Limit: 3}, []int{1, 2, 4}},
		{IterateOptions{End: key4(4), Reverse: true}, []int{4, 2, 1, 0}},
		{IterateOptions{Reverse: true, Limit: 2}, []int{11, 9}},
		{IterateOptions{Start: key4(5), End: key4(4)}, nil},
	}
	for i, tt := range tests {
		pairs, err := sdb.Iterate(tt.opts)
		require.NoError(t, err)
		var got []int
		for _, kv := range pairs {
			got = append(got, int(kv.Key[3]))
		}
		require.Equal(t, tt.want, got, "test %d", i)
	}
	pairs, err := sdb.Iterate(IterateOptions{Start: key4(2), End: key4(2)})
	require.NoError(t, err)
	require.Equal(t, []types.KVPair{{Key: key4(2), Value: []byte{22}}}, pairs)
}

func TestSetRemoveValidation(t *testing.T) {
	sdb := newTestState(t, memorydb.New(), 4)
	require.ErrorIs(t, sdb.Set([]byte{1, 2, 3}, []byte{1}), ErrInvalidKeyLength)
	require.ErrorIs(t, sdb.Remove([]byte{1, 2, 3, 4, 5}), ErrInvalidKeyLength)
	require.ErrorIs(t, sdb.Set(key4(1), nil), ErrInvalidUsage)

	// Removing an absent key stages nothing.
	require.NoError(t, sdb.Remove(key4(1)))
	require.False(t, sdb.IsCached(key4(1)))
}

func TestRawCacheSurface(t *testing.T) {
	sdb := newTestState(t, memorydb.New(), 4)
	require.NoError(t, sdb.CacheNew(key4(1), []byte("a")))
	require.ErrorIs(t, sdb.Update(key4(2), []byte("b")), ErrInvalidUsage)

	id := sdb.Snapshot()
	require.NoError(t, sdb.CacheNew(key4(2), []byte("b")))
	require.NoError(t, sdb.Update(key4(1), []byte("c")))
	require.NoError(t, sdb.RestoreSnapshot(id))
	require.Equal(t, []byte("a"), mustGet(t, sdb, key4(1)))
	require.False(t, sdb.IsCached(key4(2)))

	root, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)

	require.NoError(t, sdb.CacheExisting(key4(1), []byte("a")))
	sdb.Delete(key4(1))
	empty, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)
	require.Equal(t, smt.EmptyHash, empty)

	back, err := sdb.Revert()
	require.NoError(t, err)
	require.Equal(t, root, back)
}

func TestRawCacheRejectsEmptyValue(t *testing.T) {
	db := memorydb.New()
	sdb := newTestState(t, db, 4)
	key := []byte{1, 2, 3, 4}
	require.NoError(t, sdb.Set(key, []byte{5, 6, 7, 8}))
	root, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)

	require.ErrorIs(t, sdb.CacheNew(key4(9), nil), ErrInvalidUsage)
	require.ErrorIs(t, sdb.CacheExisting(key, []byte{}), ErrInvalidUsage)
	require.False(t, sdb.IsCached(key))

	require.NoError(t, sdb.CacheExisting(key, []byte{5, 6, 7, 8}))
	require.ErrorIs(t, sdb.Update(key, []byte{}), ErrInvalidUsage)
	require.Equal(t, []byte{5, 6, 7, 8}, mustGet(t, sdb, key))

	// Nothing changed, the store and the tree still agree on the key.
	again, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)
	require.Equal(t, root, again)
	has, err := sdb.Has(key)
	require.NoError(t, err)
	require.True(t, has)
	proof, err := sdb.Prove([][]byte{key})
	require.NoError(t, err)
	_, included := proof.Lookup(key)
	require.True(t, included)
	require.False(t, sdb.IsCached(key4(9)))
}

var errBatchWrite = errors.New("batch write failed")

// failingDB hands out batches whose Write always fails.
type failingDB struct {
	ethdb.Database
	fail bool
}

func (db *failingDB) NewBatch() ethdb.Batch {
	return &failingBatch{Batch: db.Database.NewBatch(), db: db}
}

type failingBatch struct {
	ethdb.Batch
	db *failingDB
}

func (b *failingBatch) Write() error {
	if b.db.fail {
		return errBatchWrite
	}
	return b.Batch.Write()
}

func TestFailedWriteLeavesState(t *testing.T) {
	db := &failingDB{Database: memorydb.New()}
	sdb := newTestState(t, db, 4)
	require.NoError(t, sdb.Set(key4(1), []byte("one")))
	r1, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)
	v1 := sdb.CurrentState()

	// A failed commit keeps the version, the root and the pending writes.
	require.NoError(t, sdb.Set(key4(1), []byte("two")))
	require.NoError(t, sdb.Set(key4(2), []byte("new")))
	db.fail = true
	_, err = sdb.Commit(CommitOptions{})
	require.ErrorIs(t, err, errBatchWrite)
	require.Equal(t, v1, sdb.CurrentState())
	require.Equal(t, r1, sdb.Root())
	require.False(t, rawdb.HasDiff(db, v1.Version+1))
	require.True(t, sdb.IsCached(key4(1)))
	require.True(t, sdb.IsCached(key4(2)))
	require.Equal(t, []byte("two"), mustGet(t, sdb, key4(1)))
	require.Equal(t, []byte("one"), rawdb.ReadState(db, key4(1)))
	require.False(t, rawdb.HasState(db, key4(2)))

	// Retrying once the database recovers produces the same commit.
	db.fail = false
	r2, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)
	require.True(t, rawdb.HasDiff(db, 2))

	// A failed revert keeps the latest version and its diff.
	db.fail = true
	_, err = sdb.Revert()
	require.ErrorIs(t, err, errBatchWrite)
	require.Equal(t, types.StateVersion{Root: r2, Version: 2}, sdb.CurrentState())
	require.True(t, rawdb.HasDiff(db, 2))
	require.Equal(t, []byte("two"), mustGet(t, sdb, key4(1)))
	require.True(t, rawdb.HasState(db, key4(2)))

	db.fail = false
	back, err := sdb.Revert()
	require.NoError(t, err)
	require.Equal(t, r1, back)
	require.Equal(t, v1, sdb.CurrentState())
	require.Equal(t, []byte("one"), mustGet(t, sdb, key4(1)))
}

func TestReopen(t *testing.T) {
	db := memorydb.New()
	sdb := newTestState(t, db, 4)
	require.NoError(t, sdb.Set(key4(1), []byte("one")))
	root, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)

	again := newTestState(t, db, 4)
	require.Equal(t, types.StateVersion{Root: root, Version: 1}, again.CurrentState())
	require.Equal(t, []byte("one"), mustGet(t, again, key4(1)))

	config := Defaults
	config.KeyLength = 8
	config.SubtreeHeight = smt.SubtreeHeight4
	_, err = New(db, &config)
	require.ErrorIs(t, err, ErrConfigMismatch)

	config.KeyLength = 4
	config.SubtreeHeight = smt.SubtreeHeight16
	_, err = New(db, &config)
	require.ErrorIs(t, err, ErrConfigMismatch)

	config.SubtreeHeight = 5
	_, err = New(memorydb.New(), &config)
	require.ErrorIs(t, err, smt.ErrInvalidConfig)
}

func TestCleanDiffUntil(t *testing.T) {
	db := memorydb.New()
	sdb := newTestState(t, db, 4)
	for v := 1; v <= 6; v++ {
		require.NoError(t, sdb.Set(key4(v), []byte{byte(v)}))
		_, err := sdb.Commit(CommitOptions{})
		require.NoError(t, err)
		if v == 3 {
			require.NoError(t, sdb.Checkpoint("three"))
		}
	}
	require.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, rawdb.ReadDiffVersions(db, 100))
	oldest, ok := sdb.OldestDiffVersion()
	require.True(t, ok)
	require.Equal(t, uint64(1), oldest)

	// The checkpoint at version 3 keeps diffs 4 and up.
	require.NoError(t, sdb.CleanDiffUntil(6))
	require.Equal(t, []uint64{4, 5, 6}, rawdb.ReadDiffVersions(db, 100))
	oldest, ok = sdb.OldestDiffVersion()
	require.True(t, ok)
	require.Equal(t, uint64(4), oldest)

	root, ok := sdb.CheckpointRoot("three")
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		_, err := sdb.Revert()
		require.NoError(t, err)
	}
	require.Equal(t, root, sdb.Root())
	_, err := sdb.Revert()
	require.ErrorIs(t, err, ErrNothingToRevert)

	require.NoError(t, sdb.DeleteCheckpoint("three"))
	require.ErrorIs(t, sdb.DeleteCheckpoint("three"), ErrInvalidUsage)
	require.Empty(t, sdb.Checkpoints())
	require.ErrorIs(t, sdb.Checkpoint(""), ErrInvalidUsage)
}

func TestDiffRetention(t *testing.T) {
	db := memorydb.New()
	config := Defaults
	config.KeyLength = 4
	config.DiffRetention = 2
	sdb, err := New(db, &config)
	require.NoError(t, err)

	for v := 1; v <= 5; v++ {
		require.NoError(t, sdb.Set(key4(v), []byte{byte(v)}))
		_, err := sdb.Commit(CommitOptions{})
		require.NoError(t, err)
	}
	require.Equal(t, []uint64{4, 5}, rawdb.ReadDiffVersions(db, 100))

	_, err = sdb.Revert()
	require.NoError(t, err)
	_, err = sdb.Revert()
	require.NoError(t, err)
	_, err = sdb.Revert()
	require.ErrorIs(t, err, ErrNothingToRevert)
	require.Equal(t, uint64(3), sdb.CurrentState().Version)
}

func TestReader(t *testing.T) {
	sdb := newTestState(t, memorydb.New(), 4)
	require.NoError(t, sdb.Set(key4(1), []byte("one")))
	r1, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)

	reader, err := sdb.NewReader()
	require.NoError(t, err)
	require.Equal(t, r1, reader.State().Root)

	// Later commits and pending writes stay invisible.
	require.NoError(t, sdb.Set(key4(1), []byte("uno")))
	require.NoError(t, sdb.Set(key4(2), []byte("two")))
	_, err = sdb.Commit(CommitOptions{})
	require.NoError(t, err)
	require.NoError(t, sdb.Set(key4(3), []byte("three")))

	value, err := reader.Get(key4(1))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), value)
	_, err = reader.Get(key4(2))
	require.ErrorIs(t, err, ErrNotFound)
	ok, err := reader.Has(key4(2))
	require.NoError(t, err)
	require.False(t, ok)
	pairs, err := reader.Iterate(IterateOptions{})
	require.NoError(t, err)
	require.Equal(t, []types.KVPair{{Key: key4(1), Value: []byte("one")}}, pairs)

	reader.Close()
	reader.Close()
	_, err = reader.Get(key4(1))
	require.ErrorIs(t, err, ErrReaderClosed)
}

func TestReaderConcurrent(t *testing.T) {
	sdb := newTestState(t, memorydb.New(), 4)
	for i := 0; i < 100; i++ {
		require.NoError(t, sdb.Set(key4(i), []byte{byte(i)}))
	}
	_, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)

	reader, err := sdb.NewReader()
	require.NoError(t, err)
	defer reader.Close()

	errc := make(chan error, 8)
	for g := 0; g < 8; g++ {
		go func() {
			for i := 0; i < 100; i++ {
				value, err := reader.Get(key4(i))
				if err != nil {
					errc <- err
					return
				}
				if !bytes.Equal(value, []byte{byte(i)}) {
					errc <- fmt.Errorf("key %d: have %x", i, value)
					return
				}
			}
			errc <- nil
		}()
	}
	for i := 0; i < 100; i++ {
		require.NoError(t, sdb.Remove(key4(i)))
	}
	_, err = sdb.Commit(CommitOptions{})
	require.NoError(t, err)
	for g := 0; g < 8; g++ {
		require.NoError(t, <-errc)
	}
}

func TestCheckpointTo(t *testing.T) {
	sdb := newTestState(t, memorydb.New(), 4)
	require.True(t, errors.Is(sdb.CheckpointTo(t.TempDir()), ethdb.ErrNotSupported))

	db, err := pebble.New(t.TempDir(), 16, 16, "", false)
	require.NoError(t, err)
	defer db.Close()

	sdb = newTestState(t, db, 4)
	require.NoError(t, sdb.Set(key4(7), []byte("seven")))
	root, err := sdb.Commit(CommitOptions{})
	require.NoError(t, err)

	dir := t.TempDir() + "/copy"
	require.NoError(t, sdb.CheckpointTo(dir))

	cpy, err := pebble.New(dir, 16, 16, "", true)
	require.NoError(t, err)
	defer cpy.Close()

	restored := newTestState(t, cpy, 4)
	require.Equal(t, root, restored.Root())
	require.Equal(t, []byte("seven"), mustGet(t, restored, key4(7)))
}
