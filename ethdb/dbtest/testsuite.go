// Copyright 2019 The go-ethereum Authors
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

// Package dbtest holds a conformance suite every ethdb engine has to pass.
package dbtest

import (
	"bytes"
	"crypto/rand"
	"slices"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/smtstate/ethdb"
)

// TestDatabaseSuite runs a suite of tests against a KeyValueStore database
// implementation.
func TestDatabaseSuite(t *testing.T, New func() ethdb.Database) {
	t.Run("Iterator", func(t *testing.T) {
		tests := []struct {
			content map[string]string
			prefix  string
			start   string
			order   []string
		}{
			// Empty databases should be iterable
			{map[string]string{}, "", "", nil},
			{map[string]string{}, "non-existent-prefix", "", nil},

			// Single-item databases should be iterable
			{map[string]string{"key": "val"}, "", "", []string{"key"}},
			{map[string]string{"key": "val"}, "k", "", []string{"key"}},
			{map[string]string{"key": "val"}, "l", "", nil},

			// Multi-item databases should be fully iterable
			{
				map[string]string{"k1": "v1", "k5": "v5", "k2": "v2", "k4": "v4", "k3": "v3"},
				"", "",
				[]string{"k1", "k2", "k3", "k4", "k5"},
			},
			{
				map[string]string{"k1": "v1", "k5": "v5", "k2": "v2", "k4": "v4", "k3": "v3"},
				"k", "",
				[]string{"k1", "k2", "k3", "k4", "k5"},
			},
			{
				map[string]string{"k1": "v1", "k5": "v5", "k2": "v2", "k4": "v4", "k3": "v3"},
				"l", "",
				nil,
			},
			// Multi-item databases should be prefix-iterable
			{
				map[string]string{
					"ka1": "va1", "ka5": "va5", "ka2": "va2", "ka4": "va4", "ka3": "va3",
					"kb1": "vb1", "kb5": "vb5", "kb2": "vb2", "kb4": "vb4", "kb3": "vb3",
				},
				"ka", "",
				[]string{"ka1", "ka2", "ka3", "ka4", "ka5"},
			},
			// Multi-item databases should be prefix-iterable with start position
			{
				map[string]string{
					"ka1": "va1", "ka5": "va5", "ka2": "va2", "ka4": "va4", "ka3": "va3",
					"kb1": "vb1", "kb5": "vb5", "kb2": "vb2", "kb4": "vb4", "kb3": "vb3",
				},
				"ka", "3",
				[]string{"ka3", "ka4", "ka5"},
			},
			{
				map[string]string{
					"ka1": "va1", "ka5": "va5", "ka2": "va2", "ka4": "va4", "ka3": "va3",
					"kb1": "vb1", "kb5": "vb5", "kb2": "vb2", "kb4": "vb4", "kb3": "vb3",
				},
				"ka", "8",
				nil,
			},
		}
		for i, tt := range tests {
			// Create the key-value data store
			db := New()
			for key, val := range tt.content {
				require.NoError(t, db.Put([]byte(key), []byte(val)), "test %d", i)
			}
			// Iterate over the database with the given configs and verify the results
			it, idx := db.NewIterator([]byte(tt.prefix), []byte(tt.start)), 0
			for it.Next() {
				require.Less(t, idx, len(tt.order), "test %d: prefix=%q more items than expected", i, tt.prefix)
				require.Equal(t, tt.order[idx], string(it.Key()), "test %d: item %d key mismatch", i, idx)
				require.Equal(t, tt.content[tt.order[idx]], string(it.Value()), "test %d: item %d value mismatch", i, idx)
				idx++
			}
			require.NoError(t, it.Error(), "test %d", i)
			require.Equal(t, len(tt.order), idx, "test %d: iteration terminated prematurely", i)
			it.Release()
			db.Close()
		}
	})

	t.Run("KeyValueOperations", func(t *testing.T) {
		db := New()
		defer db.Close()

		key := []byte("foo")

		got, err := db.Has(key)
		require.NoError(t, err)
		require.False(t, got, "wrong value")

		value := []byte("hello world")
		require.NoError(t, db.Put(key, value))

		got, err = db.Has(key)
		require.NoError(t, err)
		require.True(t, got, "wrong value")

		d, err := db.Get(key)
		require.NoError(t, err)
		require.Equal(t, value, d)

		require.NoError(t, db.Delete(key))

		got, err = db.Has(key)
		require.NoError(t, err)
		require.False(t, got, "wrong value")

		_, err = db.Get(key)
		require.ErrorIs(t, err, ethdb.ErrNotFound)
	})

	t.Run("Batch", func(t *testing.T) {
		db := New()
		defer db.Close()

		b := db.NewBatch()
		for _, k := range []string{"1", "2", "3", "4"} {
			require.NoError(t, b.Put([]byte(k), nil))
		}
		has, err := db.Has([]byte("1"))
		require.NoError(t, err)
		require.False(t, has, "db contains element before batch write")

		require.NoError(t, b.Write())
		require.Equal(t, []string{"1", "2", "3", "4"}, iterateKeys(db.NewIterator(nil, nil)))

		// Mix writes and deletes in batch
		b.Reset()
		for i, k := range []string{"1", "2", "3", "4"} {
			if i%2 == 0 {
				require.NoError(t, b.Put([]byte(k), nil))
			} else {
				require.NoError(t, b.Delete([]byte(k)))
			}
		}
		require.NoError(t, b.Write())
		require.Equal(t, []string{"1", "3"}, iterateKeys(db.NewIterator(nil, nil)))
	})

	t.Run("BatchReplay", func(t *testing.T) {
		db := New()
		defer db.Close()

		want := []string{"1", "2", "3", "4"}
		b := db.NewBatch()
		for _, k := range want {
			require.NoError(t, b.Put([]byte(k), nil))
		}
		b2 := db.NewBatch()
		require.NoError(t, b.Replay(b2))
		require.NoError(t, b2.Replay(db))
		require.Equal(t, want, iterateKeys(db.NewIterator(nil, nil)))
	})

	t.Run("Snapshot", func(t *testing.T) {
		db := New()
		defer db.Close()

		initial := map[string]string{
			"k1": "v1", "k2": "v2", "k3": "", "k4": "",
		}
		for k, v := range initial {
			require.NoError(t, db.Put([]byte(k), []byte(v)))
		}
		snapshot, err := db.NewSnapshot()
		require.NoError(t, err)
		for k, v := range initial {
			got, err := snapshot.Get([]byte(k))
			require.NoError(t, err)
			require.Equal(t, []byte(v), got)
		}
		// Flush more modifications into the database, ensure the snapshot
		// isn't affected.
		var (
			update = map[string]string{"k1": "v1-b", "k3": "v3-b"}
			insert = map[string]string{"k5": "v5-b"}
			delete = map[string]string{"k2": ""}
		)
		for k, v := range update {
			require.NoError(t, db.Put([]byte(k), []byte(v)))
		}
		for k, v := range insert {
			require.NoError(t, db.Put([]byte(k), []byte(v)))
		}
		for k := range delete {
			require.NoError(t, db.Delete([]byte(k)))
		}
		for k, v := range initial {
			got, err := snapshot.Get([]byte(k))
			require.NoError(t, err)
			require.Equal(t, []byte(v), got)
		}
		for k := range insert {
			has, err := snapshot.Has([]byte(k))
			require.NoError(t, err)
			require.False(t, has, "unexpected key %q in snapshot", k)

			_, err = snapshot.Get([]byte(k))
			require.ErrorIs(t, err, ethdb.ErrNotFound)
		}
		require.Equal(t, []string{"k1", "k2", "k3", "k4"}, iterateKeys(snapshot.NewIterator(nil, nil)))
		snapshot.Release()
	})

	t.Run("DeleteRange", func(t *testing.T) {
		db := New()
		defer db.Close()

		addRange := func(start, stop int) {
			for i := start; i <= stop; i++ {
				require.NoError(t, db.Put([]byte{byte(i)}, []byte("value")))
			}
		}
		checkRange := func(start, stop int, exp bool) {
			for i := start; i <= stop; i++ {
				has, err := db.Has([]byte{byte(i)})
				require.NoError(t, err)
				require.Equal(t, exp, has, "key %d", i)
			}
		}
		addRange(1, 9)
		require.NoError(t, db.DeleteRange([]byte{2}, []byte{5}))
		checkRange(1, 1, true)
		checkRange(2, 4, false)
		checkRange(5, 9, true)

		require.NoError(t, db.DeleteRange(nil, []byte{7}))
		checkRange(1, 6, false)
		checkRange(7, 9, true)
	})

	t.Run("ConcurrentSnapshotAndWrite", func(t *testing.T) {
		db := New()
		defer db.Close()

		keys := randomKeys(64)
		for _, k := range keys {
			require.NoError(t, db.Put(k, k))
		}
		snap, err := db.NewSnapshot()
		require.NoError(t, err)
		defer snap.Release()

		done := make(chan struct{})
		go func() {
			defer close(done)
			b := db.NewBatch()
			for _, k := range keys {
				b.Delete(k)
			}
			b.Write()
		}()
		for _, k := range keys {
			v, err := snap.Get(k)
			require.NoError(t, err)
			require.Equal(t, k, v)
		}
		<-done
	})
}

// iterateKeys drains an iterator into a sorted key list.
func iterateKeys(it ethdb.Iterator) []string {
	keys := []string{}
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	sort.Strings(keys)
	it.Release()
	return keys
}

// randomKeys generates n distinct random 32 byte keys.
func randomKeys(n int) [][]byte {
	keys := make([][]byte, 0, n)
	for len(keys) < n {
		k := make([]byte, 32)
		rand.Read(k)
		if !slices.ContainsFunc(keys, func(e []byte) bool { return bytes.Equal(e, k) }) {
			keys = append(keys, k)
		}
	}
	return keys
}
