// Copyright 2020 The go-ethereum Authors
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

package rawdb

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/smtstate/ethdb"
	"github.com/sunyihoo/smtstate/ethdb/dbtest"
	"github.com/sunyihoo/smtstate/ethdb/memorydb"
)

func TestTableDatabase(t *testing.T) {
	dbtest.TestDatabaseSuite(t, func() ethdb.Database {
		return NewTable(memorydb.New(), "table")
	})
}

func TestTableIsolation(t *testing.T) {
	db := memorydb.New()
	states := NewStateTable(db)

	require.NoError(t, db.Put([]byte("other"), []byte{1}))
	require.NoError(t, states.Put([]byte("a"), []byte{2}))
	require.NoError(t, states.Put([]byte("b"), []byte{3}))

	val, err := db.Get([]byte("sa"))
	require.NoError(t, err)
	require.Equal(t, []byte{2}, val)

	it := states.NewIterator(nil, nil)
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	it.Release()
	require.Equal(t, []string{"a", "b"}, keys)

	// A nil end clears the whole table but nothing beyond it
	require.NoError(t, states.DeleteRange(nil, nil))
	require.Equal(t, 1, db.Len())
}

func TestTableWriterAndReplay(t *testing.T) {
	db := memorydb.New()
	batch := db.NewBatch()

	w := NewStateWriter(batch)
	require.NoError(t, w.Put([]byte("k"), []byte("v")))
	require.NoError(t, NewTableWriter(batch, "x").Put([]byte("k"), []byte("w")))
	require.NoError(t, batch.Write())

	require.Equal(t, []byte("v"), ReadState(db, []byte("k")))
	require.True(t, HasState(db, []byte("k")))

	// Replaying a table batch strips the prefix again
	tb := NewStateTable(db).NewBatch()
	require.NoError(t, tb.Put([]byte("z"), []byte("1")))
	sink := memorydb.New()
	require.NoError(t, tb.Replay(sink))
	val, err := sink.Get([]byte("z"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), val)
}

func TestTableSnapshot(t *testing.T) {
	db := memorydb.New()
	states := NewStateTable(db)
	require.NoError(t, states.Put([]byte("a"), []byte{1}))

	snap, err := states.NewSnapshot()
	require.NoError(t, err)
	defer snap.Release()

	require.NoError(t, states.Delete([]byte("a")))
	val, err := snap.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte{1}, val)

	_, err = states.Get([]byte("a"))
	require.ErrorIs(t, err, ethdb.ErrNotFound)
}

func TestUpperBound(t *testing.T) {
	require.Equal(t, []byte("t"), upperBound([]byte("s")))
	require.Equal(t, []byte{0x02}, upperBound([]byte{0x01, 0xff}))
	require.Nil(t, upperBound([]byte{0xff}))
	require.Nil(t, upperBound(nil))
}

func TestStateIterator(t *testing.T) {
	db := memorydb.New()
	states := NewStateTable(db)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, states.Put([]byte(k), []byte(k)))
	}
	require.NoError(t, db.Put([]byte("zz"), []byte{1}))

	var keys []string
	it := NewStateIterator(db, []byte("b"), []byte("c"))
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Error())
	it.Release()
	require.Equal(t, []string{"b", "c"}, keys)

	keys = keys[:0]
	it = NewStateIterator(db, nil, nil)
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	it.Release()
	require.Equal(t, []string{"a", "b", "c", "d"}, keys)
}
