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

package rawdb

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/smtstate/core/types"
)

func TestDiffAccessors(t *testing.T) {
	db := NewMemoryDatabase()

	for _, v := range []uint64{1, 2, 3, 256, 1 << 40} {
		WriteDiff(db, v, []byte{byte(v)})
	}
	require.True(t, HasDiff(db, 256))
	require.Equal(t, []byte{3}, ReadDiff(db, 3))
	require.Nil(t, ReadDiff(db, 4))

	require.Equal(t, []uint64{1, 2, 3}, ReadDiffVersions(db, 256))
	require.Equal(t, []uint64{1, 2, 3, 256, 1 << 40}, ReadDiffVersions(db, 1<<41))

	DeleteDiff(db, 1)
	oldest, ok := ReadOldestDiffVersion(db)
	require.True(t, ok)
	require.Equal(t, uint64(2), oldest)
}

func TestCurrentStateAccessors(t *testing.T) {
	db := NewMemoryDatabase()
	require.Nil(t, ReadCurrentState(db))

	want := types.StateVersion{Root: bytes.Repeat([]byte{0xaa}, 32), Version: 7}
	WriteCurrentState(db, want)
	require.Equal(t, &want, ReadCurrentState(db))
}

func TestCheckpointAccessors(t *testing.T) {
	db := NewMemoryDatabase()
	a := types.StateVersion{Root: []byte{1}, Version: 1}
	b := types.StateVersion{Root: []byte{2}, Version: 2}
	WriteCheckpoint(db, "a", a)
	WriteCheckpoint(db, "b", b)

	require.Equal(t, &a, ReadCheckpoint(db, "a"))
	require.Nil(t, ReadCheckpoint(db, "c"))
	require.Equal(t, map[string]types.StateVersion{"a": a, "b": b}, ReadCheckpoints(db))

	DeleteCheckpoint(db, "a")
	require.Equal(t, map[string]types.StateVersion{"b": b}, ReadCheckpoints(db))
}

func TestStoreConfigAccessors(t *testing.T) {
	db := NewMemoryDatabase()
	require.Nil(t, ReadStoreConfig(db))

	WriteStoreConfig(db, types.StoreConfig{KeyLength: 32, SubtreeHeight: 8})
	require.Equal(t, &types.StoreConfig{KeyLength: 32, SubtreeHeight: 8}, ReadStoreConfig(db))
}

func TestSubtreeNodeAccessors(t *testing.T) {
	db := NewMemoryDatabase()
	hash := bytes.Repeat([]byte{0x11}, 32)

	require.False(t, HasSubtreeNode(db, hash))
	WriteSubtreeNode(db, hash, []byte("blob"))
	require.True(t, HasSubtreeNode(db, hash))
	require.Equal(t, []byte("blob"), ReadSubtreeNode(db, hash))

	DeleteSubtreeNode(db, hash)
	require.Nil(t, ReadSubtreeNode(db, hash))
}

func TestInspectDatabase(t *testing.T) {
	db := NewMemoryDatabase()
	WriteState(db, []byte{1}, []byte{2})
	WriteSubtreeNode(db, []byte{3}, []byte{4})
	WriteDiff(db, 1, []byte{5})
	WriteCurrentState(db, types.StateVersion{Root: []byte{6}, Version: 1})

	var out bytes.Buffer
	require.NoError(t, InspectDatabase(db, &out))
	require.Contains(t, out.String(), "Subtree nodes")
	require.Contains(t, out.String(), "State diffs")
}
