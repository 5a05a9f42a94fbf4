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
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/smtstate/core/types"
	"github.com/sunyihoo/smtstate/ethdb/memorydb"
	"github.com/sunyihoo/smtstate/smt"
)

func TestDiffRecord(t *testing.T) {
	diff := &Diff{
		Created: [][]byte{{1}, {2}},
		Updated: []types.KVPair{{Key: []byte{3}, Value: []byte{30}}},
		Deleted: []types.KVPair{{Key: []byte{4}, Value: []byte{40}}},
	}
	parent, dec, err := decodeDiff(encodeDiff(smt.EmptyHash, diff))
	require.NoError(t, err)
	require.Equal(t, smt.EmptyHash, parent)
	require.Equal(t, diff, dec)
	require.Equal(t, 4, dec.Len())

	require.Equal(t, []types.KVPair{
		{Key: []byte{1}},
		{Key: []byte{2}},
		{Key: []byte{3}, Value: []byte{30}},
		{Key: []byte{4}, Value: []byte{40}},
	}, dec.Prior())

	_, _, err = readDiff(memorydb.New(), 1)
	require.ErrorIs(t, err, ErrNothingToRevert)
}
