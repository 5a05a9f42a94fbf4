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

package smt

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/smtstate/core/types"
)

func provenTree(t *testing.T, seed int64, n, keyLength int, height SubtreeHeight) (*testTree, []byte, []types.KVPair) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	kvs := randomPairs(rng, n, keyLength)
	tree := newTestTree(t, keyLength, height)
	return tree, tree.apply(t, nil, kvs), kvs
}

func TestProveInclusion(t *testing.T) {
	for _, height := range []SubtreeHeight{SubtreeHeight4, SubtreeHeight8, SubtreeHeight16} {
		tree, root, kvs := provenTree(t, 10, 300, 32, height)
		keys := types.KVPairs(kvs).Keys()

		proof, err := tree.Prove(root, keys)
		require.NoError(t, err)
		require.True(t, Verify(root, keys, proof, 32), "height %d", height)

		for _, kv := range kvs {
			hash, ok := proof.Lookup(kv.Key)
			require.True(t, ok)
			require.Equal(t, ValueHash(kv.Value), hash)
		}
	}
}

func TestProveNonInclusion(t *testing.T) {
	tree, root, kvs := provenTree(t, 11, 100, 4, SubtreeHeight8)
	rng := rand.New(rand.NewSource(12))

	present := make(map[string]bool)
	for _, kv := range kvs {
		present[string(kv.Key)] = true
	}
	var absent [][]byte
	for len(absent) < 50 {
		key := make([]byte, 4)
		rng.Read(key)
		if !present[string(key)] {
			absent = append(absent, key)
		}
	}
	proof, err := tree.Prove(root, absent)
	require.NoError(t, err)
	require.True(t, Verify(root, absent, proof, 4), spew.Sdump(proof))

	for i, key := range absent {
		_, ok := proof.Lookup(key)
		require.False(t, ok)
		require.False(t, proof.Queries[i].Included(key))
	}
}

func TestProveSiblingLayout(t *testing.T) {
	tree := newTestTree(t, 1, SubtreeHeight4)
	kvs := []types.KVPair{
		{Key: []byte{0x00}, Value: []byte{1}},
		{Key: []byte{0x40}, Value: []byte{2}},
		{Key: []byte{0x80}, Value: []byte{3}},
	}
	root := tree.apply(t, nil, kvs)

	proof, err := tree.Prove(root, [][]byte{{0x00}, {0x20}, {0xc0}})
	require.NoError(t, err)

	// 0x00 sits at depth 2, next to 0x40 and below the 0x80 leaf.
	q := proof.Queries[0]
	require.Equal(t, uint16(2), q.Height)
	require.Equal(t, []byte{0xc0}, q.Bitmap)
	require.Equal(t, [][]byte{
		LeafHash([]byte{0x80}, ValueHash([]byte{3})),
		LeafHash([]byte{0x40}, ValueHash([]byte{2})),
	}, q.Siblings)

	// 0x20 ends at the 0x00 leaf sharing its first two bits.
	q = proof.Queries[1]
	require.Equal(t, []byte{0x00}, q.Key)
	require.Equal(t, uint16(2), q.Height)

	// 0xc0 ends at the 0x80 leaf on the right of the root.
	q = proof.Queries[2]
	require.Equal(t, []byte{0x80}, q.Key)
	require.Equal(t, uint16(1), q.Height)
	require.Equal(t, []byte{0x80}, q.Bitmap)

	require.True(t, Verify(root, [][]byte{{0x00}, {0x20}, {0xc0}}, proof, 1), spew.Sdump(proof))
}

func TestProveEmptyTree(t *testing.T) {
	tree := newTestTree(t, 4, SubtreeHeight8)
	keys := [][]byte{{1, 2, 3, 4}}
	proof, err := tree.Prove(nil, keys)
	require.NoError(t, err)
	require.Equal(t, uint16(0), proof.Queries[0].Height)
	require.Empty(t, proof.Queries[0].Bitmap)
	require.True(t, Verify(EmptyHash, keys, proof, 4))
	require.True(t, Verify(nil, keys, proof, 4))
}

func TestVerifyRejects(t *testing.T) {
	tree, root, kvs := provenTree(t, 13, 200, 32, SubtreeHeight8)
	keys := [][]byte{kvs[0].Key, kvs[1].Key}
	fresh := func() *Proof {
		proof, err := tree.Prove(root, keys)
		require.NoError(t, err)
		return proof
	}
	require.True(t, Verify(root, keys, fresh(), 32))

	tests := []struct {
		name   string
		mutate func(p *Proof) (root []byte, keys [][]byte, keyLength int)
	}{
		{"corrupted sibling", func(p *Proof) ([]byte, [][]byte, int) {
			p.Queries[0].Siblings[0] = bytes.Clone(p.Queries[0].Siblings[0])
			p.Queries[0].Siblings[0][5] ^= 0x01
			return root, keys, 32
		}},
		{"dropped sibling", func(p *Proof) ([]byte, [][]byte, int) {
			p.Queries[0].Siblings = p.Queries[0].Siblings[1:]
			return root, keys, 32
		}},
		{"wrong value", func(p *Proof) ([]byte, [][]byte, int) {
			p.Queries[1].Value = ValueHash([]byte("forged"))
			return root, keys, 32
		}},
		{"claimed absent", func(p *Proof) ([]byte, [][]byte, int) {
			p.Queries[1].Value = nil
			return root, keys, 32
		}},
		{"wrong root", func(p *Proof) ([]byte, [][]byte, int) {
			return ValueHash(root), keys, 32
		}},
		{"query count", func(p *Proof) ([]byte, [][]byte, int) {
			return root, keys[:1], 32
		}},
		{"swapped keys", func(p *Proof) ([]byte, [][]byte, int) {
			return root, [][]byte{keys[1], keys[0]}, 32
		}},
		{"key length", func(p *Proof) ([]byte, [][]byte, int) {
			return root, keys, 31
		}},
		{"short bitmap", func(p *Proof) ([]byte, [][]byte, int) {
			p.Queries[0].Height += 8
			return root, keys, 32
		}},
		{"padding bit", func(p *Proof) ([]byte, [][]byte, int) {
			q := &p.Queries[0]
			q.Bitmap = bytes.Clone(q.Bitmap)
			if q.Height%8 == 0 {
				q.Height--
			}
			q.Bitmap[len(q.Bitmap)-1] |= 0x01
			return root, keys, 32
		}},
		{"excess height", func(p *Proof) ([]byte, [][]byte, int) {
			p.Queries[0].Height = 32*8 + 1
			p.Queries[0].Bitmap = make([]byte, 33)
			return root, keys, 32
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proof := fresh()
			root, keys, keyLength := tt.mutate(proof)
			require.False(t, Verify(root, keys, proof, keyLength), spew.Sdump(proof))
		})
	}
	require.False(t, Verify(root, keys, nil, 32))
}

func TestVerifyDuplicateClaims(t *testing.T) {
	tree, root, kvs := provenTree(t, 14, 50, 32, SubtreeHeight8)
	keys := [][]byte{kvs[0].Key, kvs[0].Key}
	proof, err := tree.Prove(root, keys)
	require.NoError(t, err)
	require.True(t, Verify(root, keys, proof, 32))

	// A second, different claim for the same key.
	proof.Queries[1].Bitmap = append(bytes.Clone(proof.Queries[1].Bitmap), 0)
	require.False(t, Verify(root, keys, proof, 32))
}

func TestProofEncoding(t *testing.T) {
	tree, root, kvs := provenTree(t, 15, 100, 32, SubtreeHeight16)
	keys := [][]byte{kvs[3].Key, make([]byte, 32)}
	proof, err := tree.Prove(root, keys)
	require.NoError(t, err)

	dec, err := DecodeProof(proof.Encode())
	require.NoError(t, err)
	require.True(t, Verify(root, keys, dec, 32), spew.Sdump(dec))

	for _, data := range [][]byte{
		nil,
		{0x02},
		{proofVersion, 0xff},
		append([]byte{proofVersion}, (&Proof{Queries: []QueryProof{{Value: []byte{1}}}}).Encode()[1:]...),
		append([]byte{proofVersion}, (&Proof{Queries: []QueryProof{{Siblings: [][]byte{{1, 2}}}}}).Encode()[1:]...),
	} {
		_, err := DecodeProof(data)
		require.ErrorIs(t, err, ErrMalformedProof, "input %x", data)
	}
}

func TestProveParallel(t *testing.T) {
	tree, root, kvs := provenTree(t, 16, 1000, 32, SubtreeHeight4)
	keys := types.KVPairs(kvs).Keys()
	require.Greater(t, len(keys), parallelProofThreshold)

	proof, err := tree.Prove(root, keys)
	require.NoError(t, err)
	require.Len(t, proof.Queries, len(keys))
	for i, key := range keys {
		sequential := new(QueryProof)
		top, err := tree.resolveRoot(newHasher(), root)
		require.NoError(t, err)
		require.NoError(t, tree.prove(top, key, sequential))
		require.Equal(t, *sequential, proof.Queries[i])
	}
	require.True(t, Verify(root, keys, proof, 32))
}
