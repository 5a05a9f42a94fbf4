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
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"
)

func TestSubtreeRoundTrip(t *testing.T) {
	cfg := Config{KeyLength: 1, SubtreeHeight: SubtreeHeight4}
	h := newHasher()
	defer returnHasherToPool(h)

	// 0x00 and 0x20 split at depth 2, 0x80 sits alone on the right.
	a := &leafNode{key: []byte{0x00}, valueHash: ValueHash([]byte{1}), dirty: true}
	b := &leafNode{key: []byte{0x20}, valueHash: ValueHash([]byte{2}), dirty: true}
	c := &leafNode{key: []byte{0x80}, valueHash: ValueHash([]byte{3}), dirty: true}
	n := join(join(join(a, b), nil), c)

	blob, err := encodeSubtree(h, n, cfg.SubtreeHeight, func(*branchNode) error {
		t.Fatal("no child subtrees expected")
		return nil
	})
	require.NoError(t, err)

	var dec subtreeBlob
	require.NoError(t, rlp.DecodeBytes(blob, &dec))
	require.Equal(t, []byte{3, 3, 2, 1}, dec.Structure)
	require.Equal(t, []byte{0xd0}, dec.Bitmap)
	require.Len(t, dec.Nodes, 3)

	got, err := decodeSubtree(h, cfg, hashOf(h, n), 0, blob)
	require.NoError(t, err)
	require.Equal(t, hashOf(h, n), hashOf(h, got))
}

func TestSubtreeChildStub(t *testing.T) {
	cfg := Config{KeyLength: 1, SubtreeHeight: SubtreeHeight4}
	h := newHasher()
	defer returnHasherToPool(h)

	// Two keys sharing their first five bits need a second subtree.
	a := &leafNode{key: []byte{0x00}, valueHash: ValueHash([]byte{1}), dirty: true}
	b := &leafNode{key: []byte{0x04}, valueHash: ValueHash([]byte{2}), dirty: true}
	n := build([]entry{{a.key, a.valueHash}, {b.key, b.valueHash}}, 0)

	var children []*branchNode
	blob, err := encodeSubtree(h, n, cfg.SubtreeHeight, func(child *branchNode) error {
		children = append(children, child)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, children, 1)

	got, err := decodeSubtree(h, cfg, hashOf(h, n), 0, blob)
	require.NoError(t, err)
	require.Equal(t, hashOf(h, n), hashOf(h, got))

	// The child is referenced by hash at the bottom of the subtree.
	var stub node = got
	for i := 0; i < 4; i++ {
		stub = stub.(*branchNode).left
	}
	require.IsType(t, &hashNode{}, stub)
	require.Equal(t, hashOf(h, children[0]), stub.(*hashNode).hash)
}

func TestSubtreeCorrupt(t *testing.T) {
	cfg := Config{KeyLength: 1, SubtreeHeight: SubtreeHeight4}
	h := newHasher()
	defer returnHasherToPool(h)

	leaf := append([]byte{leafPrefix, 0x00}, ValueHash([]byte{1})...)
	valid := subtreeBlob{Structure: []byte{0}, Bitmap: []byte{0x80}, Nodes: [][]byte{leaf}}
	hash := LeafHash([]byte{0x00}, ValueHash([]byte{1}))

	enc, err := rlp.EncodeToBytes(&valid)
	require.NoError(t, err)
	_, err = decodeSubtree(h, cfg, hash, 0, enc)
	require.NoError(t, err)

	tests := map[string]subtreeBlob{
		"bitmap length":  {Structure: []byte{0}, Bitmap: []byte{0x80, 0}, Nodes: [][]byte{leaf}},
		"bitmap count":   {Structure: []byte{0}, Bitmap: []byte{0x80}},
		"incomplete":     {Structure: []byte{1}, Bitmap: []byte{0x80}, Nodes: [][]byte{leaf}},
		"overfull":       {Structure: []byte{1, 1, 1}, Bitmap: []byte{0x80}, Nodes: [][]byte{leaf}},
		"too deep":       {Structure: []byte{5}, Bitmap: []byte{0x80}, Nodes: [][]byte{leaf}},
		"empty":          {Structure: []byte{0}, Bitmap: []byte{0x00}},
		"short leaf":     {Structure: []byte{0}, Bitmap: []byte{0x80}, Nodes: [][]byte{leaf[:10]}},
		"unknown type":   {Structure: []byte{0}, Bitmap: []byte{0x80}, Nodes: [][]byte{append([]byte{0x07}, leaf[1:]...)}},
		"stub too high":  {Structure: []byte{1, 1}, Bitmap: []byte{0x80}, Nodes: [][]byte{append([]byte{branchPrefix}, hash...)}},
		"non-canonical":  {Structure: []byte{1, 1}, Bitmap: []byte{0x80}, Nodes: [][]byte{leaf}},
		"hash mismatch":  {Structure: []byte{0}, Bitmap: []byte{0x80}, Nodes: [][]byte{append([]byte{leafPrefix, 0x01}, ValueHash([]byte{1})...)}},
		"missing nodes":  {Structure: []byte{1, 1}, Bitmap: []byte{0xc0}, Nodes: [][]byte{leaf}},
		"trailing nodes": {Structure: []byte{0}, Bitmap: []byte{0x80}, Nodes: [][]byte{leaf, leaf}},
	}
	for name, blob := range tests {
		enc, err := rlp.EncodeToBytes(&blob)
		require.NoError(t, err)
		_, err = decodeSubtree(h, cfg, hash, 0, enc)
		require.ErrorIs(t, err, ErrCorruptNode, name)
	}
	_, err = decodeSubtree(h, cfg, hash, 0, []byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrCorruptNode)
}
