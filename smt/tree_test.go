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
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/smtstate/core/rawdb"
	"github.com/sunyihoo/smtstate/core/types"
	"github.com/sunyihoo/smtstate/ethdb/memorydb"
)

// refRoot computes the root of a key set straight from the hashing rules.
func refRoot(kvs []types.KVPair, depth int) []byte {
	switch len(kvs) {
	case 0:
		return EmptyHash
	case 1:
		return LeafHash(kvs[0].Key, ValueHash(kvs[0].Value))
	}
	var left, right []types.KVPair
	for _, kv := range kvs {
		if kv.Key[depth/8]&(0x80>>(depth%8)) == 0 {
			left = append(left, kv)
		} else {
			right = append(right, kv)
		}
	}
	return BranchHash(refRoot(left, depth+1), refRoot(right, depth+1))
}

func randomPairs(rng *rand.Rand, n, keyLength int) []types.KVPair {
	seen := make(map[string]bool)
	kvs := make([]types.KVPair, 0, n)
	for len(kvs) < n {
		key := make([]byte, keyLength)
		rng.Read(key)
		if seen[string(key)] {
			continue
		}
		seen[string(key)] = true
		value := make([]byte, 1+rng.Intn(40))
		rng.Read(value)
		kvs = append(kvs, types.KVPair{Key: key, Value: value})
	}
	return kvs
}

type testTree struct {
	*Tree
	db *memorydb.Database
}

func newTestTree(t *testing.T, keyLength int, height SubtreeHeight) *testTree {
	t.Helper()
	db := memorydb.New()
	tree, err := New(db, Config{KeyLength: keyLength, SubtreeHeight: height, CleanCacheSize: 1 << 20})
	require.NoError(t, err)
	return &testTree{Tree: tree, db: db}
}

// apply updates the tree and flushes the written nodes.
func (t *testTree) apply(tb testing.TB, root []byte, kvs []types.KVPair) []byte {
	tb.Helper()
	batch := t.db.NewBatch()
	newRoot, err := t.Update(root, kvs, batch)
	require.NoError(tb, err)
	require.NoError(tb, batch.Write())
	return newRoot
}

func TestNewInvalidConfig(t *testing.T) {
	for _, cfg := range []Config{
		{KeyLength: 0, SubtreeHeight: SubtreeHeight8},
		{KeyLength: MaxKeyLength + 1, SubtreeHeight: SubtreeHeight8},
		{KeyLength: 32, SubtreeHeight: 5},
		{KeyLength: 32},
	} {
		_, err := New(memorydb.New(), cfg)
		require.ErrorIs(t, err, ErrInvalidConfig, "config %+v", cfg)
	}
}

func TestEmptyTree(t *testing.T) {
	tree := newTestTree(t, 4, SubtreeHeight8)

	root := tree.apply(t, nil, nil)
	require.Equal(t, EmptyHash, root)

	// Deleting absent keys keeps the tree empty and writes nothing.
	root = tree.apply(t, root, []types.KVPair{{Key: []byte{1, 2, 3, 4}}})
	require.Equal(t, EmptyHash, root)
	require.Zero(t, tree.db.Len())
}

func TestSingleLeafRoot(t *testing.T) {
	tree := newTestTree(t, 4, SubtreeHeight4)
	key, value := []byte{0xde, 0xad, 0xbe, 0xef}, []byte("value")

	root := tree.apply(t, nil, []types.KVPair{{Key: key, Value: value}})
	require.Equal(t, LeafHash(key, ValueHash(value)), root)

	// The lone leaf is reachable on its own.
	proof, err := tree.Prove(root, [][]byte{key})
	require.NoError(t, err)
	require.True(t, Verify(root, [][]byte{key}, proof, 4))
}

func TestTwoLeavesRoot(t *testing.T) {
	tree := newTestTree(t, 1, SubtreeHeight4)
	a := types.KVPair{Key: []byte{0x00}, Value: []byte{1}}
	b := types.KVPair{Key: []byte{0x01}, Value: []byte{2}}

	root := tree.apply(t, nil, []types.KVPair{b, a})
	require.Equal(t, refRoot([]types.KVPair{a, b}, 0), root)

	// Keys sharing seven bits sit below a chain of one-sided branches.
	want := BranchHash(LeafHash(a.Key, ValueHash(a.Value)), LeafHash(b.Key, ValueHash(b.Value)))
	for i := 0; i < 7; i++ {
		want = BranchHash(want, EmptyHash)
	}
	require.Equal(t, want, root)

	// Removing one leaf lifts the other back to the top.
	root = tree.apply(t, root, []types.KVPair{{Key: a.Key}})
	require.Equal(t, LeafHash(b.Key, ValueHash(b.Value)), root)
}

func TestKeyLength(t *testing.T) {
	tree := newTestTree(t, 4, SubtreeHeight8)
	_, err := tree.Update(nil, []types.KVPair{{Key: []byte{1, 2, 3}, Value: []byte{1}}}, tree.db.NewBatch())
	require.ErrorIs(t, err, ErrKeyLength)

	_, err = tree.Prove(EmptyHash, [][]byte{{1}})
	require.ErrorIs(t, err, ErrKeyLength)
}

func TestMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, height := range []SubtreeHeight{SubtreeHeight4, SubtreeHeight8, SubtreeHeight16} {
		for _, keyLength := range []int{1, 4, 32} {
			n := 200
			if keyLength == 1 {
				n = 100
			}
			kvs := randomPairs(rng, n, keyLength)
			tree := newTestTree(t, keyLength, height)
			root := tree.apply(t, nil, kvs)
			require.Equal(t, refRoot(types.KVPairs(kvs).SortAndDedup(), 0), root, "height %d, key length %d", height, keyLength)
		}
	}
}

func TestDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	kvs := randomPairs(rng, 300, 32)

	// One batch.
	tree := newTestTree(t, 32, SubtreeHeight8)
	want := tree.apply(t, nil, kvs)

	// Shuffled, in several batches, on each subtree height.
	for _, height := range []SubtreeHeight{SubtreeHeight4, SubtreeHeight8, SubtreeHeight16} {
		shuffled := slices.Clone(kvs)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		tree := newTestTree(t, 32, height)
		root := EmptyHash
		for i := 0; i < len(shuffled); i += 37 {
			root = tree.apply(t, root, shuffled[i:min(i+37, len(shuffled))])
		}
		require.Equal(t, want, root, "height %d", height)
	}
}

func TestLastWriteWins(t *testing.T) {
	tree := newTestTree(t, 2, SubtreeHeight8)
	key := []byte{0xab, 0xcd}
	root := tree.apply(t, nil, []types.KVPair{
		{Key: key, Value: []byte("first")},
		{Key: key, Value: []byte("second")},
	})
	require.Equal(t, LeafHash(key, ValueHash([]byte("second"))), root)

	root = tree.apply(t, root, []types.KVPair{
		{Key: key},
		{Key: key, Value: []byte("third")},
	})
	require.Equal(t, LeafHash(key, ValueHash([]byte("third"))), root)
}

func TestDeleteAll(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	kvs := randomPairs(rng, 150, 8)
	tree := newTestTree(t, 8, SubtreeHeight4)
	root := tree.apply(t, nil, kvs)

	deletes := make([]types.KVPair, len(kvs))
	for i, kv := range kvs {
		deletes[i] = types.KVPair{Key: kv.Key}
	}
	require.Equal(t, EmptyHash, tree.apply(t, root, deletes))
}

func TestNoopUpdate(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	kvs := randomPairs(rng, 100, 32)
	tree := newTestTree(t, 32, SubtreeHeight8)
	root := tree.apply(t, nil, kvs)

	// Rewriting the same values leaves root and store untouched.
	batch := tree.db.NewBatch()
	again, err := tree.Update(root, kvs[:10], batch)
	require.NoError(t, err)
	require.Equal(t, root, again)
	require.Zero(t, batch.ValueSize())
}

func TestRevert(t *testing.T) {
	for _, height := range []SubtreeHeight{SubtreeHeight4, SubtreeHeight8, SubtreeHeight16} {
		rng := rand.New(rand.NewSource(5))
		base := randomPairs(rng, 200, 4)
		tree := newTestTree(t, 4, height)
		r1 := tree.apply(t, nil, base)

		// Modify half of the keys, delete a quarter and create some new ones.
		var (
			change []types.KVPair
			prior  []types.KVPair
		)
		for i, kv := range base[:150] {
			if i%3 == 0 {
				change = append(change, types.KVPair{Key: kv.Key})
			} else {
				change = append(change, types.KVPair{Key: kv.Key, Value: append([]byte("new"), kv.Value...)})
			}
			prior = append(prior, kv)
		}
		for _, kv := range randomPairs(rng, 50, 4) {
			if slices.ContainsFunc(base, func(b types.KVPair) bool { return bytes.Equal(b.Key, kv.Key) }) {
				continue
			}
			change = append(change, kv)
			prior = append(prior, types.KVPair{Key: kv.Key})
		}
		r2 := tree.apply(t, r1, change)
		require.NotEqual(t, r1, r2)

		reverted := tree.apply(t, r2, nil)
		require.Equal(t, r2, reverted)

		batch := tree.db.NewBatch()
		reverted, err := tree.Revert(r2, prior, batch)
		require.NoError(t, err)
		require.Equal(t, r1, reverted, "height %d", height)
	}
}

func TestUpdateOldRoot(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	kvs := randomPairs(rng, 100, 32)
	tree := newTestTree(t, 32, SubtreeHeight8)
	r1 := tree.apply(t, nil, kvs[:50])
	r2 := tree.apply(t, r1, kvs[50:])

	// Both roots stay usable as starting points.
	fromR1 := tree.apply(t, r1, kvs[50:])
	require.Equal(t, r2, fromR1)
	proof, err := tree.Prove(r1, [][]byte{kvs[0].Key, kvs[99].Key})
	require.NoError(t, err)
	require.True(t, Verify(r1, [][]byte{kvs[0].Key, kvs[99].Key}, proof, 32))
	_, included := proof.Lookup(kvs[99].Key)
	require.False(t, included)
}

func TestHeightArithmetic(t *testing.T) {
	require.Equal(t, Height(12), Height(8).Add(SubtreeHeight4.Height()))
	require.Equal(t, Height(4), Height(12).Sub(Height(8)))
	require.Panics(t, func() { Height(0xfffc).Add(SubtreeHeight8.Height()) })
	require.Panics(t, func() { Height(3).Sub(SubtreeHeight4.Height()) })
}

func TestDeepCommit(t *testing.T) {
	// Two keys differing in the last bit only hang below a full length
	// branch chain, spanning every subtree layer.
	a, b := make([]byte, 32), make([]byte, 32)
	b[31] = 0x01
	kvs := []types.KVPair{{Key: a, Value: []byte{1}}, {Key: b, Value: []byte{2}}}

	tree := newTestTree(t, 32, SubtreeHeight4)
	root := tree.apply(t, nil, kvs)
	require.Equal(t, refRoot(kvs, 0), root)

	fresh, err := New(tree.db, Config{KeyLength: 32, SubtreeHeight: SubtreeHeight4})
	require.NoError(t, err)
	proof, err := fresh.Prove(root, [][]byte{a, b})
	require.NoError(t, err)
	require.True(t, Verify(root, [][]byte{a, b}, proof, 32))
	require.Len(t, proof.Queries[0].Siblings, 1)
	require.Equal(t, uint16(256), proof.Queries[0].Height)
}

func TestMissingNode(t *testing.T) {
	tree := newTestTree(t, 32, SubtreeHeight8)
	unknown := ValueHash([]byte("unknown"))

	_, err := tree.Update(unknown, []types.KVPair{{Key: make([]byte, 32), Value: []byte{1}}}, tree.db.NewBatch())
	var missing *MissingNodeError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, unknown, missing.NodeHash)

	// Dropping a child subtree surfaces the path that led to it.
	rng := rand.New(rand.NewSource(7))
	kvs := randomPairs(rng, 500, 32)
	root := tree.apply(t, nil, kvs)

	it := tree.db.NewIterator(nil, nil)
	var victims [][]byte
	for it.Next() {
		if !bytes.HasSuffix(it.Key(), root) {
			victims = append(victims, bytes.Clone(it.Key()))
		}
	}
	it.Release()
	require.NotEmpty(t, victims)
	for _, key := range victims {
		require.NoError(t, tree.db.Delete(key))
	}
	// Pick a key sharing its first byte with another, so its path leaves
	// the root subtree.
	var deep []byte
	for i := 0; deep == nil; i++ {
		for j := range kvs {
			if j != i && kvs[i].Key[0] == kvs[j].Key[0] {
				deep = kvs[i].Key
				break
			}
		}
	}
	fresh, err := New(tree.db, tree.cfg)
	require.NoError(t, err)
	_, err = fresh.Prove(root, [][]byte{deep})
	require.True(t, errors.As(err, &missing))
	require.Equal(t, Height(8), missing.Depth)
	require.Equal(t, deep, missing.Path)
}

func TestCorruptNode(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	kvs := randomPairs(rng, 20, 32)
	tree := newTestTree(t, 32, SubtreeHeight8)
	root := tree.apply(t, nil, kvs)

	// Store another tree's root blob under this root.
	other := newTestTree(t, 32, SubtreeHeight8)
	otherRoot := other.apply(t, nil, kvs[:10])
	blob := rawdb.ReadSubtreeNode(other.db, otherRoot)
	require.NotEmpty(t, blob)
	rawdb.WriteSubtreeNode(tree.db, root, blob)

	fresh, err := New(tree.db, tree.cfg)
	require.NoError(t, err)
	_, err = fresh.Prove(root, [][]byte{kvs[0].Key})
	require.ErrorIs(t, err, ErrCorruptNode)

	rawdb.WriteSubtreeNode(tree.db, root, []byte{0xc0, 0x01})
	fresh, err = New(tree.db, tree.cfg)
	require.NoError(t, err)
	_, err = fresh.Update(root, kvs[:1], tree.db.NewBatch())
	require.ErrorIs(t, err, ErrCorruptNode)
}

func TestInMemory(t *testing.T) {
	mem, err := NewInMemory(Config{KeyLength: 4, SubtreeHeight: SubtreeHeight4})
	require.NoError(t, err)
	require.Equal(t, EmptyHash, mem.Root())

	kvs := []types.KVPair{
		{Key: []byte{0, 0, 0, 1}, Value: []byte("a")},
		{Key: []byte{0, 0, 0, 2}, Value: []byte("b")},
		{Key: []byte{0x80, 0, 0, 2}, Value: []byte("c")},
	}
	r1, err := mem.Update(kvs)
	require.NoError(t, err)
	require.Equal(t, r1, mem.Root())
	require.Equal(t, refRoot(types.KVPairs(kvs).SortAndDedup(), 0), r1)

	r2, err := mem.Update([]types.KVPair{{Key: []byte{0, 0, 0, 2}}})
	require.NoError(t, err)

	keys := [][]byte{{0, 0, 0, 1}, {0, 0, 0, 2}}
	proof, err := mem.Prove(keys)
	require.NoError(t, err)
	require.True(t, mem.Verify(r2, keys, proof))
	require.False(t, mem.Verify(r1, keys, proof))

	old, err := mem.ProveAt(r1, keys)
	require.NoError(t, err)
	require.True(t, mem.Verify(r1, keys, old))
	hash, ok := old.Lookup([]byte{0, 0, 0, 2})
	require.True(t, ok)
	require.Equal(t, ValueHash([]byte("b")), hash)
}
