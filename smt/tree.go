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
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/sunyihoo/smtstate/core/types"
	"github.com/sunyihoo/smtstate/ethdb"
)

// Tree is a sparse Merkle tree over fixed-length keys. It holds no root of
// its own: every operation starts from the root handed in by the caller,
// and new nodes are written into the writer the caller provides. A Tree is
// safe for concurrent use.
type Tree struct {
	cfg Config
	db  *nodeDatabase
}

// New creates a tree reading its nodes from db.
func New(db ethdb.KeyValueReader, cfg Config) (*Tree, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tree{cfg: cfg, db: newNodeDatabase(db, cfg.CleanCacheSize)}, nil
}

// Config returns the parameters of the tree.
func (t *Tree) Config() Config {
	return t.cfg
}

// Update applies a batch of writes to the tree identified by root and returns
// the new root. Pairs with an empty value delete their key, a later pair
// overrides an earlier one for the same key. The subtrees created along the
// way are written to w, untouched subtrees are never loaded.
func (t *Tree) Update(root []byte, kvs []types.KVPair, w ethdb.KeyValueWriter) ([]byte, error) {
	start := time.Now()

	entries, err := t.entries(kvs)
	if err != nil {
		return nil, err
	}
	h := newHasher()
	defer returnHasherToPool(h)

	n, err := t.resolveRoot(h, root)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		if n, err = t.update(h, n, 0, entries); err != nil {
			return nil, err
		}
	}
	newRoot := hashOf(h, n)
	if !bytes.Equal(newRoot, root) {
		if err := t.commit(h, n, 0, true, w); err != nil {
			return nil, err
		}
	}
	log.Debug("Updated sparse merkle tree", "keys", len(entries), "root", common.Bytes2Hex(newRoot), "elapsed", common.PrettyDuration(time.Since(start)))
	return newRoot, nil
}

// Revert undoes an update by writing the values the keys held before it,
// empty for keys the update created. Since the tree shape only depends on its
// content, the result is exactly the root the update started from.
func (t *Tree) Revert(root []byte, prior []types.KVPair, w ethdb.KeyValueWriter) ([]byte, error) {
	return t.Update(root, prior, w)
}

// entries validates, orders and hashes a batch of writes.
func (t *Tree) entries(kvs []types.KVPair) ([]entry, error) {
	sorted := types.KVPairs(kvs).SortAndDedup()
	entries := make([]entry, len(sorted))
	for i, kv := range sorted {
		if len(kv.Key) != t.cfg.KeyLength {
			return nil, fmt.Errorf("%w: have %d bytes, want %d", ErrKeyLength, len(kv.Key), t.cfg.KeyLength)
		}
		entries[i].key = kv.Key
		if !kv.IsDeletion() {
			entries[i].valueHash = ValueHash(kv.Value)
		}
	}
	return entries, nil
}

// resolveRoot loads the top subtree of the tree with the given root.
func (t *Tree) resolveRoot(h *hasher, root []byte) (node, error) {
	if len(root) == 0 || bytes.Equal(root, EmptyHash) {
		return nil, nil
	}
	blob := t.db.node(root)
	if blob == nil {
		return nil, &MissingNodeError{NodeHash: common.CopyBytes(root)}
	}
	return decodeSubtree(h, t.cfg, root, 0, blob)
}

// resolve loads the child subtree referenced by n at the given depth.
func (t *Tree) resolve(h *hasher, n *hashNode, depth Height, path []byte) (*branchNode, error) {
	blob := t.db.node(n.hash)
	if blob == nil {
		return nil, &MissingNodeError{NodeHash: common.CopyBytes(n.hash), Depth: depth, Path: common.CopyBytes(path)}
	}
	decoded, err := decodeSubtree(h, t.cfg, n.hash, depth, blob)
	if err != nil {
		return nil, err
	}
	branch, ok := decoded.(*branchNode)
	if !ok {
		return nil, corrupt("subtree %x at depth %d is not a branch", n.hash, depth)
	}
	return branch, nil
}

// update applies the non-empty, key-ordered entries below depth to n. The
// original node is returned when nothing changed.
func (t *Tree) update(h *hasher, n node, depth Height, entries []entry) (node, error) {
	switch n := n.(type) {
	case nil:
		return build(live(entries), depth), nil

	case *leafNode:
		merged := live(mergeLeaf(n, entries))
		if len(merged) == 1 && bytes.Equal(merged[0].key, n.key) && bytes.Equal(merged[0].valueHash, n.valueHash) {
			return n, nil
		}
		return build(merged, depth), nil

	case *hashNode:
		branch, err := t.resolve(h, n, depth, entries[0].key)
		if err != nil {
			return nil, err
		}
		updated, err := t.update(h, branch, depth, entries)
		if err != nil {
			return nil, err
		}
		if updated == node(branch) {
			return n, nil
		}
		return updated, nil

	case *branchNode:
		var (
			left, right = n.left, n.right
			err         error
		)
		l, r := split(entries, depth)
		if len(l) > 0 {
			if left, err = t.update(h, n.left, depth+1, l); err != nil {
				return nil, err
			}
		}
		if len(r) > 0 {
			if right, err = t.update(h, n.right, depth+1, r); err != nil {
				return nil, err
			}
		}
		if left == n.left && right == n.right {
			return n, nil
		}
		return join(left, right), nil

	default:
		panic(fmt.Sprintf("%T: invalid node: %v", n, n))
	}
}

// commit writes every subtree that changed below n into w. Only nodes on the
// subtree boundaries are visited as subtree roots, and children are written
// before their parents. A leaf at the top of the tree is stored on its own,
// since its hash is the only handle to it.
func (t *Tree) commit(h *hasher, n node, depth Height, top bool, w ethdb.KeyValueWriter) error {
	switch n := n.(type) {
	case nil, *hashNode:
		return nil
	case *leafNode:
		if !top {
			return nil
		}
	case *branchNode:
		if !n.dirty {
			return nil
		}
	}
	blob, err := encodeSubtree(h, n, t.cfg.SubtreeHeight, func(child *branchNode) error {
		return t.commit(h, child, depth.Add(t.cfg.SubtreeHeight.Height()), false, w)
	})
	if err != nil {
		return err
	}
	t.db.write(w, hashOf(h, n), blob)
	return nil
}
