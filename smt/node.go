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
)

// node is one of:
//
//	nil         - empty subtree
//	*leafNode   - a single key, lifted as high as the canonical form allows
//	*branchNode - an internal node with two children, at least one not a leaf
//	*hashNode   - a stored child subtree that has not been resolved yet
type node interface {
	fstring(string) string
}

type (
	leafNode struct {
		key       []byte
		valueHash []byte
		hash      []byte // cached leaf hash
		dirty     bool   // created since the node was loaded
	}
	branchNode struct {
		left, right node
		hash        []byte // cached branch hash, nil until computed
		dirty       bool
	}
	hashNode struct {
		hash []byte
	}
)

func (n *leafNode) String() string   { return n.fstring("") }
func (n *branchNode) String() string { return n.fstring("") }
func (n *hashNode) String() string   { return n.fstring("") }

func (n *leafNode) fstring(ind string) string {
	return fmt.Sprintf("<%x: %x> ", n.key, n.valueHash)
}

func (n *branchNode) fstring(ind string) string {
	return fmt.Sprintf("[\n%s  0: %s\n%s  1: %s\n%s] ", ind, fstring(n.left, ind+"  "), ind, fstring(n.right, ind+"  "), ind)
}

func (n *hashNode) fstring(ind string) string {
	return fmt.Sprintf("<%x> ", n.hash)
}

func fstring(n node, ind string) string {
	if n == nil {
		return "<nil> "
	}
	return n.fstring(ind)
}

// hashOf returns the hash of n, filling in the caches of every node on the
// way. Cached hashes make a resolved tree safe for concurrent reads.
func hashOf(h *hasher, n node) []byte {
	switch n := n.(type) {
	case nil:
		return EmptyHash
	case *leafNode:
		if n.hash == nil {
			n.hash = h.leaf(n.key, n.valueHash)
		}
		return n.hash
	case *branchNode:
		if n.hash == nil {
			n.hash = h.branch(hashOf(h, n.left), hashOf(h, n.right))
		}
		return n.hash
	case *hashNode:
		return n.hash
	default:
		panic(fmt.Sprintf("%T: invalid node: %v", n, n))
	}
}

// join assembles two children into their canonical parent: two empty
// children collapse into an empty node and a lone leaf is lifted.
func join(left, right node) node {
	switch {
	case left == nil && right == nil:
		return nil
	case right == nil:
		if _, ok := left.(*leafNode); ok {
			return left
		}
	case left == nil:
		if _, ok := right.(*leafNode); ok {
			return right
		}
	}
	return &branchNode{left: left, right: right, dirty: true}
}

// isCanonical reports whether a branch with these children is allowed to exist.
func isCanonical(left, right node) bool {
	switch {
	case left == nil && right == nil:
		return false
	case right == nil:
		_, leaf := left.(*leafNode)
		return !leaf
	case left == nil:
		_, leaf := right.(*leafNode)
		return !leaf
	}
	return true
}

// entry is a pending write to the tree, a nil valueHash deletes the key.
type entry struct {
	key       []byte
	valueHash []byte
}

// split partitions key-ordered entries by their bit at depth. Ordering makes
// every key with a zero bit precede every key with a one bit.
func split(entries []entry, depth Height) (left, right []entry) {
	i := 0
	for i < len(entries) && bit(entries[i].key, depth) == 0 {
		i++
	}
	return entries[:i], entries[i:]
}

// live filters out deletions.
func live(entries []entry) []entry {
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		if e.valueHash != nil {
			out = append(out, e)
		}
	}
	return out
}

// build creates the canonical subtree holding the given live, key-ordered
// and distinct entries below depth.
func build(entries []entry, depth Height) node {
	switch len(entries) {
	case 0:
		return nil
	case 1:
		return &leafNode{key: entries[0].key, valueHash: entries[0].valueHash, dirty: true}
	}
	left, right := split(entries, depth)
	return join(build(left, depth+1), build(right, depth+1))
}

// mergeLeaf folds an existing leaf into the pending entries unless one of
// them already addresses its key.
func mergeLeaf(n *leafNode, entries []entry) []entry {
	for i, e := range entries {
		switch bytes.Compare(e.key, n.key) {
		case 0:
			return entries
		case 1:
			out := make([]entry, 0, len(entries)+1)
			out = append(out, entries[:i]...)
			out = append(out, entry{key: n.key, valueHash: n.valueHash})
			return append(out, entries[i:]...)
		}
	}
	return append(entries[:len(entries):len(entries)], entry{key: n.key, valueHash: n.valueHash})
}
