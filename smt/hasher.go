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
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

const (
	// HashLength is the size of every node hash.
	HashLength = 32

	leafPrefix   = 0x00
	branchPrefix = 0x01
)

// EmptyHash is the hash of an empty subtree, keccak256 of nothing.
var EmptyHash = func() []byte {
	h := newHasher()
	defer returnHasherToPool(h)
	return h.sum()
}()

// hasher wraps a pooled keccak state.
type hasher struct {
	sha crypto.KeccakState
}

var hasherPool = sync.Pool{
	New: func() interface{} {
		return &hasher{
			sha: sha3.NewLegacyKeccak256().(crypto.KeccakState),
		}
	},
}

func newHasher() *hasher {
	h := hasherPool.Get().(*hasher)
	h.sha.Reset()
	return h
}

func returnHasherToPool(h *hasher) {
	hasherPool.Put(h)
}

// sum hashes the concatenation of the given byte slices.
func (h *hasher) sum(parts ...[]byte) []byte {
	h.sha.Reset()
	for _, p := range parts {
		h.sha.Write(p)
	}
	out := make([]byte, HashLength)
	h.sha.Read(out)
	return out
}

// leaf computes H(0x00 || key || valueHash).
func (h *hasher) leaf(key, valueHash []byte) []byte {
	return h.sum([]byte{leafPrefix}, key, valueHash)
}

// branch computes H(0x01 || left || right).
func (h *hasher) branch(left, right []byte) []byte {
	return h.sum([]byte{branchPrefix}, left, right)
}

// ValueHash returns the hash a value is committed to in the tree.
func ValueHash(value []byte) []byte {
	h := newHasher()
	defer returnHasherToPool(h)
	return h.sum(value)
}

// LeafHash returns the hash of a leaf holding key with the given value hash.
func LeafHash(key, valueHash []byte) []byte {
	h := newHasher()
	defer returnHasherToPool(h)
	return h.leaf(key, valueHash)
}

// BranchHash returns the hash of an internal node with the given children.
func BranchHash(left, right []byte) []byte {
	h := newHasher()
	defer returnHasherToPool(h)
	return h.branch(left, right)
}
