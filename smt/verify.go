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
	"math/bits"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Verify checks that proof shows the presence or absence of every key in the
// tree with the given root. It returns false on any inconsistency, including
// proofs that do not line up with the queried keys.
func Verify(root []byte, keys [][]byte, proof *Proof, keyLength int) bool {
	if proof == nil || len(proof.Queries) != len(keys) || keyLength <= 0 || keyLength > MaxKeyLength {
		return false
	}
	if len(root) == 0 {
		root = EmptyHash
	}
	h := newHasher()
	defer returnHasherToPool(h)

	// A key queried twice must come with the same claim both times.
	var (
		queried = mapset.NewThreadUnsafeSet[string]()
		claims  = mapset.NewThreadUnsafeSet[string]()
	)
	for i, key := range keys {
		q := &proof.Queries[i]
		claim := claimID(key, q)
		if queried.Contains(string(key)) && !claims.Contains(claim) {
			return false
		}
		queried.Add(string(key))
		claims.Add(claim)

		computed, ok := foldQuery(h, key, q, keyLength)
		if !ok || !bytes.Equal(computed, root) {
			return false
		}
	}
	return true
}

// claimID identifies the full content of a query proof for key.
func claimID(key []byte, q *QueryProof) string {
	id := hexutil.Encode(key) + "/" + hexutil.Encode(q.Key) + "/" + hexutil.Encode(q.Value) + "/" + hexutil.EncodeUint64(uint64(q.Height)) + "/" + hexutil.Encode(q.Bitmap)
	for _, sib := range q.Siblings {
		id += "/" + hexutil.Encode(sib)
	}
	return id
}

// foldQuery recomputes the root implied by a query proof for key.
func foldQuery(h *hasher, key []byte, q *QueryProof, keyLength int) ([]byte, bool) {
	height := Height(q.Height)
	if len(key) != keyLength || len(q.Key) != keyLength || int(height) > keyLength*8 {
		return nil, false
	}
	if len(q.Bitmap) != (int(height)+7)/8 {
		return nil, false
	}
	var set int
	for i, b := range q.Bitmap {
		if i == len(q.Bitmap)-1 && height%8 != 0 && b&(0xff>>(height%8)) != 0 {
			return nil, false
		}
		set += bits.OnesCount8(b)
	}
	if set != len(q.Siblings) {
		return nil, false
	}
	sibling := func(level Height) bool {
		return q.Bitmap[level/8]&(0x80>>(level%8)) != 0
	}
	// Neither an empty node nor a leaf sits next to an empty sibling in a
	// canonical tree.
	if height > 0 && !sibling(height-1) {
		return nil, false
	}
	var cur []byte
	switch len(q.Value) {
	case 0:
		if !bytes.Equal(q.Key, key) {
			return nil, false
		}
		cur = EmptyHash
	case HashLength:
		for d := Height(0); d < height; d++ {
			if bit(q.Key, d) != bit(key, d) {
				return nil, false
			}
		}
		cur = h.leaf(q.Key, q.Value)
	default:
		return nil, false
	}
	next := len(q.Siblings) - 1
	for level := height; level > 0; level-- {
		sib := EmptyHash
		if sibling(level - 1) {
			sib = q.Siblings[next]
			next--
			if len(sib) != HashLength {
				return nil, false
			}
		}
		if bit(key, level-1) == 0 {
			cur = h.branch(cur, sib)
		} else {
			cur = h.branch(sib, cur)
		}
	}
	return cur, true
}
