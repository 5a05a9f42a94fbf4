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
	"runtime"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/sync/errgroup"
)

// proofVersion prefixes every encoded proof.
const proofVersion byte = 1

// parallelProofThreshold is the number of queried keys above which proofs
// are collected concurrently.
const parallelProofThreshold = 16

// QueryProof is the evidence for one queried key. The terminal node is the
// node the path of the key ends at: a leaf holding the key itself, a leaf
// holding another key sharing the path, or an empty node.
type QueryProof struct {
	Key      []byte   // Key of the terminal leaf, the queried key for an empty terminal
	Value    []byte   // Value hash of the terminal leaf, empty for an empty terminal
	Height   uint16   // Depth of the terminal node
	Bitmap   []byte   // Bit i set if the sibling met below depth i is not empty
	Siblings [][]byte // Non-empty sibling hashes from the root downwards
}

// Included reports whether the proof shows key to be present.
func (q *QueryProof) Included(key []byte) bool {
	return len(q.Value) != 0 && bytes.Equal(q.Key, key)
}

// Proof bundles the evidence for a list of queried keys, in query order.
type Proof struct {
	Queries []QueryProof
}

// Lookup returns the value hash the proof claims for key, if any.
func (p *Proof) Lookup(key []byte) ([]byte, bool) {
	for i := range p.Queries {
		if p.Queries[i].Included(key) {
			return p.Queries[i].Value, true
		}
	}
	return nil, false
}

// Encode serializes the proof.
func (p *Proof) Encode() []byte {
	enc, err := rlp.EncodeToBytes(p)
	if err != nil {
		panic(fmt.Sprintf("failed to encode proof: %v", err))
	}
	return append([]byte{proofVersion}, enc...)
}

// DecodeProof parses an encoded proof and checks the shape of its fields.
// Whether the proof holds for a root is left to Verify.
func DecodeProof(data []byte) (*Proof, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedProof)
	}
	if data[0] != proofVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrMalformedProof, data[0])
	}
	proof := new(Proof)
	if err := rlp.DecodeBytes(data[1:], proof); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	for i, q := range proof.Queries {
		if len(q.Value) != 0 && len(q.Value) != HashLength {
			return nil, fmt.Errorf("%w: query %d: value hash of %d bytes", ErrMalformedProof, i, len(q.Value))
		}
		for j, sib := range q.Siblings {
			if len(sib) != HashLength {
				return nil, fmt.Errorf("%w: query %d: sibling %d of %d bytes", ErrMalformedProof, i, j, len(sib))
			}
		}
	}
	return proof, nil
}

// Prove collects the evidence for keys against the tree with the given root.
// Absent keys are proven by the terminal node their path ends at.
func (t *Tree) Prove(root []byte, keys [][]byte) (*Proof, error) {
	for _, key := range keys {
		if len(key) != t.cfg.KeyLength {
			return nil, fmt.Errorf("%w: have %d bytes, want %d", ErrKeyLength, len(key), t.cfg.KeyLength)
		}
	}
	h := newHasher()
	top, err := t.resolveRoot(h, root)
	returnHasherToPool(h)
	if err != nil {
		return nil, err
	}
	proof := &Proof{Queries: make([]QueryProof, len(keys))}
	if len(keys) <= parallelProofThreshold {
		for i, key := range keys {
			if err := t.prove(top, key, &proof.Queries[i]); err != nil {
				return nil, err
			}
		}
		return proof, nil
	}
	// The resolved top carries all of its hashes, so the walks below only
	// read it. Child subtrees are decoded separately by every walk.
	var workers errgroup.Group
	workers.SetLimit(runtime.NumCPU())
	for i, key := range keys {
		workers.Go(func() error {
			return t.prove(top, key, &proof.Queries[i])
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, err
	}
	return proof, nil
}

// prove walks from n down the path of key and fills q.
func (t *Tree) prove(n node, key []byte, q *QueryProof) error {
	h := newHasher()
	defer returnHasherToPool(h)

	var depth Height
	for {
		switch cur := n.(type) {
		case nil:
			q.Key, q.Value = common.CopyBytes(key), nil
			q.Height = uint16(depth)
			return nil

		case *leafNode:
			q.Key, q.Value = common.CopyBytes(cur.key), common.CopyBytes(cur.valueHash)
			q.Height = uint16(depth)
			return nil

		case *hashNode:
			branch, err := t.resolve(h, cur, depth, key)
			if err != nil {
				return err
			}
			n = branch

		case *branchNode:
			child, sibling := cur.left, cur.right
			if bit(key, depth) == 1 {
				child, sibling = cur.right, cur.left
			}
			if depth%8 == 0 {
				q.Bitmap = append(q.Bitmap, 0)
			}
			if sibling != nil {
				q.Bitmap[depth/8] |= 0x80 >> (depth % 8)
				q.Siblings = append(q.Siblings, common.CopyBytes(hashOf(h, sibling)))
			}
			n, depth = child, depth.Add(1)
		}
	}
}
