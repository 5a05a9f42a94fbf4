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
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/rlp"
)

// subtreeBlob is the persisted form of the top SubtreeHeight levels below a
// subtree root. The bottom nodes of the subtree are listed left to right.
type subtreeBlob struct {
	Structure []byte   // Height of each bottom node relative to the subtree root
	Bitmap    []byte   // Bit i set if bottom node i is not empty
	Nodes     [][]byte // Encodings of the non-empty bottom nodes
}

// subtreeEncoder flattens an in-memory subtree into a blob.
type subtreeEncoder struct {
	height Height
	blob   subtreeBlob
	h      *hasher

	// child is invoked on every branch sitting on the bottom boundary before
	// its stub is emitted, so child subtrees are stored before their parents.
	child func(n *branchNode) error
}

func (e *subtreeEncoder) add(rel Height, enc []byte) {
	idx := len(e.blob.Structure)
	e.blob.Structure = append(e.blob.Structure, byte(rel))
	if idx/8 >= len(e.blob.Bitmap) {
		e.blob.Bitmap = append(e.blob.Bitmap, 0)
	}
	if enc != nil {
		e.blob.Bitmap[idx/8] |= 0x80 >> (idx % 8)
		e.blob.Nodes = append(e.blob.Nodes, enc)
	}
}

func (e *subtreeEncoder) collect(n node, rel Height) error {
	switch n := n.(type) {
	case nil:
		e.add(rel, nil)
	case *leafNode:
		enc := make([]byte, 0, 1+len(n.key)+len(n.valueHash))
		enc = append(enc, leafPrefix)
		enc = append(enc, n.key...)
		e.add(rel, append(enc, n.valueHash...))
	case *hashNode:
		if rel != e.height {
			panic(fmt.Sprintf("unresolved subtree at relative height %d", rel))
		}
		e.add(rel, append([]byte{branchPrefix}, n.hash...))
	case *branchNode:
		if rel < e.height {
			if err := e.collect(n.left, rel+1); err != nil {
				return err
			}
			return e.collect(n.right, rel+1)
		}
		if err := e.child(n); err != nil {
			return err
		}
		e.add(rel, append([]byte{branchPrefix}, hashOf(e.h, n)...))
	}
	return nil
}

// encodeSubtree serializes the subtree rooted at n.
func encodeSubtree(h *hasher, n node, height SubtreeHeight, child func(*branchNode) error) ([]byte, error) {
	e := &subtreeEncoder{height: height.Height(), h: h, child: child}
	if err := e.collect(n, 0); err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&e.blob)
}

// subtreeDecoder rebuilds the node structure of a blob.
type subtreeDecoder struct {
	cfg   Config
	depth Height
	blob  subtreeBlob

	idx  int               // next entry of Structure
	node int               // next entry of Nodes
	pos  StructurePosition // bottom row offset of the next node
}

func corrupt(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorruptNode, fmt.Sprintf(format, args...))
}

func (d *subtreeDecoder) present(idx int) bool {
	return d.blob.Bitmap[idx/8]&(0x80>>(idx%8)) != 0
}

func (d *subtreeDecoder) parse(rel Height) (node, error) {
	s := d.cfg.SubtreeHeight
	if d.idx >= len(d.blob.Structure) {
		return nil, corrupt("structure truncated")
	}
	h := Height(d.blob.Structure[d.idx])
	if h > s.Height() || d.depth+h > d.cfg.MaxHeight() {
		return nil, corrupt("bottom height %d out of range at depth %d", h, d.depth)
	}
	if h < rel {
		return nil, corrupt("bottom height %d above its parent %d", h, rel)
	}
	if h > rel {
		if d.depth+rel >= d.cfg.MaxHeight() {
			return nil, corrupt("branch below maximum height")
		}
		left, err := d.parse(rel + 1)
		if err != nil {
			return nil, err
		}
		right, err := d.parse(rel + 1)
		if err != nil {
			return nil, err
		}
		if !isCanonical(left, right) {
			return nil, corrupt("non-canonical branch at relative height %d", rel)
		}
		return &branchNode{left: left, right: right}, nil
	}
	// Bottom node, check its placement in the bottom row first.
	span := s.Span(h)
	if !d.pos.Aligned(span) || d.pos+span > s.Width() {
		return nil, corrupt("position %d not aligned to span %d", d.pos, span)
	}
	d.pos = d.pos.Advance(s, span)
	idx := d.idx
	d.idx++
	if !d.present(idx) {
		return nil, nil
	}
	if d.node >= len(d.blob.Nodes) {
		return nil, corrupt("missing bottom node %d", idx)
	}
	enc := d.blob.Nodes[d.node]
	d.node++
	if len(enc) == 0 {
		return nil, corrupt("empty bottom node %d", idx)
	}
	switch enc[0] {
	case leafPrefix:
		if len(enc) != 1+d.cfg.KeyLength+HashLength {
			return nil, corrupt("leaf of size %d", len(enc))
		}
		return &leafNode{
			key:       enc[1 : 1+d.cfg.KeyLength],
			valueHash: enc[1+d.cfg.KeyLength:],
		}, nil
	case branchPrefix:
		if len(enc) != 1+HashLength || h != s.Height() {
			return nil, corrupt("subtree reference of size %d at relative height %d", len(enc), h)
		}
		return &hashNode{hash: enc[1:]}, nil
	}
	return nil, corrupt("unknown node type %#x", enc[0])
}

// decodeSubtree parses a blob stored under hash for the subtree rooted at
// depth. The result is verified against the hash and every node in it carries
// its cached hash.
func decodeSubtree(h *hasher, cfg Config, hash []byte, depth Height, data []byte) (node, error) {
	d := &subtreeDecoder{cfg: cfg, depth: depth}
	if err := rlp.DecodeBytes(data, &d.blob); err != nil {
		return nil, corrupt("%v", err)
	}
	if len(d.blob.Bitmap) != (len(d.blob.Structure)+7)/8 {
		return nil, corrupt("bitmap of %d bytes for %d bottom nodes", len(d.blob.Bitmap), len(d.blob.Structure))
	}
	var set int
	for _, b := range d.blob.Bitmap {
		set += bits.OnesCount8(b)
	}
	if set != len(d.blob.Nodes) {
		return nil, corrupt("bitmap marks %d nodes, %d present", set, len(d.blob.Nodes))
	}
	n, err := d.parse(0)
	if err != nil {
		return nil, err
	}
	if d.idx != len(d.blob.Structure) || d.node != len(d.blob.Nodes) || d.pos != cfg.SubtreeHeight.Width() {
		return nil, corrupt("structure covers %d of %d positions", d.pos, cfg.SubtreeHeight.Width())
	}
	if n == nil {
		return nil, corrupt("empty subtree")
	}
	if got := hashOf(h, n); string(got) != string(hash) {
		return nil, corrupt("hash mismatch: have %x, want %x", got, hash)
	}
	return n, nil
}
