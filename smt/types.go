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

// Package smt implements a sparse Merkle tree whose nodes are persisted in
// fixed-height subtrees, together with inclusion and exclusion proofs.
package smt

import (
	"fmt"
	"math/bits"
)

const (
	// MaxKeyLength is the longest supported key in bytes. The tree depth,
	// KeyLength*8, has to fit into a Height.
	MaxKeyLength = 8191

	// DefaultSubtreeHeight is the subtree height used when none is configured.
	DefaultSubtreeHeight = SubtreeHeight8
)

// Height is a depth in the tree, counted in levels from the root.
type Height uint16

// Add returns h+d, panicking on overflow.
func (h Height) Add(d Height) Height {
	sum := h + d
	if sum < h {
		panic(fmt.Sprintf("height overflow: %d + %d", h, d))
	}
	return sum
}

// Sub returns h-d, panicking on underflow.
func (h Height) Sub(d Height) Height {
	if d > h {
		panic(fmt.Sprintf("height underflow: %d - %d", h, d))
	}
	return h - d
}

// SubtreeHeight is the number of tree levels stored together in one node blob.
type SubtreeHeight uint8

const (
	SubtreeHeight4  SubtreeHeight = 4
	SubtreeHeight8  SubtreeHeight = 8
	SubtreeHeight16 SubtreeHeight = 16
)

// Valid reports whether the subtree height is one of the supported values.
func (s SubtreeHeight) Valid() bool {
	return s == SubtreeHeight4 || s == SubtreeHeight8 || s == SubtreeHeight16
}

// Height converts the subtree height into a level count.
func (s SubtreeHeight) Height() Height {
	s.mustValid()
	return Height(s)
}

// Width is the number of bottom positions of a full subtree, 2^s.
func (s SubtreeHeight) Width() StructurePosition {
	s.mustValid()
	return StructurePosition(1) << s
}

// Span converts a height relative to the subtree root into the number of
// bottom positions a node at that height covers.
func (s SubtreeHeight) Span(rel Height) StructurePosition {
	if rel > s.Height() {
		panic(fmt.Sprintf("relative height %d exceeds subtree height %d", rel, s))
	}
	return StructurePosition(1) << (Height(s) - rel)
}

// HeightOf is the inverse of Span.
func (s SubtreeHeight) HeightOf(span StructurePosition) Height {
	if span == 0 || span > s.Width() || span&(span-1) != 0 {
		panic(fmt.Sprintf("invalid span %d for subtree height %d", span, s))
	}
	return Height(s) - Height(bits.TrailingZeros32(uint32(span)))
}

func (s SubtreeHeight) mustValid() {
	if !s.Valid() {
		panic(fmt.Sprintf("invalid subtree height %d", s))
	}
}

// StructurePosition is an offset along the bottom row of a subtree, ranging
// over 0..2^SubtreeHeight.
type StructurePosition uint32

// Advance moves the position past a node covering span positions. The
// position must be aligned to the span and stay within the subtree.
func (p StructurePosition) Advance(s SubtreeHeight, span StructurePosition) StructurePosition {
	if !p.Aligned(span) {
		panic(fmt.Sprintf("position %d not aligned to span %d", p, span))
	}
	next := p + span
	if next > s.Width() {
		panic(fmt.Sprintf("position %d beyond subtree width %d", next, s.Width()))
	}
	return next
}

// Aligned reports whether a node covering span positions may start at p.
func (p StructurePosition) Aligned(span StructurePosition) bool {
	return span != 0 && p%span == 0
}

// Config holds the immutable parameters of a tree.
type Config struct {
	KeyLength      int           // Length of every key in bytes
	SubtreeHeight  SubtreeHeight // Levels stored per node blob
	CleanCacheSize int           // Maximum memory in bytes used for caching clean node blobs
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.KeyLength <= 0 || c.KeyLength > MaxKeyLength {
		return fmt.Errorf("%w: key length %d out of range [1, %d]", ErrInvalidConfig, c.KeyLength, MaxKeyLength)
	}
	if !c.SubtreeHeight.Valid() {
		return fmt.Errorf("%w: subtree height %d not in {4, 8, 16}", ErrInvalidConfig, c.SubtreeHeight)
	}
	return nil
}

// MaxHeight is the depth of the tree, KeyLength*8.
func (c Config) MaxHeight() Height {
	return Height(c.KeyLength * 8)
}

// bit returns the bit of key selecting the child at the given depth.
func bit(key []byte, depth Height) byte {
	return (key[depth/8] >> (7 - depth%8)) & 1
}
