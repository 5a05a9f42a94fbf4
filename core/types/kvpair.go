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

// Package types contains the data types shared by the state store layers.
package types

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
)

// ErrCodec is returned when stored bytes cannot be decoded into the expected
// structure. It signals data corruption and is never retried.
var ErrCodec = errors.New("malformed encoding")

// KVPair is a single key and its value. An empty value stands for a deletion
// wherever pairs are fed into the tree.
type KVPair struct {
	Key   []byte
	Value []byte
}

// NewKVPair creates a pair owning copies of the given slices.
func NewKVPair(key, value []byte) KVPair {
	return KVPair{Key: common.CopyBytes(key), Value: common.CopyBytes(value)}
}

// IsDeletion reports whether the pair removes its key.
func (kv KVPair) IsDeletion() bool {
	return len(kv.Value) == 0
}

// String implements fmt.Stringer.
func (kv KVPair) String() string {
	return fmt.Sprintf("%x=%x", kv.Key, kv.Value)
}

// KVPairs is a list of pairs, sortable by key.
type KVPairs []KVPair

func (p KVPairs) Len() int           { return len(p) }
func (p KVPairs) Less(i, j int) bool { return bytes.Compare(p[i].Key, p[j].Key) < 0 }
func (p KVPairs) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }

// Keys returns the keys of the list in their current order.
func (p KVPairs) Keys() [][]byte {
	keys := make([][]byte, len(p))
	for i, kv := range p {
		keys[i] = kv.Key
	}
	return keys
}

// SortAndDedup returns a key-ordered copy of the list where every key appears
// once. Later entries override earlier ones.
func (p KVPairs) SortAndDedup() KVPairs {
	out := make(KVPairs, len(p))
	copy(out, p)
	slices.SortStableFunc(out, func(a, b KVPair) int { return bytes.Compare(a.Key, b.Key) })

	n := 0
	for i := range out {
		if n > 0 && bytes.Equal(out[n-1].Key, out[i].Key) {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}
