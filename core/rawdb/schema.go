// Copyright 2018 The go-ethereum Authors
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

// Package rawdb contains a collection of low level database accessors.
package rawdb

import (
	"encoding/binary"
)

// The fields below define the low level database schema prefixing.
var (
	// currentStateKey tracks the root and version of the latest committed state.
	currentStateKey = []byte("CurrentState")

	// storeConfigKey tracks the tree parameters the store was created with.
	storeConfigKey = []byte("StoreConfig")

	// Data item prefixes (use single byte to avoid mixing data types).
	StatePrefix      = []byte("s") // StatePrefix + key -> value
	NodePrefix       = []byte("n") // NodePrefix + hash -> subtree blob
	DiffPrefix       = []byte("d") // DiffPrefix + version (uint64 big endian) -> diff record
	CheckpointPrefix = []byte("k") // CheckpointPrefix + name -> state version
)

// encodeVersion encodes a diff version as big endian uint64
func encodeVersion(version uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, version)
	return enc
}

// stateKey = StatePrefix + key
func stateKey(key []byte) []byte {
	return append(append([]byte{}, StatePrefix...), key...)
}

// nodeKey = NodePrefix + hash
func nodeKey(hash []byte) []byte {
	return append(append([]byte{}, NodePrefix...), hash...)
}

// diffKey = DiffPrefix + version (uint64 big endian)
func diffKey(version uint64) []byte {
	return append(append([]byte{}, DiffPrefix...), encodeVersion(version)...)
}

// checkpointKey = CheckpointPrefix + name
func checkpointKey(name string) []byte {
	return append(append([]byte{}, CheckpointPrefix...), name...)
}

// IsDiffKey reports whether a raw key addresses a diff record, returning the
// version it is stored under.
func IsDiffKey(key []byte) (bool, uint64) {
	if len(key) != len(DiffPrefix)+8 || string(key[:len(DiffPrefix)]) != string(DiffPrefix) {
		return false, 0
	}
	return true, binary.BigEndian.Uint64(key[len(DiffPrefix):])
}
