// Copyright 2020 The go-ethereum Authors
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

package rawdb

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/sunyihoo/smtstate/ethdb"
)

// ReadState retrieves the committed value of a state key, nil if absent.
func ReadState(db ethdb.KeyValueReader, key []byte) []byte {
	data, _ := db.Get(stateKey(key))
	return data
}

// HasState checks whether a state key has a committed value.
func HasState(db ethdb.KeyValueReader, key []byte) bool {
	ok, _ := db.Has(stateKey(key))
	return ok
}

// WriteState writes a committed state value.
func WriteState(db ethdb.KeyValueWriter, key []byte, value []byte) {
	if err := db.Put(stateKey(key), value); err != nil {
		log.Crit("Failed to store state entry", "err", err)
	}
}

// ReadSubtreeNode retrieves the encoded subtree stored under the given hash.
func ReadSubtreeNode(db ethdb.KeyValueReader, hash []byte) []byte {
	data, _ := db.Get(nodeKey(hash))
	return data
}

// HasSubtreeNode checks if the subtree with the provided hash is present in db.
func HasSubtreeNode(db ethdb.KeyValueReader, hash []byte) bool {
	ok, _ := db.Has(nodeKey(hash))
	return ok
}

// WriteSubtreeNode writes an encoded subtree under its hash.
func WriteSubtreeNode(db ethdb.KeyValueWriter, hash []byte, blob []byte) {
	if err := db.Put(nodeKey(hash), blob); err != nil {
		log.Crit("Failed to store subtree node", "err", err)
	}
}

// DeleteSubtreeNode deletes the subtree with the provided hash.
func DeleteSubtreeNode(db ethdb.KeyValueWriter, hash []byte) {
	if err := db.Delete(nodeKey(hash)); err != nil {
		log.Crit("Failed to delete subtree node", "err", err)
	}
}
