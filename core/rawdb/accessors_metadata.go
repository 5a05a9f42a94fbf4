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

package rawdb

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/sunyihoo/smtstate/core/types"
	"github.com/sunyihoo/smtstate/ethdb"
)

// ReadCurrentState retrieves the root and version of the latest committed
// state, nil if the store has never been committed to.
func ReadCurrentState(db ethdb.KeyValueReader) *types.StateVersion {
	return readStateVersion(db, currentStateKey)
}

// WriteCurrentState stores the root and version of the latest committed state.
func WriteCurrentState(db ethdb.KeyValueWriter, state types.StateVersion) {
	writeStateVersion(db, currentStateKey, state)
}

// ReadCheckpoint retrieves a named checkpoint, nil if unknown.
func ReadCheckpoint(db ethdb.KeyValueReader, name string) *types.StateVersion {
	return readStateVersion(db, checkpointKey(name))
}

// WriteCheckpoint stores a named checkpoint.
func WriteCheckpoint(db ethdb.KeyValueWriter, name string, state types.StateVersion) {
	writeStateVersion(db, checkpointKey(name), state)
}

// DeleteCheckpoint removes a named checkpoint.
func DeleteCheckpoint(db ethdb.KeyValueWriter, name string) {
	if err := db.Delete(checkpointKey(name)); err != nil {
		log.Crit("Failed to delete checkpoint", "name", name, "err", err)
	}
}

// ReadCheckpoints retrieves every named checkpoint.
func ReadCheckpoints(db ethdb.Iteratee) map[string]types.StateVersion {
	it := db.NewIterator(CheckpointPrefix, nil)
	defer it.Release()

	checkpoints := make(map[string]types.StateVersion)
	for it.Next() {
		var state types.StateVersion
		if err := rlp.DecodeBytes(it.Value(), &state); err != nil {
			log.Error("Invalid checkpoint RLP", "key", it.Key(), "err", err)
			continue
		}
		checkpoints[string(it.Key()[len(CheckpointPrefix):])] = state
	}
	return checkpoints
}

// ReadStoreConfig retrieves the tree parameters the store was created with.
func ReadStoreConfig(db ethdb.KeyValueReader) *types.StoreConfig {
	enc, _ := db.Get(storeConfigKey)
	if len(enc) == 0 {
		return nil
	}
	var config types.StoreConfig
	if err := rlp.DecodeBytes(enc, &config); err != nil {
		log.Error("Invalid store config RLP", "err", err)
		return nil
	}
	return &config
}

// WriteStoreConfig stores the tree parameters of the store.
func WriteStoreConfig(db ethdb.KeyValueWriter, config types.StoreConfig) {
	enc, err := rlp.EncodeToBytes(&config)
	if err != nil {
		log.Crit("Failed to RLP encode store config", "err", err)
	}
	if err := db.Put(storeConfigKey, enc); err != nil {
		log.Crit("Failed to store store config", "err", err)
	}
}

func readStateVersion(db ethdb.KeyValueReader, key []byte) *types.StateVersion {
	enc, _ := db.Get(key)
	if len(enc) == 0 {
		return nil
	}
	var state types.StateVersion
	if err := rlp.DecodeBytes(enc, &state); err != nil {
		log.Error("Invalid state version RLP", "key", string(key), "err", err)
		return nil
	}
	return &state
}

func writeStateVersion(db ethdb.KeyValueWriter, key []byte, state types.StateVersion) {
	enc, err := rlp.EncodeToBytes(&state)
	if err != nil {
		log.Crit("Failed to RLP encode state version", "err", err)
	}
	if err := db.Put(key, enc); err != nil {
		log.Crit("Failed to store state version", "key", string(key), "err", err)
	}
}
