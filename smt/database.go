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
	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/sunyihoo/smtstate/core/rawdb"
	"github.com/sunyihoo/smtstate/ethdb"
)

var (
	nodeReadMeter  = metrics.NewRegisteredMeter("smt/node/read", nil)
	nodeWriteMeter = metrics.NewRegisteredMeter("smt/node/write", nil)
	cacheHitMeter  = metrics.NewRegisteredMeter("smt/cache/hit", nil)
	cacheMissMeter = metrics.NewRegisteredMeter("smt/cache/miss", nil)
)

// nodeDatabase loads subtree blobs from the store through a clean cache.
type nodeDatabase struct {
	diskdb ethdb.KeyValueReader
	cleans *fastcache.Cache // GC friendly memory cache of clean subtree blobs, nil if disabled
}

func newNodeDatabase(diskdb ethdb.KeyValueReader, cacheSize int) *nodeDatabase {
	db := &nodeDatabase{diskdb: diskdb}
	if cacheSize > 0 {
		db.cleans = fastcache.New(cacheSize)
	}
	return db
}

// node retrieves the blob of the subtree with the given hash, nil if the
// store doesn't hold it.
func (db *nodeDatabase) node(hash []byte) []byte {
	if db.cleans != nil {
		if blob := db.cleans.Get(nil, hash); len(blob) > 0 {
			cacheHitMeter.Mark(1)
			return blob
		}
		cacheMissMeter.Mark(1)
	}
	blob := rawdb.ReadSubtreeNode(db.diskdb, hash)
	if len(blob) == 0 {
		return nil
	}
	nodeReadMeter.Mark(int64(len(blob)))
	if db.cleans != nil {
		db.cleans.Set(hash, blob)
	}
	return blob
}

// write queues a subtree blob into w. The clean cache is only filled on
// reads, a batch that is never written leaves no trace.
func (db *nodeDatabase) write(w ethdb.KeyValueWriter, hash []byte, blob []byte) {
	rawdb.WriteSubtreeNode(w, hash, blob)
	nodeWriteMeter.Mark(int64(len(blob)))
}
