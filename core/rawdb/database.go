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
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/olekukonko/tablewriter"
	"github.com/sunyihoo/smtstate/ethdb"
	"github.com/sunyihoo/smtstate/ethdb/leveldb"
	"github.com/sunyihoo/smtstate/ethdb/memorydb"
	"github.com/sunyihoo/smtstate/ethdb/pebble"
)

const (
	DBPebble  = "pebble"
	DBLeveldb = "leveldb"
	DBRocksdb = "rocksdb"
	DBMemory  = "memory"
)

// OpenOptions contains the options to apply when opening a database.
type OpenOptions struct {
	Type      string // Engine name, empty to detect or default to pebble
	Directory string // Database directory, ignored by the memory engine
	Namespace string // Metrics namespace
	Cache     int    // Cache allowance in megabytes
	Handles   int    // Open file handle allowance
	ReadOnly  bool
}

// Open opens a key-value database with the requested engine.
//
//	                      type == null          type != null
//	                   +----------------------------------------
//	db is non-existent |  pebble default  |  specified type
//	db is existent     |  from db         |  specified type (if compatible)
func Open(o OpenOptions) (ethdb.Database, error) {
	switch o.Type {
	case "", DBPebble, DBLeveldb, DBRocksdb:
	case DBMemory:
		log.Info("Using an in-memory database")
		return NewMemoryDatabase(), nil
	default:
		return nil, fmt.Errorf("unknown db.engine %v", o.Type)
	}
	existingDb := PreexistingDatabase(o.Directory)
	if len(existingDb) != 0 && len(o.Type) != 0 && o.Type != existingDb {
		return nil, fmt.Errorf("db.engine choice was %v but found pre-existing %v database in specified data directory", o.Type, existingDb)
	}
	kind := o.Type
	if kind == "" {
		kind = existingDb
	}
	switch kind {
	case DBLeveldb:
		log.Info("Using leveldb as the backing database")
		db, err := leveldb.New(o.Directory, o.Cache, o.Handles, o.Namespace, o.ReadOnly)
		if err != nil {
			return nil, err
		}
		return db, nil
	case DBRocksdb:
		log.Info("Using rocksdb as the backing database")
		return openRocksDB(o)
	case DBPebble:
		log.Info("Using pebble as the backing database")
	default:
		log.Info("Defaulting to pebble as the backing database")
	}
	db, err := pebble.New(o.Directory, o.Cache, o.Handles, o.Namespace, o.ReadOnly)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// NewMemoryDatabase creates an ephemeral in-memory key-value database.
func NewMemoryDatabase() ethdb.Database {
	return memorydb.New()
}

// PreexistingDatabase checks the given data directory whether a database is already
// instantiated at that location, and if so, returns the type of database (or the
// empty string).
func PreexistingDatabase(path string) string {
	if _, err := os.Stat(filepath.Join(path, "CURRENT")); err != nil {
		return ""
	}
	if matches, _ := filepath.Glob(filepath.Join(path, "OPTIONS*")); len(matches) > 0 {
		// Both pebble and rocksdb write OPTIONS files, rocksdb also leaves
		// an IDENTITY file behind.
		if _, err := os.Stat(filepath.Join(path, "IDENTITY")); err == nil {
			return DBRocksdb
		}
		return DBPebble
	}
	return DBLeveldb
}

// stat stores sizes and count for a parameter
type stat struct {
	size  common.StorageSize
	count uint64
}

// Add size to the stat and increase the counter by 1
func (s *stat) Add(size common.StorageSize) {
	s.size += size
	s.count++
}

func (s *stat) Size() string {
	return s.size.String()
}

func (s *stat) Count() string {
	return fmt.Sprintf("%d", s.count)
}

// InspectDatabase traverses the entire database and writes the size of every
// data category as a table to out.
func InspectDatabase(db ethdb.Iteratee, out io.Writer) error {
	it := db.NewIterator(nil, nil)
	defer it.Release()

	var (
		count  int64
		start  = time.Now()
		logged = time.Now()

		states      stat
		nodes       stat
		diffs       stat
		checkpoints stat
		metadata    stat
		unaccounted stat

		total common.StorageSize
	)
	for it.Next() {
		var (
			key  = it.Key()
			size = common.StorageSize(len(key) + len(it.Value()))
		)
		total += size
		switch {
		case bytes.HasPrefix(key, StatePrefix):
			states.Add(size)
		case bytes.HasPrefix(key, NodePrefix):
			nodes.Add(size)
		case bytes.HasPrefix(key, DiffPrefix) && len(key) == len(DiffPrefix)+8:
			diffs.Add(size)
		case bytes.HasPrefix(key, CheckpointPrefix):
			checkpoints.Add(size)
		case bytes.Equal(key, currentStateKey), bytes.Equal(key, storeConfigKey):
			metadata.Add(size)
		default:
			unaccounted.Add(size)
		}
		count++
		if count%1000 == 0 && time.Since(logged) > 8*time.Second {
			log.Info("Inspecting database", "count", count, "elapsed", common.PrettyDuration(time.Since(start)))
			logged = time.Now()
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	stats := [][]string{
		{"Key-Value store", "State entries", states.Size(), states.Count()},
		{"Key-Value store", "Subtree nodes", nodes.Size(), nodes.Count()},
		{"Key-Value store", "State diffs", diffs.Size(), diffs.Count()},
		{"Key-Value store", "Checkpoints", checkpoints.Size(), checkpoints.Count()},
		{"Key-Value store", "Singleton metadata", metadata.Size(), metadata.Count()},
	}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Database", "Category", "Size", "Items"})
	table.SetFooter([]string{"", "Total", total.String(), " "})
	table.AppendBulk(stats)
	table.Render()

	if unaccounted.size > 0 {
		log.Error("Database contains unaccounted data", "size", unaccounted.size, "count", unaccounted.count)
	}
	return nil
}
