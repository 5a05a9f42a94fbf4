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

//go:build rocksdb

// Package rocksdb implements the key-value database layer based on RocksDB.
// It needs cgo and the native library, hence the build tag.
package rocksdb

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/sunyihoo/smtstate/ethdb"
	"github.com/tecbot/gorocksdb"
)

const (
	minCache   = 16
	minHandles = 16
)

var errClosed = errors.New("rocksdb: closed")

// Database is a persistent key-value store backed by RocksDB.
type Database struct {
	fn        string
	db        *gorocksdb.DB
	readOpts  *gorocksdb.ReadOptions
	writeOpts *gorocksdb.WriteOptions

	lock   sync.RWMutex
	closed bool

	log log.Logger
}

// New opens or creates a RocksDB store at file.
func New(file string, cache int, handles int, readonly bool) (*Database, error) {
	if cache < minCache {
		cache = minCache
	}
	if handles < minHandles {
		handles = minHandles
	}
	logger := log.New("database", file)
	logger.Info("Allocated cache and file handles", "cache", common.StorageSize(cache*1024*1024), "handles", handles)

	blockOpts := gorocksdb.NewDefaultBlockBasedTableOptions()
	blockOpts.SetFilterPolicy(gorocksdb.NewBloomFilter(10))
	blockOpts.SetBlockCache(gorocksdb.NewLRUCache(uint64(cache/2) * 1024 * 1024))

	opts := gorocksdb.NewDefaultOptions()
	opts.SetBlockBasedTableFactory(blockOpts)
	opts.SetWriteBufferSize(cache / 4 * 1024 * 1024)
	opts.SetMaxOpenFiles(handles)
	opts.SetCreateIfMissing(true)

	var (
		db  *gorocksdb.DB
		err error
	)
	if readonly {
		db, err = gorocksdb.OpenDbForReadOnly(opts, file, false)
	} else {
		db, err = gorocksdb.OpenDb(opts, file)
	}
	if err != nil {
		return nil, err
	}
	ro := gorocksdb.NewDefaultReadOptions()
	ro.SetVerifyChecksums(false)
	return &Database{
		fn:        file,
		db:        db,
		readOpts:  ro,
		writeOpts: gorocksdb.NewDefaultWriteOptions(),
		log:       logger,
	}, nil
}

// Close releases the native handles. Double closing is a noop.
func (d *Database) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.readOpts.Destroy()
	d.writeOpts.Destroy()
	d.db.Close()
	return nil
}

// Has retrieves if a key is present in the key-value store.
func (d *Database) Has(key []byte) (bool, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	if d.closed {
		return false, errClosed
	}
	return has(d.db, d.readOpts, key)
}

// Get retrieves the given key if it's present in the key-value store.
func (d *Database) Get(key []byte) ([]byte, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	if d.closed {
		return nil, errClosed
	}
	return get(d.db, d.readOpts, key)
}

// Put inserts the given value into the key-value store.
func (d *Database) Put(key []byte, value []byte) error {
	d.lock.RLock()
	defer d.lock.RUnlock()
	if d.closed {
		return errClosed
	}
	return d.db.Put(d.writeOpts, key, value)
}

// Delete removes the key from the key-value store.
func (d *Database) Delete(key []byte) error {
	d.lock.RLock()
	defer d.lock.RUnlock()
	if d.closed {
		return errClosed
	}
	return d.db.Delete(d.writeOpts, key)
}

// DeleteRange deletes all of the keys (and values) in the range [start,end)
// (inclusive on start, exclusive on end).
func (d *Database) DeleteRange(start, end []byte) error {
	wb := gorocksdb.NewWriteBatch()
	defer wb.Destroy()

	if start == nil {
		start = []byte{}
	}
	wb.DeleteRange(start, end)

	d.lock.RLock()
	defer d.lock.RUnlock()
	if d.closed {
		return errClosed
	}
	return d.db.Write(d.writeOpts, wb)
}

// NewBatch creates a write-only key-value store that buffers changes to its host
// database until a final write is called.
func (d *Database) NewBatch() ethdb.Batch {
	return &batch{db: d, b: gorocksdb.NewWriteBatch()}
}

// NewBatchWithSize creates a write-only database batch. RocksDB grows its
// batches on demand, the size hint is ignored.
func (d *Database) NewBatchWithSize(size int) ethdb.Batch {
	return d.NewBatch()
}

// NewIterator creates a binary-alphabetical iterator over a subset
// of database content with a particular key prefix, starting at a particular
// initial key (or after, if it does not exist).
func (d *Database) NewIterator(prefix []byte, start []byte) ethdb.Iterator {
	return newIterator(d.db, gorocksdb.NewDefaultReadOptions(), prefix, start)
}

// NewSnapshot creates a database snapshot based on the current state.
func (d *Database) NewSnapshot() (ethdb.Snapshot, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	if d.closed {
		return nil, errClosed
	}
	snap := d.db.NewSnapshot()
	ro := gorocksdb.NewDefaultReadOptions()
	ro.SetSnapshot(snap)
	return &snapshot{db: d.db, snap: snap, readOpts: ro}, nil
}

// Checkpoint writes a consistent physical copy of the database into dir.
func (d *Database) Checkpoint(dir string) error {
	d.lock.RLock()
	defer d.lock.RUnlock()
	if d.closed {
		return errClosed
	}
	cp, err := d.db.NewCheckpoint()
	if err != nil {
		return err
	}
	defer cp.Destroy()
	return cp.CreateCheckpoint(dir, 0)
}

// Stat returns the engine's own statistics dump.
func (d *Database) Stat() (string, error) {
	return d.db.GetProperty("rocksdb.stats"), nil
}

// Compact flattens the underlying data store for the given key range.
func (d *Database) Compact(start []byte, limit []byte) error {
	d.db.CompactRange(gorocksdb.Range{Start: start, Limit: limit})
	return nil
}

// Path returns the path to the database directory.
func (d *Database) Path() string {
	return d.fn
}

func has(db *gorocksdb.DB, ro *gorocksdb.ReadOptions, key []byte) (bool, error) {
	slice, err := db.Get(ro, key)
	if err != nil {
		return false, err
	}
	defer slice.Free()
	return slice.Exists(), nil
}

func get(db *gorocksdb.DB, ro *gorocksdb.ReadOptions, key []byte) ([]byte, error) {
	slice, err := db.Get(ro, key)
	if err != nil {
		return nil, err
	}
	defer slice.Free()
	if !slice.Exists() {
		return nil, ethdb.ErrNotFound
	}
	return common.CopyBytes(slice.Data()), nil
}

// batch is a write-only batch that commits changes to its host database
// when Write is called. A batch cannot be used concurrently.
type batch struct {
	db   *Database
	b    *gorocksdb.WriteBatch
	size int
}

// Put inserts the given value into the batch for later committing.
func (b *batch) Put(key, value []byte) error {
	b.b.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

// Delete inserts the key removal into the batch for later committing.
func (b *batch) Delete(key []byte) error {
	b.b.Delete(key)
	b.size += len(key)
	return nil
}

// ValueSize retrieves the amount of data queued up for writing.
func (b *batch) ValueSize() int {
	return b.size
}

// Write flushes any accumulated data to disk.
func (b *batch) Write() error {
	b.db.lock.RLock()
	defer b.db.lock.RUnlock()
	if b.db.closed {
		return errClosed
	}
	return b.db.db.Write(b.db.writeOpts, b.b)
}

// Reset resets the batch for reuse.
func (b *batch) Reset() {
	b.b.Clear()
	b.size = 0
}

// Replay replays the batch contents.
func (b *batch) Replay(w ethdb.KeyValueWriter) error {
	it := b.b.NewIterator()
	for it.Next() {
		rec := it.Record()
		var err error
		switch rec.Type {
		case gorocksdb.WriteBatchValueRecord:
			err = w.Put(rec.Key, rec.Value)
		case gorocksdb.WriteBatchDeletionRecord:
			err = w.Delete(rec.Key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// snapshot pins a RocksDB snapshot through dedicated read options.
type snapshot struct {
	db       *gorocksdb.DB
	snap     *gorocksdb.Snapshot
	readOpts *gorocksdb.ReadOptions
	once     sync.Once
}

func (s *snapshot) Has(key []byte) (bool, error) {
	return has(s.db, s.readOpts, key)
}

func (s *snapshot) Get(key []byte) ([]byte, error) {
	return get(s.db, s.readOpts, key)
}

func (s *snapshot) NewIterator(prefix []byte, start []byte) ethdb.Iterator {
	ro := gorocksdb.NewDefaultReadOptions()
	ro.SetSnapshot(s.snap)
	return newIterator(s.db, ro, prefix, start)
}

func (s *snapshot) Release() {
	s.once.Do(func() {
		s.readOpts.Destroy()
		s.db.ReleaseSnapshot(s.snap)
	})
}

// iterator adapts the native iterator to the Next-first ethdb convention.
type iterator struct {
	it       *gorocksdb.Iterator
	ro       *gorocksdb.ReadOptions
	prefix   []byte
	started  bool
	released bool
	key, val []byte
}

func newIterator(db *gorocksdb.DB, ro *gorocksdb.ReadOptions, prefix, start []byte) *iterator {
	it := db.NewIterator(ro)
	it.Seek(append(common.CopyBytes(prefix), start...))
	return &iterator{it: it, ro: ro, prefix: common.CopyBytes(prefix)}
}

func (it *iterator) Next() bool {
	if it.released {
		return false
	}
	if it.started {
		it.it.Next()
	}
	it.started = true
	if !it.it.ValidForPrefix(it.prefix) {
		it.key, it.val = nil, nil
		return false
	}
	k, v := it.it.Key(), it.it.Value()
	it.key, it.val = common.CopyBytes(k.Data()), common.CopyBytes(v.Data())
	k.Free()
	v.Free()
	return true
}

func (it *iterator) Error() error {
	if it.released {
		return nil
	}
	return it.it.Err()
}

func (it *iterator) Key() []byte   { return it.key }
func (it *iterator) Value() []byte { return it.val }

func (it *iterator) Release() {
	if !it.released {
		it.it.Close()
		it.ro.Destroy()
		it.released = true
		it.key, it.val = nil, nil
	}
}
