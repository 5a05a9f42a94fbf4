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
	"github.com/sunyihoo/smtstate/ethdb"
)

// table is a wrapper around a database that prefixes each key access with a pre-
// configured string.
type table struct {
	db     ethdb.Database
	prefix string
}

// NewTable returns a database object that prefixes all keys with a given string.
func NewTable(db ethdb.Database, prefix string) ethdb.Database {
	return &table{
		db:     db,
		prefix: prefix,
	}
}

// NewStateTable returns the view of the store holding the plain key-value state.
func NewStateTable(db ethdb.Database) ethdb.Database {
	return NewTable(db, string(StatePrefix))
}

// Close is a noop to implement the Database interface.
func (t *table) Close() error {
	return nil
}

// Has retrieves if a prefixed version of a key is present in the database.
func (t *table) Has(key []byte) (bool, error) {
	return t.db.Has(t.key(key))
}

// Get retrieves the given prefixed key if it's present in the database.
func (t *table) Get(key []byte) ([]byte, error) {
	return t.db.Get(t.key(key))
}

// Put inserts the given value into the database at a prefixed version of the
// provided key.
func (t *table) Put(key []byte, value []byte) error {
	return t.db.Put(t.key(key), value)
}

// Delete removes the given prefixed key from the database.
func (t *table) Delete(key []byte) error {
	return t.db.Delete(t.key(key))
}

// DeleteRange deletes all of the keys (and values) in the range [start,end)
// (inclusive on start, exclusive on end). A nil end reaches the end of the table.
func (t *table) DeleteRange(start, end []byte) error {
	limit := upperBound([]byte(t.prefix))
	if end != nil {
		limit = t.key(end)
	}
	return t.db.DeleteRange(t.key(start), limit)
}

// NewIterator creates a binary-alphabetical iterator over a subset
// of database content with a particular key prefix, starting at a particular
// initial key (or after, if it does not exist).
func (t *table) NewIterator(prefix []byte, start []byte) ethdb.Iterator {
	return newTableIterator(t.db, t.prefix, prefix, start)
}

// NewSnapshot creates a snapshot of the underlying database, viewed through
// the table prefix.
func (t *table) NewSnapshot() (ethdb.Snapshot, error) {
	snap, err := t.db.NewSnapshot()
	if err != nil {
		return nil, err
	}
	return &tableSnapshot{snap: snap, prefix: t.prefix}, nil
}

// Stat returns the statistic data of the database.
func (t *table) Stat() (string, error) {
	return t.db.Stat()
}

// Compact flattens the underlying data store for the given key range. In essence,
// deleted and overwritten versions are discarded, and the data is rearranged to
// reduce the cost of operations needed to access them.
//
// A nil start is treated as a key before all keys in the data store; a nil limit
// is treated as a key after all keys in the data store. If both is nil then it
// will compact entire data store.
func (t *table) Compact(start []byte, limit []byte) error {
	// If no limit was specified, use the first element not matching the prefix
	// as the limit
	if limit == nil {
		limit = upperBound([]byte(t.prefix))
	} else {
		limit = t.key(limit)
	}
	return t.db.Compact(t.key(start), limit)
}

// NewBatch creates a write-only database that buffers changes to its host db
// until a final write is called, each operation prefixing all keys with the
// pre-configured string.
func (t *table) NewBatch() ethdb.Batch {
	return &tableBatch{t.db.NewBatch(), t.prefix}
}

// NewBatchWithSize creates a write-only database batch with pre-allocated buffer.
func (t *table) NewBatchWithSize(size int) ethdb.Batch {
	return &tableBatch{t.db.NewBatchWithSize(size), t.prefix}
}

func (t *table) key(key []byte) []byte {
	return append([]byte(t.prefix), key...)
}

// upperBound returns the first key sorting after every key with the given
// prefix, or nil if there is none.
func upperBound(prefix []byte) []byte {
	limit := append([]byte{}, prefix...)
	for i := len(limit) - 1; i >= 0; i-- {
		// Bump the current character, stopping if it doesn't overflow
		limit[i]++
		if limit[i] > 0 {
			return limit[:i+1]
		}
	}
	return nil
}

// tableWriter prefixes the keys of every write with a pre-configured string.
type tableWriter struct {
	w      ethdb.KeyValueWriter
	prefix string
}

// NewTableWriter wraps a writer, usually a batch shared between several
// tables, so that every key lands under the given prefix.
func NewTableWriter(w ethdb.KeyValueWriter, prefix string) ethdb.KeyValueWriter {
	return &tableWriter{w: w, prefix: prefix}
}

// NewStateWriter wraps a writer for the plain key-value state table.
func NewStateWriter(w ethdb.KeyValueWriter) ethdb.KeyValueWriter {
	return NewTableWriter(w, string(StatePrefix))
}

// Put inserts the given value at the prefixed key.
func (w *tableWriter) Put(key []byte, value []byte) error {
	return w.w.Put(append([]byte(w.prefix), key...), value)
}

// Delete removes the prefixed key.
func (w *tableWriter) Delete(key []byte) error {
	return w.w.Delete(append([]byte(w.prefix), key...))
}

// tableBatch is a wrapper around a database batch that prefixes each key access
// with a pre-configured string.
type tableBatch struct {
	batch  ethdb.Batch
	prefix string
}

// Put inserts the given value into the batch for later committing.
func (b *tableBatch) Put(key, value []byte) error {
	return b.batch.Put(append([]byte(b.prefix), key...), value)
}

// Delete inserts a key removal into the batch for later committing.
func (b *tableBatch) Delete(key []byte) error {
	return b.batch.Delete(append([]byte(b.prefix), key...))
}

// ValueSize retrieves the amount of data queued up for writing.
func (b *tableBatch) ValueSize() int {
	return b.batch.ValueSize()
}

// Write flushes any accumulated data to disk.
func (b *tableBatch) Write() error {
	return b.batch.Write()
}

// Reset resets the batch for reuse.
func (b *tableBatch) Reset() {
	b.batch.Reset()
}

// tableReplayer is a wrapper around a batch replayer which truncates
// the added prefix.
type tableReplayer struct {
	w      ethdb.KeyValueWriter
	prefix string
}

// Put implements the interface KeyValueWriter.
func (r *tableReplayer) Put(key []byte, value []byte) error {
	return r.w.Put(key[len(r.prefix):], value)
}

// Delete implements the interface KeyValueWriter.
func (r *tableReplayer) Delete(key []byte) error {
	return r.w.Delete(key[len(r.prefix):])
}

// Replay replays the batch contents.
func (b *tableBatch) Replay(w ethdb.KeyValueWriter) error {
	return b.batch.Replay(&tableReplayer{w: w, prefix: b.prefix})
}

// tableSnapshot is a database snapshot viewed through a table prefix.
type tableSnapshot struct {
	snap   ethdb.Snapshot
	prefix string
}

func (s *tableSnapshot) Has(key []byte) (bool, error) {
	return s.snap.Has(append([]byte(s.prefix), key...))
}

func (s *tableSnapshot) Get(key []byte) ([]byte, error) {
	return s.snap.Get(append([]byte(s.prefix), key...))
}

func (s *tableSnapshot) NewIterator(prefix []byte, start []byte) ethdb.Iterator {
	return newTableIterator(s.snap, s.prefix, prefix, start)
}

func (s *tableSnapshot) Release() {
	s.snap.Release()
}

// tableIterator is a wrapper around a database iterator that prefixes each key access
// with a pre-configured string.
type tableIterator struct {
	iter   ethdb.Iterator
	prefix string
}

func newTableIterator(db ethdb.Iteratee, table string, prefix []byte, start []byte) *tableIterator {
	innerPrefix := append([]byte(table), prefix...)
	return &tableIterator{
		iter:   db.NewIterator(innerPrefix, start),
		prefix: table,
	}
}

// Next moves the iterator to the next key/value pair. It returns whether the
// iterator is exhausted.
func (iter *tableIterator) Next() bool {
	return iter.iter.Next()
}

// Error returns any accumulated error. Exhausting all the key/value pairs
// is not considered to be an error.
func (iter *tableIterator) Error() error {
	return iter.iter.Error()
}

// Key returns the key of the current key/value pair, or nil if done. The caller
// should not modify the contents of the returned slice, and its contents may
// change on the next call to Next.
func (iter *tableIterator) Key() []byte {
	key := iter.iter.Key()
	if key == nil {
		return nil
	}
	return key[len(iter.prefix):]
}

// Value returns the value of the current key/value pair, or nil if done. The
// caller should not modify the contents of the returned slice, and its contents
// may change on the next call to Next.
func (iter *tableIterator) Value() []byte {
	return iter.iter.Value()
}

// Release releases associated resources. Release should always succeed and can
// be called multiple times without causing error.
func (iter *tableIterator) Release() {
	iter.iter.Release()
}

// tableIteratee exposes the iterators of any iteratee through a table prefix.
type tableIteratee struct {
	db     ethdb.Iteratee
	prefix string
}

func (t *tableIteratee) NewIterator(prefix []byte, start []byte) ethdb.Iterator {
	return newTableIterator(t.db, t.prefix, prefix, start)
}

// NewStateIterator iterates the plain state entries of db with keys in
// [start, end], both bounds inclusive and nil meaning unbounded. The returned
// keys have the state prefix stripped.
func NewStateIterator(db ethdb.Iteratee, start, end []byte) ethdb.Iterator {
	return ethdb.NewBoundedIterator(&tableIteratee{db: db, prefix: string(StatePrefix)}, start, end)
}
