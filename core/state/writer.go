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

package state

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sunyihoo/smtstate/core/types"
	"github.com/sunyihoo/smtstate/ethdb"
)

// stateCache is the staged state of a single key.
type stateCache struct {
	init     []byte // Value held in the store when the key was cached
	existing bool   // Whether the key was present in the store, init is only meaningful if set
	value    []byte
	dirty    bool
	deleted  bool
}

// StateWriter buffers writes on top of the committed state until they are
// committed into a batch. Keys have to be cached, as new or as existing, before
// they can be updated.
//
// Snapshots capture the whole cache. Restoring one replaces the cache and
// drops every snapshot taken so far, including the restored one.
type StateWriter struct {
	cache   map[string]stateCache
	backups map[int]map[string]stateCache
	nextID  int
	lock    sync.Mutex
}

// NewStateWriter creates an empty write cache.
func NewStateWriter() *StateWriter {
	return &StateWriter{
		cache:   make(map[string]stateCache),
		backups: make(map[int]map[string]stateCache),
	}
}

// CacheNew stages a key unknown to the store.
func (w *StateWriter) CacheNew(key, value []byte) {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.cache[string(key)] = stateCache{value: common.CopyBytes(value)}
}

// CacheExisting stages a key together with the value it has in the store.
func (w *StateWriter) CacheExisting(key, value []byte) {
	w.lock.Lock()
	defer w.lock.Unlock()

	value = common.CopyBytes(value)
	w.cache[string(key)] = stateCache{init: value, existing: true, value: value}
}

// Get returns the staged value of key. Deleted reports a staged deletion,
// exists whether the key is cached at all.
func (w *StateWriter) Get(key []byte) (value []byte, deleted bool, exists bool) {
	w.lock.Lock()
	defer w.lock.Unlock()

	entry, ok := w.cache[string(key)]
	switch {
	case !ok:
		return nil, false, false
	case entry.deleted:
		return nil, true, true
	}
	return common.CopyBytes(entry.value), false, true
}

// IsCached reports whether key is staged, deleted or not.
func (w *StateWriter) IsCached(key []byte) bool {
	w.lock.Lock()
	defer w.lock.Unlock()

	_, ok := w.cache[string(key)]
	return ok
}

// Update replaces the value of a cached key, reviving it if it was deleted.
func (w *StateWriter) Update(key, value []byte) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	entry, ok := w.cache[string(key)]
	if !ok {
		return fmt.Errorf("%w: update of uncached key %x", ErrInvalidUsage, key)
	}
	entry.value = common.CopyBytes(value)
	entry.dirty = true
	entry.deleted = false
	w.cache[string(key)] = entry
	return nil
}

// Delete stages the removal of key. A key unknown to the store simply leaves
// the cache, uncached keys are ignored.
func (w *StateWriter) Delete(key []byte) {
	w.lock.Lock()
	defer w.lock.Unlock()

	entry, ok := w.cache[string(key)]
	if !ok {
		return
	}
	if !entry.existing {
		delete(w.cache, string(key))
		return
	}
	entry.deleted = true
	w.cache[string(key)] = entry
}

// GetRange returns the live cached pairs with lower <= key <= upper in key
// order.
func (w *StateWriter) GetRange(lower, upper []byte) []types.KVPair {
	w.lock.Lock()
	defer w.lock.Unlock()

	var pairs []types.KVPair
	for key, entry := range w.cache {
		if entry.deleted || !inRange([]byte(key), lower, upper) {
			continue
		}
		pairs = append(pairs, types.NewKVPair([]byte(key), entry.value))
	}
	slices.SortFunc(pairs, func(a, b types.KVPair) int { return bytes.Compare(a.Key, b.Key) })
	return pairs
}

// cachedKeys returns every cached key within the inclusive range, deleted
// ones included.
func (w *StateWriter) cachedKeys(lower, upper []byte) []string {
	w.lock.Lock()
	defer w.lock.Unlock()

	var keys []string
	for key := range w.cache {
		if inRange([]byte(key), lower, upper) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Snapshot captures the cache and returns an identifier to restore it.
func (w *StateWriter) Snapshot() int {
	w.lock.Lock()
	defer w.lock.Unlock()

	id := w.nextID
	w.nextID++
	w.backups[id] = maps.Clone(w.cache)
	return id
}

// RestoreSnapshot resets the cache to a snapshot. All snapshots are discarded
// afterwards.
func (w *StateWriter) RestoreSnapshot(id int) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	backup, ok := w.backups[id]
	if !ok {
		return fmt.Errorf("%w: unknown snapshot %d", ErrInvalidUsage, id)
	}
	w.cache = backup
	w.backups = make(map[int]map[string]stateCache)
	return nil
}

// GetUpdated returns the keys whose committed value changes, mapped to their
// new value. Deleted keys map to an empty value.
func (w *StateWriter) GetUpdated() map[string][]byte {
	w.lock.Lock()
	defer w.lock.Unlock()

	updated := make(map[string][]byte)
	for key, entry := range w.cache {
		switch {
		case entry.deleted:
			updated[key] = []byte{}
		case !entry.existing || entry.dirty:
			updated[key] = common.CopyBytes(entry.value)
		}
	}
	return updated
}

// Commit writes the staged changes into db and returns the diff undoing
// them. The cache itself is left untouched.
func (w *StateWriter) Commit(db ethdb.KeyValueWriter) (*Diff, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	keys := make([]string, 0, len(w.cache))
	for key := range w.cache {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	diff := new(Diff)
	for _, key := range keys {
		entry := w.cache[key]
		switch {
		case !entry.existing:
			diff.Created = append(diff.Created, []byte(key))
			if err := db.Put([]byte(key), entry.value); err != nil {
				return nil, err
			}
		case entry.deleted:
			diff.Deleted = append(diff.Deleted, types.NewKVPair([]byte(key), entry.init))
			if err := db.Delete([]byte(key)); err != nil {
				return nil, err
			}
		case entry.dirty:
			diff.Updated = append(diff.Updated, types.NewKVPair([]byte(key), entry.init))
			if err := db.Put([]byte(key), entry.value); err != nil {
				return nil, err
			}
		}
	}
	return diff, nil
}

// Len returns the number of cached keys.
func (w *StateWriter) Len() int {
	w.lock.Lock()
	defer w.lock.Unlock()

	return len(w.cache)
}

// Clear drops the cache and every snapshot.
func (w *StateWriter) Clear() {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.cache = make(map[string]stateCache)
	w.backups = make(map[int]map[string]stateCache)
}

// Copy returns an independent writer holding the same cache. Snapshots are
// not carried over.
func (w *StateWriter) Copy() *StateWriter {
	w.lock.Lock()
	defer w.lock.Unlock()

	return &StateWriter{
		cache:   maps.Clone(w.cache),
		backups: make(map[int]map[string]stateCache),
	}
}

// inRange reports whether lower <= key <= upper, nil bounds are open.
func inRange(key, lower, upper []byte) bool {
	if lower != nil && bytes.Compare(key, lower) < 0 {
		return false
	}
	return upper == nil || bytes.Compare(key, upper) <= 0
}
