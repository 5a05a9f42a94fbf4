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

// Package state provides an authenticated key-value store: a flat state kept
// in sync with a sparse Merkle tree, a write cache staging changes on top of
// it and a diff history to undo commits.
package state

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/sunyihoo/smtstate/core/rawdb"
	"github.com/sunyihoo/smtstate/core/types"
	"github.com/sunyihoo/smtstate/ethdb"
	"github.com/sunyihoo/smtstate/smt"
)

// CommitOptions alters the behaviour of StateDB.Commit.
type CommitOptions struct {
	DryRun       bool   // Compute the new root without writing anything
	ExpectedRoot []byte // Abort unless the commit produces this root, nil to skip
}

// StateDB ties together the committed state in the database, the tree
// authenticating it and a write cache for pending changes. Every committed
// version can be rolled back through the diff recorded for it.
type StateDB struct {
	db      ethdb.Database
	config  *Config
	tree    *smt.Tree
	writer  *StateWriter
	current types.StateVersion
	lock    sync.RWMutex
}

// New opens the state stored in db. The tree parameters are recorded on first
// use and must not change afterwards.
func New(db ethdb.Database, config *Config) (*StateDB, error) {
	if config == nil {
		config = &Defaults
	}
	config, err := config.sanitize()
	if err != nil {
		return nil, err
	}
	stored := rawdb.ReadStoreConfig(db)
	want := types.StoreConfig{KeyLength: uint64(config.KeyLength), SubtreeHeight: uint64(config.SubtreeHeight)}
	switch {
	case stored == nil:
		rawdb.WriteStoreConfig(db, want)
	case *stored != want:
		return nil, fmt.Errorf("%w: have keylength=%d subtree=%d, stored keylength=%d subtree=%d",
			ErrConfigMismatch, want.KeyLength, want.SubtreeHeight, stored.KeyLength, stored.SubtreeHeight)
	}
	tree, err := smt.New(db, config.treeConfig())
	if err != nil {
		return nil, err
	}
	current := types.StateVersion{Root: smt.EmptyHash}
	if state := rawdb.ReadCurrentState(db); state != nil {
		current = *state
	}
	versionGauge.Update(int64(current.Version))
	log.Info("Opened state database", "version", current.Version, "root", common.Bytes2Hex(current.Root), "config", config)

	return &StateDB{
		db:      db,
		config:  config,
		tree:    tree,
		writer:  NewStateWriter(),
		current: current,
	}, nil
}

// Config returns the settings the state database runs with.
func (s *StateDB) Config() Config {
	return *s.config
}

// CurrentState returns the root and version of the latest commit.
func (s *StateDB) CurrentState() types.StateVersion {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.current.Copy()
}

// Root returns the root of the latest commit.
func (s *StateDB) Root() []byte {
	return s.CurrentState().Root
}

func (s *StateDB) checkKey(key []byte) error {
	if len(key) != s.config.KeyLength {
		return fmt.Errorf("%w: have %d bytes, want %d", ErrInvalidKeyLength, len(key), s.config.KeyLength)
	}
	return nil
}

// Get returns the value of key, looking at pending writes before the
// committed state.
func (s *StateDB) Get(key []byte) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if value, deleted, ok := s.writer.Get(key); ok {
		if deleted {
			return nil, ErrNotFound
		}
		return value, nil
	}
	return readState(s.db, key)
}

// Has reports whether key holds a value, looking at pending writes before the
// committed state.
func (s *StateDB) Has(key []byte) (bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if _, deleted, ok := s.writer.Get(key); ok {
		return !deleted, nil
	}
	return s.db.Has(stateKey(key))
}

// Iterate returns the pairs selected by opts with pending writes applied over
// the committed state.
func (s *StateDB) Iterate(opts IterateOptions) ([]types.KVPair, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return iterate(s.db, s.writer, opts)
}

// Set stores value under key in the write cache. Keys not cached yet are
// seeded from the committed state first.
func (s *StateDB) Set(key, value []byte) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	if err := checkValue(key, value); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	seeded, err := s.seed(key)
	if err != nil {
		return err
	}
	if !seeded {
		s.writer.CacheNew(key, value)
		return nil
	}
	return s.writer.Update(key, value)
}

// Remove stages the deletion of key. Keys not cached yet are seeded from the
// committed state first, absent keys are ignored.
func (s *StateDB) Remove(key []byte) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, err := s.seed(key); err != nil {
		return err
	}
	s.writer.Delete(key)
	return nil
}

// seed caches the committed value of key unless it is cached already. It
// reports whether the key ends up cached.
func (s *StateDB) seed(key []byte) (bool, error) {
	if s.writer.IsCached(key) {
		return true, nil
	}
	value, err := readState(s.db, key)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	s.writer.CacheExisting(key, value)
	return true, nil
}

// checkValue rejects empty values, the tree reads them as deletions.
func checkValue(key, value []byte) error {
	if len(value) == 0 {
		return fmt.Errorf("%w: empty value for key %x", ErrInvalidUsage, key)
	}
	return nil
}

// CacheNew stages a key unknown to the committed state.
func (s *StateDB) CacheNew(key, value []byte) error {
	if err := checkValue(key, value); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.writer.CacheNew(key, value)
	return nil
}

// CacheExisting stages a key with its committed value.
func (s *StateDB) CacheExisting(key, value []byte) error {
	if err := checkValue(key, value); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.writer.CacheExisting(key, value)
	return nil
}

// Update changes the value of a cached key. Use Delete to stage a removal.
func (s *StateDB) Update(key, value []byte) error {
	if err := checkValue(key, value); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.writer.Update(key, value)
}

// OldestDiffVersion returns the lowest version that still has a diff record,
// which bounds how far back Revert can go.
func (s *StateDB) OldestDiffVersion() (uint64, bool) {
	return rawdb.ReadOldestDiffVersion(s.db)
}

// Delete stages the deletion of a cached key.
func (s *StateDB) Delete(key []byte) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.writer.Delete(key)
}

// IsCached reports whether key has pending writes.
func (s *StateDB) IsCached(key []byte) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.writer.IsCached(key)
}

// Snapshot captures the write cache.
func (s *StateDB) Snapshot() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.writer.Snapshot()
}

// RestoreSnapshot resets the write cache to a snapshot, discarding all
// snapshots.
func (s *StateDB) RestoreSnapshot(id int) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.writer.RestoreSnapshot(id)
}

// Commit applies the pending writes to the tree and the committed state in a
// single batch and returns the new root. The diff undoing the commit is stored
// along with it under the next version. Nothing is written if the commit fails
// or opts asks for a dry run.
func (s *StateDB) Commit(opts CommitOptions) ([]byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	start := time.Now()
	batch := s.db.NewBatch()

	updated := s.writer.GetUpdated()
	diff, err := s.writer.Commit(rawdb.NewStateWriter(batch))
	if err != nil {
		return nil, err
	}
	kvs := make([]types.KVPair, 0, len(updated))
	for key, value := range updated {
		kvs = append(kvs, types.KVPair{Key: []byte(key), Value: value})
	}
	slices.SortFunc(kvs, func(a, b types.KVPair) int { return bytes.Compare(a.Key, b.Key) })

	root, err := s.tree.Update(s.current.Root, kvs, batch)
	if err != nil {
		return nil, err
	}
	if opts.ExpectedRoot != nil && !bytes.Equal(root, opts.ExpectedRoot) {
		return nil, fmt.Errorf("%w: have %x, want %x", ErrRootMismatch, root, opts.ExpectedRoot)
	}
	if opts.DryRun {
		return root, nil
	}
	next := types.StateVersion{Root: root, Version: s.current.Version + 1}
	rawdb.WriteDiff(batch, next.Version, encodeDiff(s.current.Root, diff))
	rawdb.WriteCurrentState(batch, next)
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("failed to write commit: %w", err)
	}
	s.current = next
	s.writer.Clear()

	commitKeysMeter.Mark(int64(len(kvs)))
	commitTimer.UpdateSince(start)
	versionGauge.Update(int64(next.Version))
	log.Debug("Committed state", "version", next.Version, "root", common.Bytes2Hex(root), "keys", len(kvs), "elapsed", common.PrettyDuration(time.Since(start)))

	if s.config.DiffRetention > 0 && next.Version > s.config.DiffRetention {
		if err := s.cleanDiffUntil(next.Version - s.config.DiffRetention + 1); err != nil {
			log.Warn("Failed to prune state diffs", "err", err)
		}
	}
	return common.CopyBytes(root), nil
}

// Revert undoes the latest commit, restoring both the committed state and the
// tree, and returns the restored root. It refuses to run while writes are
// pending.
func (s *StateDB) Revert() ([]byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.writer.Len() > 0 {
		return nil, ErrPendingWrites
	}
	if s.current.Version == 0 {
		return nil, ErrNothingToRevert
	}
	start := time.Now()
	parent, diff, err := readDiff(s.db, s.current.Version)
	if err != nil {
		return nil, err
	}
	batch := s.db.NewBatch()
	root, err := s.tree.Revert(s.current.Root, diff.Prior(), batch)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(root, parent) {
		return nil, fmt.Errorf("%w: version %d: have %x, want %x", ErrRevertMismatch, s.current.Version, root, parent)
	}
	if err := diff.Undo(rawdb.NewStateWriter(batch)); err != nil {
		return nil, err
	}
	prev := types.StateVersion{Root: parent, Version: s.current.Version - 1}
	rawdb.DeleteDiff(batch, s.current.Version)
	rawdb.WriteCurrentState(batch, prev)
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("failed to write revert: %w", err)
	}
	log.Debug("Reverted state", "version", prev.Version, "root", common.Bytes2Hex(parent), "keys", diff.Len(), "elapsed", common.PrettyDuration(time.Since(start)))
	s.current = prev

	revertKeysMeter.Mark(int64(diff.Len()))
	revertTimer.UpdateSince(start)
	versionGauge.Update(int64(prev.Version))
	return common.CopyBytes(parent), nil
}

// CleanDiffUntil deletes the diffs of all versions below the given one, which
// makes those versions permanent. Diffs needed to revert to a checkpoint are
// kept.
func (s *StateDB) CleanDiffUntil(version uint64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.cleanDiffUntil(version)
}

func (s *StateDB) cleanDiffUntil(version uint64) error {
	bound := version
	for name, cp := range rawdb.ReadCheckpoints(s.db) {
		if cp.Version+1 < bound {
			log.Debug("Clamping diff cleanup to checkpoint", "name", name, "version", cp.Version)
			bound = cp.Version + 1
		}
	}
	versions := rawdb.ReadDiffVersions(s.db, bound)
	if len(versions) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	for _, v := range versions {
		rawdb.DeleteDiff(batch, v)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to delete diffs: %w", err)
	}
	prunedDiffMeter.Mark(int64(len(versions)))
	log.Debug("Cleaned state diffs", "count", len(versions), "below", bound)
	return nil
}

// Prove returns proofs for keys against the latest committed root.
func (s *StateDB) Prove(keys [][]byte) (*smt.Proof, error) {
	return s.ProveAt(s.Root(), keys)
}

// ProveAt returns proofs for keys against a previous root. The nodes of the
// root have to be present, which holds for every root committed so far.
func (s *StateDB) ProveAt(root []byte, keys [][]byte) (*smt.Proof, error) {
	return s.tree.Prove(root, keys)
}

// Verify checks a proof for keys against root.
func (s *StateDB) Verify(root []byte, keys [][]byte, proof *smt.Proof) bool {
	return smt.Verify(root, keys, proof, s.config.KeyLength)
}
