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
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/sunyihoo/smtstate/core/rawdb"
	"github.com/sunyihoo/smtstate/core/types"
	"github.com/sunyihoo/smtstate/ethdb"
)

// Checkpoint registers the latest committed state under name. The diffs
// needed to revert back to a checkpoint survive CleanDiffUntil and retention
// based pruning until the checkpoint is deleted.
func (s *StateDB) Checkpoint(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty checkpoint name", ErrInvalidUsage)
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	batch := s.db.NewBatch()
	rawdb.WriteCheckpoint(batch, name, s.current)
	if err := batch.Write(); err != nil {
		return err
	}
	log.Info("Registered state checkpoint", "name", name, "version", s.current.Version, "root", common.Bytes2Hex(s.current.Root))
	return nil
}

// DeleteCheckpoint removes a named checkpoint.
func (s *StateDB) DeleteCheckpoint(name string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if rawdb.ReadCheckpoint(s.db, name) == nil {
		return fmt.Errorf("%w: unknown checkpoint %q", ErrInvalidUsage, name)
	}
	rawdb.DeleteCheckpoint(s.db, name)
	return nil
}

// Checkpoints returns every registered checkpoint.
func (s *StateDB) Checkpoints() map[string]types.StateVersion {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return rawdb.ReadCheckpoints(s.db)
}

// CheckpointRoot returns the root recorded under a checkpoint name.
func (s *StateDB) CheckpointRoot(name string) ([]byte, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	cp := rawdb.ReadCheckpoint(s.db, name)
	if cp == nil {
		return nil, false
	}
	return cp.Root, true
}

// CheckpointTo writes a physical copy of the whole database into dir, as of
// the latest commit. Only engines able to create consistent on-disk copies
// support it.
func (s *StateDB) CheckpointTo(dir string) error {
	cp, ok := s.db.(ethdb.Checkpointer)
	if !ok {
		return ethdb.ErrNotSupported
	}
	// No commit may land halfway through the copy.
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := cp.Checkpoint(dir); err != nil {
		return err
	}
	log.Info("Created database checkpoint", "dir", dir, "version", s.current.Version)
	return nil
}
