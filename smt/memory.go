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
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sunyihoo/smtstate/core/types"
	"github.com/sunyihoo/smtstate/ethdb/memorydb"
)

// InMemory is a tree living entirely in memory together with its current
// root. Old roots stay provable since nodes are never removed.
type InMemory struct {
	tree *Tree
	db   *memorydb.Database
	root []byte
	lock sync.RWMutex
}

// NewInMemory creates an empty in-memory tree.
func NewInMemory(cfg Config) (*InMemory, error) {
	db := memorydb.New()
	tree, err := New(db, cfg)
	if err != nil {
		return nil, err
	}
	return &InMemory{tree: tree, db: db, root: EmptyHash}, nil
}

// Root returns the current root hash.
func (m *InMemory) Root() []byte {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return common.CopyBytes(m.root)
}

// Update applies kvs to the tree and makes the result the current root.
func (m *InMemory) Update(kvs []types.KVPair) ([]byte, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	batch := m.db.NewBatch()
	root, err := m.tree.Update(m.root, kvs, batch)
	if err != nil {
		return nil, err
	}
	if err := batch.Write(); err != nil {
		return nil, err
	}
	m.root = root
	return common.CopyBytes(root), nil
}

// Prove collects proofs for keys against the current root.
func (m *InMemory) Prove(keys [][]byte) (*Proof, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.tree.Prove(m.root, keys)
}

// ProveAt collects proofs for keys against an earlier root.
func (m *InMemory) ProveAt(root []byte, keys [][]byte) (*Proof, error) {
	return m.tree.Prove(root, keys)
}

// Verify checks a proof with the key length of this tree.
func (m *InMemory) Verify(root []byte, keys [][]byte, proof *Proof) bool {
	return Verify(root, keys, proof, m.tree.cfg.KeyLength)
}
