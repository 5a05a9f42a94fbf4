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

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/golang/snappy"
	"github.com/sunyihoo/smtstate/core/rawdb"
	"github.com/sunyihoo/smtstate/core/types"
	"github.com/sunyihoo/smtstate/ethdb"
)

// Diff describes how to undo one commit. Keys are in ascending order in each
// list.
type Diff struct {
	Created [][]byte       // Keys the commit introduced
	Updated []types.KVPair // Keys the commit changed, with their previous value
	Deleted []types.KVPair // Keys the commit removed, with their previous value
}

// Len returns the number of keys touched by the diff.
func (d *Diff) Len() int {
	return len(d.Created) + len(d.Updated) + len(d.Deleted)
}

// Prior returns the tree writes restoring the values held before the commit.
// Created keys are mapped to an empty value, which deletes them.
func (d *Diff) Prior() []types.KVPair {
	prior := make([]types.KVPair, 0, d.Len())
	for _, key := range d.Created {
		prior = append(prior, types.KVPair{Key: key})
	}
	prior = append(prior, d.Updated...)
	return append(prior, d.Deleted...)
}

// Undo writes the inverse of the diff into a state table writer.
func (d *Diff) Undo(w ethdb.KeyValueWriter) error {
	for _, key := range d.Created {
		if err := w.Delete(key); err != nil {
			return err
		}
	}
	for _, kv := range d.Updated {
		if err := w.Put(kv.Key, kv.Value); err != nil {
			return err
		}
	}
	for _, kv := range d.Deleted {
		if err := w.Put(kv.Key, kv.Value); err != nil {
			return err
		}
	}
	return nil
}

// diffRecord is the persisted form of a diff: the diff itself together with
// the root the commit was applied on.
type diffRecord struct {
	Parent  []byte
	Created [][]byte
	Updated []types.KVPair
	Deleted []types.KVPair
}

// encodeDiff returns the snappy compressed RLP encoding of a diff record.
func encodeDiff(parent []byte, diff *Diff) []byte {
	enc, err := rlp.EncodeToBytes(&diffRecord{
		Parent:  parent,
		Created: diff.Created,
		Updated: diff.Updated,
		Deleted: diff.Deleted,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to encode diff: %v", err))
	}
	return snappy.Encode(nil, enc)
}

// decodeDiff parses a stored diff record.
func decodeDiff(blob []byte) ([]byte, *Diff, error) {
	enc, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptDiff, err)
	}
	var rec diffRecord
	if err := rlp.DecodeBytes(enc, &rec); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptDiff, err)
	}
	return rec.Parent, &Diff{Created: rec.Created, Updated: rec.Updated, Deleted: rec.Deleted}, nil
}

// readDiff loads and decodes the diff committed at version.
func readDiff(db ethdb.KeyValueReader, version uint64) ([]byte, *Diff, error) {
	blob := rawdb.ReadDiff(db, version)
	if len(blob) == 0 {
		return nil, nil, fmt.Errorf("%w: no diff at version %d", ErrNothingToRevert, version)
	}
	parent, diff, err := decodeDiff(blob)
	if err != nil {
		return nil, nil, fmt.Errorf("version %d: %w", version, err)
	}
	return parent, diff, nil
}
