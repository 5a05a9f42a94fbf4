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
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sunyihoo/smtstate/core/rawdb"
	"github.com/sunyihoo/smtstate/core/types"
	"github.com/sunyihoo/smtstate/ethdb"
)

// IterateOptions selects a range of state keys.
type IterateOptions struct {
	Start   []byte // First key of the range, inclusive; nil starts at the lowest key
	End     []byte // Last key of the range, inclusive; nil runs to the highest key
	Limit   int    // Maximum number of pairs returned, 0 for no limit
	Reverse bool   // Return pairs in descending key order, the limit applies from the end
}

// stateKey returns the database key of a state entry.
func stateKey(key []byte) []byte {
	return append(common.CopyBytes(rawdb.StatePrefix), key...)
}

// readState retrieves a committed value, ErrNotFound if absent.
func readState(db ethdb.KeyValueReader, key []byte) ([]byte, error) {
	value, err := db.Get(stateKey(key))
	if err != nil {
		return nil, err
	}
	return value, nil
}

// iterate collects the committed pairs in the range of opts, with the cached
// entries of w laid over them. A nil writer reads the committed state only.
func iterate(db ethdb.Iteratee, w *StateWriter, opts IterateOptions) ([]types.KVPair, error) {
	if opts.Start != nil && opts.End != nil && bytes.Compare(opts.Start, opts.End) > 0 {
		return nil, nil
	}
	var (
		shadowed = mapset.NewThreadUnsafeSet[string]()
		cached   []types.KVPair
	)
	if w != nil {
		shadowed.Append(w.cachedKeys(opts.Start, opts.End)...)
		cached = w.GetRange(opts.Start, opts.End)
	}
	it := rawdb.NewStateIterator(db, opts.Start, opts.End)
	defer it.Release()

	var pairs []types.KVPair
	for it.Next() {
		key := it.Key()
		if shadowed.Contains(string(key)) {
			continue
		}
		pairs = append(pairs, types.NewKVPair(key, it.Value()))

		// Cached keys can only push later committed keys out of the window.
		if !opts.Reverse && opts.Limit > 0 && len(pairs) >= opts.Limit {
			break
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	if len(cached) > 0 {
		pairs = append(pairs, cached...)
		slices.SortFunc(pairs, func(a, b types.KVPair) int { return bytes.Compare(a.Key, b.Key) })
	}
	if opts.Reverse {
		slices.Reverse(pairs)
	}
	if opts.Limit > 0 && len(pairs) > opts.Limit {
		pairs = pairs[:opts.Limit]
	}
	return pairs, nil
}
