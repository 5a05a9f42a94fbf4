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

package rawdb

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/sunyihoo/smtstate/ethdb"
)

// ReadDiff retrieves the encoded diff record committed at the given version.
func ReadDiff(db ethdb.KeyValueReader, version uint64) []byte {
	data, _ := db.Get(diffKey(version))
	return data
}

// HasDiff checks if a diff record exists for the given version.
func HasDiff(db ethdb.KeyValueReader, version uint64) bool {
	ok, _ := db.Has(diffKey(version))
	return ok
}

// WriteDiff stores the encoded diff record of the given version.
func WriteDiff(db ethdb.KeyValueWriter, version uint64, blob []byte) {
	if err := db.Put(diffKey(version), blob); err != nil {
		log.Crit("Failed to store state diff", "version", version, "err", err)
	}
}

// DeleteDiff removes the diff record of the given version.
func DeleteDiff(db ethdb.KeyValueWriter, version uint64) {
	if err := db.Delete(diffKey(version)); err != nil {
		log.Crit("Failed to delete state diff", "version", version, "err", err)
	}
}

// ReadDiffVersions returns the versions of all stored diff records strictly
// below the given bound, in ascending order.
func ReadDiffVersions(db ethdb.Iteratee, below uint64) []uint64 {
	it := db.NewIterator(DiffPrefix, nil)
	defer it.Release()

	var versions []uint64
	for it.Next() {
		ok, version := IsDiffKey(it.Key())
		if !ok {
			continue
		}
		if version >= below {
			break
		}
		versions = append(versions, version)
	}
	return versions
}

// ReadOldestDiffVersion returns the lowest version with a stored diff record.
func ReadOldestDiffVersion(db ethdb.Iteratee) (uint64, bool) {
	it := db.NewIterator(DiffPrefix, nil)
	defer it.Release()

	for it.Next() {
		if ok, version := IsDiffKey(it.Key()); ok {
			return version, true
		}
	}
	return 0, false
}
