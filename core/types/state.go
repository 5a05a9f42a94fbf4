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

package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// StateVersion pins a tree root to its position in the diff history. It is
// the record kept for the current state and for every named checkpoint.
type StateVersion struct {
	Root    []byte
	Version uint64
}

// Copy returns a deep copy.
func (s StateVersion) Copy() StateVersion {
	return StateVersion{Root: common.CopyBytes(s.Root), Version: s.Version}
}

func (s StateVersion) String() string {
	return fmt.Sprintf("%s@%d", hexutil.Encode(s.Root), s.Version)
}

// StoreConfig holds the tree parameters fixed when a store is created.
type StoreConfig struct {
	KeyLength     uint64
	SubtreeHeight uint64
}
