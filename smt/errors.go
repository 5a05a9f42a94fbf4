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
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned when a tree is created with unsupported
	// parameters.
	ErrInvalidConfig = errors.New("smt: invalid config")

	// ErrKeyLength is returned when a key does not match the configured length.
	ErrKeyLength = errors.New("smt: invalid key length")

	// ErrCorruptNode is returned when a stored subtree fails to decode or does
	// not hash to the key it was loaded under.
	ErrCorruptNode = errors.New("smt: corrupt subtree node")

	// ErrMalformedProof is returned when a proof encoding cannot be parsed.
	ErrMalformedProof = errors.New("smt: malformed proof")
)

// MissingNodeError is returned by the tree functions (Update, Revert, Prove)
// in the case where a subtree is not present in the local database.
type MissingNodeError struct {
	NodeHash []byte // hash of the missing subtree
	Depth    Height // depth of the subtree root
	Path     []byte // key being resolved when the subtree was needed
	err      error
}

// Unwrap returns the concrete error for missing subtree which
// allows us for further analysis outside.
func (err *MissingNodeError) Unwrap() error {
	return err.err
}

func (err *MissingNodeError) Error() string {
	return fmt.Sprintf("missing subtree node %x (depth %d, path %x) %v", err.NodeHash, err.Depth, err.Path, err.err)
}
