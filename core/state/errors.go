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
	"errors"
	"fmt"

	"github.com/sunyihoo/smtstate/core/types"
	"github.com/sunyihoo/smtstate/ethdb"
)

var (
	// ErrInvalidUsage is returned when the preconditions of an operation do not
	// hold. Nothing is modified when it is returned.
	ErrInvalidUsage = errors.New("invalid usage")

	// ErrNothingToRevert is returned when no diff is left to revert.
	ErrNothingToRevert = fmt.Errorf("%w: nothing to revert", ErrInvalidUsage)

	// ErrPendingWrites is returned when reverting with a non-empty write cache.
	ErrPendingWrites = fmt.Errorf("%w: pending writes in cache", ErrInvalidUsage)

	// ErrInvalidKeyLength is returned for keys not matching the configured length.
	ErrInvalidKeyLength = fmt.Errorf("%w: invalid key length", ErrInvalidUsage)

	// ErrRootMismatch is returned when a commit does not produce the expected root.
	ErrRootMismatch = errors.New("state root mismatch")

	// ErrRevertMismatch is returned when undoing a diff does not lead back to
	// the root it was committed on.
	ErrRevertMismatch = errors.New("reverted root does not match parent")

	// ErrCorruptDiff is returned when a stored diff record cannot be decoded.
	ErrCorruptDiff = fmt.Errorf("%w: corrupt diff record", types.ErrCodec)

	// ErrConfigMismatch is returned when opening a store with tree parameters
	// differing from the ones it was created with.
	ErrConfigMismatch = errors.New("store config mismatch")

	// ErrReaderClosed is returned by reader calls after Close.
	ErrReaderClosed = errors.New("state reader closed")

	// ErrNotFound is returned for absent or deleted keys.
	ErrNotFound = ethdb.ErrNotFound
)
