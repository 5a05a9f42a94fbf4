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

package ethdb

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type mockIterator struct {
	keys   [][]byte
	values [][]byte
	pos    int
	err    error
}

func (m *mockIterator) Next() bool {
	if m.err != nil || m.pos >= len(m.keys) {
		return false
	}
	m.pos++
	return m.pos <= len(m.keys)
}

func (m *mockIterator) Error() error {
	return m.err
}

func (m *mockIterator) Key() []byte {
	if m.pos == 0 || m.pos > len(m.keys) {
		return nil
	}
	return m.keys[m.pos-1]
}

func (m *mockIterator) Value() []byte {
	if m.pos == 0 || m.pos > len(m.values) {
		return nil
	}
	return m.values[m.pos-1]
}

func (m *mockIterator) Release() {}

// mockIteratee serves sorted keys starting at the requested position.
type mockIteratee struct {
	keys   [][]byte
	values [][]byte
	err    error
}

func (m *mockIteratee) NewIterator(prefix []byte, start []byte) Iterator {
	it := &mockIterator{err: m.err}
	for i, key := range m.keys {
		if bytes.Compare(key, start) >= 0 {
			it.keys = append(it.keys, key)
			it.values = append(it.values, m.values[i])
		}
	}
	return it
}

func TestBoundedIterator(t *testing.T) {
	db := &mockIteratee{
		keys:   [][]byte{{1}, {2}, {3}, {4}},
		values: [][]byte{{5}, {6}, {7}, {8}},
	}
	tests := []struct {
		start, end []byte
		want       [][]byte
	}{
		{nil, nil, [][]byte{{1}, {2}, {3}, {4}}},
		{[]byte{2}, []byte{3}, [][]byte{{2}, {3}}},
		{[]byte{2}, []byte{2}, [][]byte{{2}}},
		{[]byte{5}, nil, nil},
		{nil, []byte{0}, nil},
	}
	for i, tt := range tests {
		var (
			it  = NewBoundedIterator(db, tt.start, tt.end)
			got [][]byte
		)
		for it.Next() {
			got = append(got, it.Key())
		}
		it.Release()
		require.Equal(t, tt.want, got, "test %d", i)
		require.Nil(t, it.Key(), "test %d: key after exhaustion", i)
		require.Nil(t, it.Value(), "test %d: value after exhaustion", i)
		require.False(t, it.Next(), "test %d: next after exhaustion", i)
	}
}

func TestBoundedIteratorError(t *testing.T) {
	db := &mockIteratee{
		keys:   [][]byte{{1}},
		values: [][]byte{{2}},
		err:    errors.New("test error"),
	}
	it := NewBoundedIterator(db, nil, nil)
	defer it.Release()

	require.False(t, it.Next())
	require.EqualError(t, it.Error(), "test error")
}
