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
	"sync"

	"github.com/sunyihoo/smtstate/core/types"
	"github.com/sunyihoo/smtstate/ethdb"
)

type readOp uint8

const (
	opGet readOp = iota
	opHas
	opIterate
)

// readRequest is a query served by the goroutine owning a reader snapshot.
type readRequest struct {
	op   readOp
	key  []byte
	opts IterateOptions
	resp chan readResponse
}

type readResponse struct {
	value []byte
	found bool
	pairs []types.KVPair
	err   error
}

// Reader serves reads of the committed state as of its creation. Commits made
// later are invisible to it, and it never blocks them. All queries are run by
// a single goroutine owning the database snapshot.
type Reader struct {
	snap  ethdb.Snapshot
	state types.StateVersion

	reqs      chan *readRequest
	closeCh   chan struct{}
	term      chan struct{}
	closeOnce sync.Once
}

// NewReader opens a reader over the latest committed state. Pending writes in
// the cache are not visible through it.
func (s *StateDB) NewReader() (*Reader, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	snap, err := s.db.NewSnapshot()
	if err != nil {
		return nil, err
	}
	r := &Reader{
		snap:    snap,
		state:   s.current.Copy(),
		reqs:    make(chan *readRequest),
		closeCh: make(chan struct{}),
		term:    make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

func (r *Reader) loop() {
	defer close(r.term)
	defer r.snap.Release()

	for {
		select {
		case req := <-r.reqs:
			req.resp <- r.handle(req)
		case <-r.closeCh:
			return
		}
	}
}

func (r *Reader) handle(req *readRequest) readResponse {
	switch req.op {
	case opGet:
		value, err := readState(r.snap, req.key)
		return readResponse{value: value, found: err == nil, err: err}
	case opHas:
		ok, err := r.snap.Has(stateKey(req.key))
		return readResponse{found: ok, err: err}
	case opIterate:
		pairs, err := iterate(r.snap, nil, req.opts)
		return readResponse{pairs: pairs, err: err}
	}
	panic("unknown read op")
}

// do hands a request to the reader goroutine and waits for its response.
func (r *Reader) do(req *readRequest) readResponse {
	req.resp = make(chan readResponse, 1)
	select {
	case r.reqs <- req:
	case <-r.term:
		return readResponse{err: ErrReaderClosed}
	}
	return <-req.resp
}

// State returns the root and version the reader is pinned to.
func (r *Reader) State() types.StateVersion {
	return r.state.Copy()
}

// Get returns the committed value of key.
func (r *Reader) Get(key []byte) ([]byte, error) {
	res := r.do(&readRequest{op: opGet, key: key})
	return res.value, res.err
}

// Has reports whether key holds a committed value.
func (r *Reader) Has(key []byte) (bool, error) {
	res := r.do(&readRequest{op: opHas, key: key})
	return res.found, res.err
}

// Iterate returns the committed pairs selected by opts.
func (r *Reader) Iterate(opts IterateOptions) ([]types.KVPair, error) {
	res := r.do(&readRequest{op: opIterate, opts: opts})
	return res.pairs, res.err
}

// Close stops the reader goroutine and releases the snapshot. It is safe to
// call more than once.
func (r *Reader) Close() {
	r.closeOnce.Do(func() { close(r.closeCh) })
	<-r.term
}
