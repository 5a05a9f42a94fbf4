// Copyright 2014 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

package utils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
	"github.com/sunyihoo/smtstate/core/rawdb"
	"github.com/sunyihoo/smtstate/ethdb"
)

// ErrDatadirUsed is returned when another process holds the data directory.
var ErrDatadirUsed = errors.New("datadir already used by another process")

var datadirInUseErrnos = map[uint]bool{11: true, 32: true, 35: true}

func convertFileLockError(err error) error {
	if errno, ok := err.(syscall.Errno); ok && datadirInUseErrnos[uint(errno)] {
		return ErrDatadirUsed
	}
	return err
}

// Fatalf formats a message to standard error and exits the program.
// The message is also printed to standard output if standard error
// is redirected to a different file.
func Fatalf(format string, args ...interface{}) {
	w := io.MultiWriter(os.Stdout, os.Stderr)
	if runtime.GOOS == "windows" {
		// The SameFile check below doesn't work on Windows.
		// stdout is unlikely to get redirected though, so just print there.
		w = os.Stdout
	} else {
		outf, _ := os.Stdout.Stat()
		errf, _ := os.Stderr.Stat()
		if outf != nil && errf != nil && os.SameFile(outf, errf) {
			w = os.Stderr
		}
	}
	fmt.Fprintf(w, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}

// Database is a key-value store opened from a data directory. The directory
// stays locked against other processes until the database is closed.
type Database struct {
	ethdb.Database
	dirLock *flock.Flock
}

// OpenDatabase locks the data directory of cfg and opens the database in it,
// registering the engine meters under namespace. The memory engine needs no
// directory and takes no lock.
func OpenDatabase(cfg DatabaseConfig, namespace string, readonly bool) (*Database, error) {
	if cfg.Engine == rawdb.DBMemory {
		return &Database{Database: rawdb.NewMemoryDatabase()}, nil
	}
	if cfg.DataDir == "" {
		return nil, errors.New("no data directory configured")
	}
	dir := filepath.Join(cfg.DataDir, "state")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	// Lock the instance directory to prevent concurrent use by another instance as well as
	// accidental use of the instance directory as a database.
	lock := flock.New(filepath.Join(cfg.DataDir, "LOCK"))
	var (
		locked bool
		err    error
	)
	if readonly {
		locked, err = lock.TryRLock()
	} else {
		locked, err = lock.TryLock()
	}
	if err != nil {
		return nil, convertFileLockError(err)
	}
	if !locked {
		return nil, ErrDatadirUsed
	}
	db, err := rawdb.Open(rawdb.OpenOptions{
		Type:      cfg.Engine,
		Directory: dir,
		Namespace: namespace,
		Cache:     cfg.Cache,
		Handles:   cfg.Handles,
		ReadOnly:  readonly,
	})
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return &Database{Database: db, dirLock: lock}, nil
}

// Close closes the database and releases the data directory.
func (db *Database) Close() error {
	err := db.Database.Close()
	if db.dirLock != nil {
		if lerr := db.dirLock.Unlock(); lerr != nil {
			log.Error("Failed to release datadir lock", "err", lerr)
		}
		db.dirLock = nil
	}
	return err
}

// Checkpoint creates an on-disk copy of the database in dir, if the engine
// supports it.
func (db *Database) Checkpoint(dir string) error {
	cp, ok := db.Database.(ethdb.Checkpointer)
	if !ok {
		return ethdb.ErrNotSupported
	}
	return cp.Checkpoint(dir)
}
