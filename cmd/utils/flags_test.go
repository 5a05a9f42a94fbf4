// Copyright 2015 The go-ethereum Authors
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
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/smtstate/core/rawdb"
	"github.com/sunyihoo/smtstate/core/state"
	"github.com/sunyihoo/smtstate/smt"
	"github.com/urfave/cli/v2"
)

func newContext(t *testing.T, fs []cli.Flag, args ...string) *cli.Context {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range fs {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestSetStateConfig(t *testing.T) {
	ctx := newContext(t, StateFlags, "--state.keylength", "4", "--state.subtreeheight", "16", "--state.retention", "10", "--cache.tree", "2")

	cfg := state.Defaults
	SetStateConfig(ctx, &cfg)
	require.Equal(t, 4, cfg.KeyLength)
	require.Equal(t, smt.SubtreeHeight16, cfg.SubtreeHeight)
	require.Equal(t, uint64(10), cfg.DiffRetention)
	require.Equal(t, 2*1024*1024, cfg.CleanCacheSize)
}

func TestSetDatabaseConfig(t *testing.T) {
	dir := t.TempDir()
	ctx := newContext(t, DatabaseFlags, "--datadir", dir, "--db.engine", "leveldb")

	cfg := DefaultDatabaseConfig
	SetDatabaseConfig(ctx, &cfg)
	require.Equal(t, dir, cfg.DataDir)
	require.Equal(t, rawdb.DBLeveldb, cfg.Engine)
	require.Equal(t, DefaultDatabaseConfig.Cache, cfg.Cache)
}

func TestOpenDatabaseLock(t *testing.T) {
	cfg := DefaultDatabaseConfig
	cfg.DataDir = t.TempDir()

	db, err := OpenDatabase(cfg, "", false)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))

	_, err = OpenDatabase(cfg, "", false)
	require.ErrorIs(t, err, ErrDatadirUsed)

	require.NoError(t, db.Close())
	db, err = OpenDatabase(cfg, "", false)
	require.NoError(t, err)
	val, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), val)
	require.NoError(t, db.Close())
}
