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

// Package utils contains internal helper functions for smtstate commands.
package utils

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/sunyihoo/smtstate/core/rawdb"
	"github.com/sunyihoo/smtstate/core/state"
	"github.com/sunyihoo/smtstate/internal/flags"
	"github.com/sunyihoo/smtstate/smt"
	"github.com/urfave/cli/v2"
)

// These are all the command line flags we support.
// If you add to this list, please remember to include the
// flag in the appropriate command definition.
//
// The flags are defined here so their names and help texts
// are the same for all commands.

var (
	// Database settings
	DataDirFlag = &flags.DirectoryFlag{
		Name:     "datadir",
		Usage:    "Data directory for the state database",
		Value:    flags.DirectoryString(DefaultDataDir()),
		Category: flags.DatabaseCategory,
	}
	DBEngineFlag = &cli.StringFlag{
		Name:     "db.engine",
		Usage:    "Backing database implementation to use ('pebble', 'leveldb', 'rocksdb' or 'memory')",
		Value:    DefaultDatabaseConfig.Engine,
		Category: flags.DatabaseCategory,
	}
	ReadOnlyFlag = &cli.BoolFlag{
		Name:     "readonly",
		Usage:    "Open the database in read-only mode",
		Category: flags.DatabaseCategory,
	}

	// State settings
	KeyLengthFlag = &cli.IntFlag{
		Name:     "state.keylength",
		Aliases:  []string{"keylength"},
		Usage:    "Length of every state key in bytes",
		Value:    state.Defaults.KeyLength,
		Category: flags.StateCategory,
	}
	SubtreeHeightFlag = &cli.UintFlag{
		Name:     "state.subtreeheight",
		Aliases:  []string{"subtree"},
		Usage:    "Tree levels stored per node blob (4, 8 or 16)",
		Value:    uint(state.Defaults.SubtreeHeight),
		Category: flags.StateCategory,
	}
	DiffRetentionFlag = &cli.Uint64Flag{
		Name:     "state.retention",
		Usage:    "Number of recent diffs to keep for reverting, 0 keeps all",
		Value:    state.Defaults.DiffRetention,
		Category: flags.StateCategory,
	}

	// Performance tuning settings
	CacheFlag = &cli.IntFlag{
		Name:     "cache",
		Usage:    "Megabytes of memory allocated to the database engine",
		Value:    DefaultDatabaseConfig.Cache,
		Category: flags.PerfCategory,
	}
	CacheTreeFlag = &cli.IntFlag{
		Name:     "cache.tree",
		Usage:    "Megabytes of memory allocated to caching tree nodes",
		Value:    state.Defaults.CleanCacheSize / 1024 / 1024,
		Category: flags.PerfCategory,
	}
	HandlesFlag = &cli.IntFlag{
		Name:     "db.handles",
		Aliases:  []string{"handles"},
		Usage:    "Number of file descriptors the database engine may use",
		Value:    DefaultDatabaseConfig.Handles,
		Category: flags.PerfCategory,
	}
)

// DatabaseFlags are the flags selecting and tuning the backing database.
var DatabaseFlags = []cli.Flag{
	DataDirFlag,
	DBEngineFlag,
	CacheFlag,
	HandlesFlag,
}

// StateFlags are the flags shaping the authenticated state.
var StateFlags = []cli.Flag{
	KeyLengthFlag,
	SubtreeHeightFlag,
	DiffRetentionFlag,
	CacheTreeFlag,
}

// DatabaseConfig selects the backing database of the state.
type DatabaseConfig struct {
	DataDir string
	Engine  string `toml:",omitempty"`
	Cache   int    // Megabytes of memory allocated to the database engine
	Handles int
}

// DefaultDatabaseConfig contains reasonable default database settings.
var DefaultDatabaseConfig = DatabaseConfig{
	DataDir: DefaultDataDir(),
	Engine:  rawdb.DBPebble,
	Cache:   128,
	Handles: 256,
}

// DefaultDataDir is the default data directory to use for the databases and other
// persistence requirements.
func DefaultDataDir() string {
	home := flags.HomeDir()
	if home == "" {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "SMTState")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "SMTState")
	default:
		return filepath.Join(home, ".smtstate")
	}
}

// SetDatabaseConfig applies database-related command line flags to the config.
func SetDatabaseConfig(ctx *cli.Context, cfg *DatabaseConfig) {
	if ctx.IsSet(DataDirFlag.Name) {
		cfg.DataDir = ctx.String(DataDirFlag.Name)
	}
	if ctx.IsSet(DBEngineFlag.Name) {
		cfg.Engine = ctx.String(DBEngineFlag.Name)
	}
	if ctx.IsSet(CacheFlag.Name) {
		cfg.Cache = ctx.Int(CacheFlag.Name)
	}
	if ctx.IsSet(HandlesFlag.Name) {
		cfg.Handles = ctx.Int(HandlesFlag.Name)
	}
}

// SetStateConfig applies state-related command line flags to the config.
func SetStateConfig(ctx *cli.Context, cfg *state.Config) {
	if ctx.IsSet(KeyLengthFlag.Name) {
		cfg.KeyLength = ctx.Int(KeyLengthFlag.Name)
	}
	if ctx.IsSet(SubtreeHeightFlag.Name) {
		height := ctx.Uint(SubtreeHeightFlag.Name)
		if height > 16 || !smt.SubtreeHeight(height).Valid() {
			Fatalf("Invalid --%s %d, want 4, 8 or 16", SubtreeHeightFlag.Name, height)
		}
		cfg.SubtreeHeight = smt.SubtreeHeight(height)
	}
	if ctx.IsSet(DiffRetentionFlag.Name) {
		cfg.DiffRetention = ctx.Uint64(DiffRetentionFlag.Name)
	}
	if ctx.IsSet(CacheTreeFlag.Name) {
		cfg.CleanCacheSize = ctx.Int(CacheTreeFlag.Name) * 1024 * 1024
	}
}

// String implements fmt.Stringer.
func (c DatabaseConfig) String() string {
	return fmt.Sprintf("datadir=%s engine=%s cache=%dMB handles=%d", c.DataDir, c.Engine, c.Cache, c.Handles)
}
