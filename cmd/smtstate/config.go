// Copyright 2024 The go-ethereum Authors
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

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/ethereum/go-ethereum/log"
	"github.com/naoina/toml"
	"github.com/sunyihoo/smtstate/cmd/utils"
	"github.com/sunyihoo/smtstate/core/state"
	"github.com/sunyihoo/smtstate/internal/flags"
	"github.com/urfave/cli/v2"
)

var (
	dumpConfigCommand = &cli.Command{
		Action:      dumpConfig,
		Name:        "dumpconfig",
		Usage:       "Export configuration values in a TOML format",
		ArgsUsage:   "<dumpfile (optional)>",
		Flags:       flags.Merge(utils.DatabaseFlags, utils.StateFlags, []cli.Flag{configFileFlag}),
		Description: `Export configuration values in TOML format (to stdout by default).`,
	}

	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: flags.MiscCategory,
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type smtstateConfig struct {
	Database utils.DatabaseConfig
	State    state.Config
}

func loadConfig(file string, cfg *smtstateConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig loads the configuration based on the given command line
// parameters and config file.
func makeConfig(ctx *cli.Context) smtstateConfig {
	// Load defaults.
	cfg := smtstateConfig{
		Database: utils.DefaultDatabaseConfig,
		State:    state.Defaults,
	}
	// Load config file.
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			utils.Fatalf("%v", err)
		}
	}
	// Apply flags.
	utils.SetDatabaseConfig(ctx, &cfg.Database)
	utils.SetStateConfig(ctx, &cfg.State)
	return cfg
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg := makeConfig(ctx)

	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	dump.WriteString("# Note: State.KeyLength and State.SubtreeHeight are fixed once a store is created.\n\n")
	dump.Write(out)
	log.Debug("Dumped configuration", "database", cfg.Database, "state", &cfg.State)
	return nil
}

// makeStateDB opens the database configured by ctx and the state on top of
// it. The returned database must be closed by the caller.
func makeStateDB(ctx *cli.Context, readonly bool) (*state.StateDB, *utils.Database) {
	cfg := makeConfig(ctx)
	if ctx.Bool(utils.ReadOnlyFlag.Name) {
		readonly = true
	}
	db, err := utils.OpenDatabase(cfg.Database, cfg.State.MetricsNamespace, readonly)
	if err != nil {
		utils.Fatalf("Failed to open database: %v", err)
	}
	statedb, err := state.New(db, &cfg.State)
	if err != nil {
		db.Close()
		utils.Fatalf("Failed to open state: %v", err)
	}
	return statedb, db
}
