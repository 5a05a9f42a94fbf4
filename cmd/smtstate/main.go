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

// smtstate is a command-line tool for an authenticated key-value state store.
package main

import (
	"fmt"
	"os"

	"github.com/sunyihoo/smtstate/cmd/utils"
	"github.com/sunyihoo/smtstate/internal/debug"
	"github.com/sunyihoo/smtstate/internal/flags"
	"github.com/urfave/cli/v2"
)

var app = flags.NewApp("the authenticated state store command line interface")

func init() {
	app.Commands = []*cli.Command{
		// See statecmd.go:
		rootCommand,
		getCommand,
		setCommand,
		deleteCommand,
		revertCommand,
		iterateCommand,
		proveCommand,
		verifyCommand,
		checkpointCommand,
		checkpointsCommand,
		pruneCommand,
		// See dbcmd.go:
		dbCommand,
		// See config.go:
		dumpConfigCommand,
	}
	app.Flags = flags.Merge(
		utils.DatabaseFlags,
		utils.StateFlags,
		[]cli.Flag{configFileFlag, utils.ReadOnlyFlag},
		debug.Flags,
	)
	flags.AutoEnvVars(app.Flags, "SMTSTATE")

	app.Before = func(ctx *cli.Context) error {
		flags.MigrateGlobalFlags(ctx)
		if err := debug.Setup(ctx); err != nil {
			return err
		}
		flags.CheckEnvVars(ctx, app.Flags, "SMTSTATE")
		return nil
	}
	app.After = func(ctx *cli.Context) error {
		debug.Exit()
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
