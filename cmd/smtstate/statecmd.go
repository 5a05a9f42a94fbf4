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
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/olekukonko/tablewriter"
	"github.com/sunyihoo/smtstate/core/state"
	"github.com/sunyihoo/smtstate/internal/flags"
	"github.com/sunyihoo/smtstate/smt"
	"github.com/urfave/cli/v2"
)

var (
	dryRunFlag = &cli.BoolFlag{
		Name:  "dryrun",
		Usage: "Compute the resulting root without writing anything",
	}
	expectedRootFlag = &cli.StringFlag{
		Name:  "expected-root",
		Usage: "Abort the commit unless it produces this root (hex)",
	}
	startFlag = &cli.StringFlag{
		Name:  "start",
		Usage: "First key of the range (hex, inclusive)",
	}
	endFlag = &cli.StringFlag{
		Name:  "end",
		Usage: "Last key of the range (hex, inclusive)",
	}
	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "Maximum number of entries, 0 for no limit",
	}
	reverseFlag = &cli.BoolFlag{
		Name:  "reverse",
		Usage: "Iterate in descending key order",
	}
	rootFlag = &cli.StringFlag{
		Name:  "root",
		Usage: "Prove against this root (hex) instead of the current one",
	}
	dirFlag = &cli.StringFlag{
		Name:  "dir",
		Usage: "Also write a physical copy of the database into this directory",
	}
	deleteFlag = &cli.BoolFlag{
		Name:  "delete",
		Usage: "Remove the named checkpoint instead of creating it",
	}
)

var (
	rootCommand = &cli.Command{
		Action: showRoot,
		Name:   "root",
		Usage:  "Print the current state root and version",
	}
	getCommand = &cli.Command{
		Action:    getValue,
		Name:      "get",
		Usage:     "Print the committed value of a key",
		ArgsUsage: "<hexkey>",
	}
	setCommand = &cli.Command{
		Action:    setValues,
		Name:      "set",
		Usage:     "Set keys to values and commit them as a new version",
		ArgsUsage: "<hexkey> <hexvalue> [<hexkey> <hexvalue>...]",
		Flags:     []cli.Flag{dryRunFlag, expectedRootFlag},
	}
	deleteCommand = &cli.Command{
		Action:    deleteKeys,
		Name:      "delete",
		Usage:     "Remove keys and commit the removal as a new version",
		ArgsUsage: "<hexkey> [<hexkey>...]",
		Flags:     []cli.Flag{dryRunFlag, expectedRootFlag},
	}
	revertCommand = &cli.Command{
		Action: revertState,
		Name:   "revert",
		Usage:  "Undo the latest commit",
	}
	iterateCommand = &cli.Command{
		Action: iterateState,
		Name:   "iterate",
		Usage:  "Print the committed entries in a key range",
		Flags:  []cli.Flag{startFlag, endFlag, limitFlag, reverseFlag},
	}
	proveCommand = &cli.Command{
		Action:    proveKeys,
		Name:      "prove",
		Usage:     "Print an encoded inclusion or non-inclusion proof for keys",
		ArgsUsage: "<hexkey> [<hexkey>...]",
		Flags:     []cli.Flag{rootFlag},
	}
	verifyCommand = &cli.Command{
		Action:    verifyProof,
		Name:      "verify",
		Usage:     "Check an encoded proof for keys against a root",
		ArgsUsage: "<hexroot> <hexproof> <hexkey> [<hexkey>...]",
	}
	checkpointCommand = &cli.Command{
		Action:    makeCheckpoint,
		Name:      "checkpoint",
		Usage:     "Register the current state under a name",
		ArgsUsage: "<name>",
		Flags:     []cli.Flag{dirFlag, deleteFlag},
		Description: `
The diffs needed to revert back to a checkpoint are kept by the prune command
and by diff retention until the checkpoint is deleted again.`,
	}
	checkpointsCommand = &cli.Command{
		Action: listCheckpoints,
		Name:   "checkpoints",
		Usage:  "List the registered checkpoints",
	}
	pruneCommand = &cli.Command{
		Action:    pruneDiffs,
		Name:      "prune",
		Usage:     "Delete the diffs of all versions below the given one",
		ArgsUsage: "<version>",
	}
)

// parseHex decodes a hex argument, the 0x prefix is optional.
func parseHex(arg string) ([]byte, error) {
	if !strings.HasPrefix(arg, "0x") && !strings.HasPrefix(arg, "0X") {
		arg = "0x" + arg
	}
	if arg == "0x" {
		return []byte{}, nil
	}
	return hexutil.Decode(arg)
}

func parseHexArgs(args []string) ([][]byte, error) {
	out := make([][]byte, len(args))
	for i, arg := range args {
		b, err := parseHex(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid hex argument %q: %v", arg, err)
		}
		out[i] = b
	}
	return out, nil
}

func showRoot(ctx *cli.Context) error {
	statedb, db := makeStateDB(ctx, true)
	defer db.Close()

	current := statedb.CurrentState()
	fmt.Printf("root:    %s\nversion: %d\n", hexutil.Encode(current.Root), current.Version)
	return nil
}

func getValue(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("required argument: <hexkey>")
	}
	key, err := parseHex(ctx.Args().First())
	if err != nil {
		return err
	}
	statedb, db := makeStateDB(ctx, true)
	defer db.Close()

	value, err := statedb.Get(key)
	if errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("key %x not found", key)
	} else if err != nil {
		return err
	}
	fmt.Println(hexutil.Encode(value))
	return nil
}

func commitOptions(ctx *cli.Context) (state.CommitOptions, error) {
	opts := state.CommitOptions{DryRun: ctx.Bool(dryRunFlag.Name)}
	if ctx.IsSet(expectedRootFlag.Name) {
		root, err := parseHex(ctx.String(expectedRootFlag.Name))
		if err != nil {
			return opts, fmt.Errorf("invalid --%s: %v", expectedRootFlag.Name, err)
		}
		opts.ExpectedRoot = root
	}
	return opts, nil
}

// commitChanges stages writes through fn and commits them.
func commitChanges(ctx *cli.Context, fn func(*state.StateDB) error) error {
	opts, err := commitOptions(ctx)
	if err != nil {
		return err
	}
	statedb, db := makeStateDB(ctx, false)
	defer db.Close()

	if err := fn(statedb); err != nil {
		return err
	}
	root, err := statedb.Commit(opts)
	if err != nil {
		return err
	}
	if opts.DryRun {
		fmt.Printf("root:    %s (dry run)\n", hexutil.Encode(root))
		return nil
	}
	fmt.Printf("root:    %s\nversion: %d\n", hexutil.Encode(root), statedb.CurrentState().Version)
	return nil
}

func setValues(ctx *cli.Context) error {
	if ctx.NArg() == 0 || ctx.NArg()%2 != 0 {
		return fmt.Errorf("required arguments: <hexkey> <hexvalue> pairs")
	}
	args, err := parseHexArgs(ctx.Args().Slice())
	if err != nil {
		return err
	}
	return commitChanges(ctx, func(statedb *state.StateDB) error {
		for i := 0; i < len(args); i += 2 {
			if err := statedb.Set(args[i], args[i+1]); err != nil {
				return err
			}
		}
		return nil
	})
}

func deleteKeys(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("required arguments: <hexkey>...")
	}
	keys, err := parseHexArgs(ctx.Args().Slice())
	if err != nil {
		return err
	}
	return commitChanges(ctx, func(statedb *state.StateDB) error {
		for _, key := range keys {
			if err := statedb.Remove(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func revertState(ctx *cli.Context) error {
	statedb, db := makeStateDB(ctx, false)
	defer db.Close()

	root, err := statedb.Revert()
	if err != nil {
		return err
	}
	fmt.Printf("root:    %s\nversion: %d\n", hexutil.Encode(root), statedb.CurrentState().Version)
	return nil
}

func iterateState(ctx *cli.Context) error {
	opts := state.IterateOptions{
		Limit:   ctx.Int(limitFlag.Name),
		Reverse: ctx.Bool(reverseFlag.Name),
	}
	var err error
	if ctx.IsSet(startFlag.Name) {
		if opts.Start, err = parseHex(ctx.String(startFlag.Name)); err != nil {
			return err
		}
	}
	if ctx.IsSet(endFlag.Name) {
		if opts.End, err = parseHex(ctx.String(endFlag.Name)); err != nil {
			return err
		}
	}
	statedb, db := makeStateDB(ctx, true)
	defer db.Close()

	// Go through a reader so a long listing sees a single version.
	reader, err := statedb.NewReader()
	if err != nil {
		return err
	}
	defer reader.Close()

	pairs, err := reader.Iterate(opts)
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		fmt.Printf("%s %s\n", hexutil.Encode(kv.Key), hexutil.Encode(kv.Value))
	}
	log.Debug("Iterated state", "version", reader.State().Version, "entries", len(pairs))
	return nil
}

func proveKeys(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("required arguments: <hexkey>...")
	}
	keys, err := parseHexArgs(ctx.Args().Slice())
	if err != nil {
		return err
	}
	statedb, db := makeStateDB(ctx, true)
	defer db.Close()

	root := statedb.Root()
	if ctx.IsSet(rootFlag.Name) {
		if root, err = parseHex(ctx.String(rootFlag.Name)); err != nil {
			return err
		}
	}
	proof, err := statedb.ProveAt(root, keys)
	if err != nil {
		return err
	}
	fmt.Println(hexutil.Encode(proof.Encode()))
	return nil
}

func verifyProof(ctx *cli.Context) error {
	if ctx.NArg() < 3 {
		return fmt.Errorf("required arguments: <hexroot> <hexproof> <hexkey>...")
	}
	args, err := parseHexArgs(ctx.Args().Slice())
	if err != nil {
		return err
	}
	proof, err := smt.DecodeProof(args[1])
	if err != nil {
		return err
	}
	cfg := makeConfig(ctx)
	if !smt.Verify(args[0], args[2:], proof, cfg.State.KeyLength) {
		return errors.New("proof is invalid")
	}
	for i, key := range args[2:] {
		if value, ok := proof.Lookup(key); ok {
			fmt.Printf("%s included, value %s\n", ctx.Args().Get(i+2), hexutil.Encode(value))
		} else {
			fmt.Printf("%s not included\n", ctx.Args().Get(i+2))
		}
	}
	return nil
}

func makeCheckpoint(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("required argument: <name>")
	}
	if err := flags.CheckExclusive(ctx, dirFlag, deleteFlag); err != nil {
		return err
	}
	name := ctx.Args().First()

	statedb, db := makeStateDB(ctx, false)
	defer db.Close()

	if ctx.Bool(deleteFlag.Name) {
		return statedb.DeleteCheckpoint(name)
	}
	if err := statedb.Checkpoint(name); err != nil {
		return err
	}
	if dir := ctx.String(dirFlag.Name); dir != "" {
		return statedb.CheckpointTo(dir)
	}
	return nil
}

func listCheckpoints(ctx *cli.Context) error {
	statedb, db := makeStateDB(ctx, true)
	defer db.Close()

	checkpoints := statedb.Checkpoints()
	names := make([]string, 0, len(checkpoints))
	for name := range checkpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "Version", "Root"})
	for _, name := range names {
		cp := checkpoints[name]
		table.Append([]string{name, strconv.FormatUint(cp.Version, 10), hexutil.Encode(cp.Root)})
	}
	table.Render()
	return nil
}

func pruneDiffs(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("required argument: <version>")
	}
	version, err := strconv.ParseUint(ctx.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version: %v", err)
	}
	statedb, db := makeStateDB(ctx, false)
	defer db.Close()

	if err := statedb.CleanDiffUntil(version); err != nil {
		return err
	}
	if oldest, ok := statedb.OldestDiffVersion(); ok {
		fmt.Printf("revertible down to version %d\n", oldest-1)
	} else {
		fmt.Println("no diffs left, the current state is permanent")
	}
	return nil
}
