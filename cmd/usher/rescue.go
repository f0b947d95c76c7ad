// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/usherwm/usher/cmd/usher/cli"
	"github.com/usherwm/usher/lib/clock"
	"github.com/usherwm/usher/lib/codec"
	"github.com/usherwm/usher/vt"
)

func rescueCommand() *cli.Command {
	var statePath string
	var inspect bool
	var force bool
	var jsonOutput bool

	return &cli.Command{
		Name:    "rescue",
		Summary: "Restore a console left behind by a crashed compositor",
		Description: `Read the takeover record the compositor wrote when it put a VT into
graphics mode, and force that VT back to text mode with its keyboard
restored. Refuses to act while the recording process is still alive,
or when the record is old enough to be leftover junk; --force
overrides both checks.

--inspect prints the record without touching the console. It exits 1
when no record exists, so scripts can probe for a pending rescue.`,
		Usage: "usher rescue [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("rescue", pflag.ContinueOnError)
			flagSet.StringVar(&statePath, "state", vt.DefaultStatePath, "takeover state file")
			flagSet.BoolVar(&inspect, "inspect", false, "print the record without restoring")
			flagSet.BoolVar(&force, "force", false, "restore even if the record fails validation")
			flagSet.BoolVar(&jsonOutput, "json", false, "with --inspect, output the record as JSON")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Recover the console after a compositor crash",
				Command:     "usher rescue",
			},
			{
				Description: "Check whether a takeover record is pending",
				Command:     "usher rescue --inspect",
			},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runRescue(statePath, inspect, force, jsonOutput)
		},
	}
}

func runRescue(statePath string, inspect, force, jsonOutput bool) error {
	state, err := vt.ReadState(statePath)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "no takeover record at %s\n", statePath)
		if inspect {
			return &cli.ExitError{Code: 1}
		}
		return nil
	}
	if err != nil {
		return err
	}

	if inspect {
		return inspectState(statePath, state, jsonOutput)
	}

	if !force {
		if err := state.Validate(clock.Real()); err != nil {
			return fmt.Errorf("%w (use --force to override)", err)
		}
	}

	logger := cli.NewCommandLogger().With("command", "rescue", "vt", state.VT)
	if err := vt.Rescue(state, logger); err != nil {
		return err
	}

	// The record is consumed. Leaving it behind would invite a second
	// rescue of a console that is already fine.
	if err := os.Remove(statePath); err != nil {
		logger.Warn("removing consumed rescue state", "error", err)
	}

	fmt.Printf("restored VT %d to text mode\n", state.VT)
	return nil
}

// stateRecord is the JSON shape of an inspected takeover record.
type stateRecord struct {
	VT           int    `json:"vt"`
	KeyboardMode int    `json:"keyboard_mode"`
	PID          int    `json:"pid"`
	SavedAt      string `json:"saved_at"`
}

func inspectState(path string, state vt.State, jsonOutput bool) error {
	savedAt := time.Unix(state.SavedAt, 0)

	if jsonOutput {
		return cli.WriteJSON(stateRecord{
			VT:           state.VT,
			KeyboardMode: state.KeyboardMode,
			PID:          state.PID,
			SavedAt:      savedAt.UTC().Format(time.RFC3339),
		})
	}

	fmt.Printf("vt:            %d\n", state.VT)
	fmt.Printf("keyboard mode: %d\n", state.KeyboardMode)
	fmt.Printf("pid:           %d\n", state.PID)
	fmt.Printf("saved at:      %s\n", savedAt.Format(time.RFC3339))

	// The raw record in CBOR diagnostic notation, for debugging a
	// state file some other build produced.
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	notation, err := codec.Diagnose(data)
	if err != nil {
		return err
	}
	fmt.Printf("raw:           %s\n", notation)
	return nil
}
