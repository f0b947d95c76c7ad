// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/usherwm/usher/cmd/usher/cli"
	"github.com/usherwm/usher/control"
	"github.com/usherwm/usher/vt"
)

// TestCommandTreeWellFormed walks the production command tree and
// checks the structural invariants the help output and dispatcher
// rely on: names and summaries everywhere, no duplicate siblings,
// and something to execute at every node.
func TestCommandTreeWellFormed(t *testing.T) {
	root := rootCommand()
	walkCommands(root, nil, func(command *cli.Command, path []string) {
		name := strings.Join(path, " ")
		if command.Name == "" {
			t.Errorf("%s: command with empty name", name)
		}
		if command != root && command.Summary == "" {
			t.Errorf("%s: command without summary", name)
		}
		if command.Run == nil && len(command.Subcommands) == 0 {
			t.Errorf("%s: command with neither Run nor subcommands", name)
		}

		seen := make(map[string]bool)
		for _, sub := range command.Subcommands {
			if seen[sub.Name] {
				t.Errorf("%s: duplicate subcommand %q", name, sub.Name)
			}
			seen[sub.Name] = true
		}
	})
}

// walkCommands recursively visits every command in the tree, calling
// visit for each node with the accumulated command path.
func walkCommands(command *cli.Command, path []string, visit func(*cli.Command, []string)) {
	current := make([]string, len(path)+1)
	copy(current, path)
	current[len(path)] = command.Name
	visit(command, current)
	for _, sub := range command.Subcommands {
		walkCommands(sub, current, visit)
	}
}

func TestRenderSessionSummary(t *testing.T) {
	var buffer bytes.Buffer
	renderSessionSummary(&buffer, sessionSummary{
		SessionID: "7",
		Seat:      "seat0",
		VT:        3,
		Active:    true,
	})

	output := buffer.String()
	for _, want := range []string{"session: 7", "seat:    seat0", "vt:      3", "active:  yes"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestRenderControllerStatus(t *testing.T) {
	var buffer bytes.Buffer
	renderControllerStatus(&buffer, control.Status{
		SessionID: "7",
		Seat:      "seat0",
		VT:        3,
		Active:    false,
		SyncDRM:   true,
		Devices: []control.Device{
			{Major: 226, Minor: 0, Path: "/dev/dri/card0"},
			{Major: 13, Minor: 64, Path: "/dev/input/event0"},
		},
	})

	output := buffer.String()
	for _, want := range []string{
		"active:   no",
		"sync-drm: yes",
		"226:0",
		"/dev/dri/card0",
		"13:64",
		"/dev/input/event0",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestRenderControllerStatusNoDevices(t *testing.T) {
	var buffer bytes.Buffer
	renderControllerStatus(&buffer, control.Status{SessionID: "7", Seat: "seat0", VT: 3})

	if !strings.Contains(buffer.String(), "devices:  none") {
		t.Errorf("output missing the no-devices line:\n%s", buffer.String())
	}
}

// TestRunRescueNoRecord verifies the exit behavior when no takeover
// record exists: plain rescue has nothing to do and succeeds, while
// --inspect signals the absence with exit code 1.
func TestRunRescueNoRecord(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "vt.state")

	if err := runRescue(statePath, false, false, false); err != nil {
		t.Fatalf("runRescue without record: %v", err)
	}

	err := runRescue(statePath, true, false, false)
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError for --inspect without record, got %v", err)
	}
	if exitErr.Code != 1 {
		t.Fatalf("exit code = %d, want 1", exitErr.Code)
	}
}

// TestRunRescueRefusesLiveOwner verifies that a record naming a live
// process is refused without --force.
func TestRunRescueRefusesLiveOwner(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "vt.state")
	state := vt.State{
		VT:           3,
		KeyboardMode: 3,
		PID:          os.Getpid(),
		SavedAt:      time.Now().Unix(),
	}
	if err := vt.WriteState(statePath, state); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	err := runRescue(statePath, false, false, false)
	if !errors.Is(err, vt.ErrStateInUse) {
		t.Fatalf("expected ErrStateInUse, got %v", err)
	}
	if !strings.Contains(err.Error(), "--force") {
		t.Errorf("error %q should mention the --force override", err)
	}
}

// TestRunRescueRefusesStaleRecord verifies the staleness check on
// records whose owner is long gone.
func TestRunRescueRefusesStaleRecord(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "vt.state")
	state := vt.State{
		VT:           3,
		KeyboardMode: 3,
		PID:          0,
		SavedAt:      time.Now().Add(-100 * time.Hour).Unix(),
	}
	if err := vt.WriteState(statePath, state); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	err := runRescue(statePath, false, false, false)
	if !errors.Is(err, vt.ErrStateStale) {
		t.Fatalf("expected ErrStateStale, got %v", err)
	}
}

// TestRunRescueInspect verifies that a present record is inspectable.
// The restore path itself is exercised in the vt package against a
// scripted console.
func TestRunRescueInspect(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "vt.state")
	state := vt.State{
		VT:           5,
		KeyboardMode: 3,
		PID:          0,
		SavedAt:      time.Now().Unix(),
	}
	if err := vt.WriteState(statePath, state); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	if err := runRescue(statePath, true, false, false); err != nil {
		t.Fatalf("runRescue --inspect: %v", err)
	}
	if err := runRescue(statePath, true, false, true); err != nil {
		t.Fatalf("runRescue --inspect --json: %v", err)
	}
}
