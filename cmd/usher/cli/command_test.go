// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "usher",
		Subcommands: []*Command{
			{
				Name: "version",
				Run: func(args []string) error {
					called = "version"
					return nil
				},
			},
			{
				Name: "status",
				Run: func(args []string) error {
					called = "status"
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"status"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "status" {
		t.Errorf("dispatched to %q, want %q", called, "status")
	}
}

func TestCommand_Execute_NestedSubcommands(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "usher",
		Subcommands: []*Command{
			{
				Name: "rescue",
				Subcommands: []*Command{
					{
						Name: "inspect",
						Run: func(args []string) error {
							called = "rescue inspect"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute([]string{"rescue", "inspect", "extra-arg"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "rescue inspect" {
		t.Errorf("dispatched to %q, want %q", called, "rescue inspect")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "extra-arg" {
		t.Errorf("args = %v, want [extra-arg]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var socketPath string
	var target string

	command := &Command{
		Name: "activate",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("activate", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", "/default.sock", "socket path")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute([]string{"--socket", "/custom.sock", "4"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if socketPath != "/custom.sock" {
		t.Errorf("socketPath = %q, want %q", socketPath, "/custom.sock")
	}
	if target != "4" {
		t.Errorf("target = %q, want %q", target, "4")
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "status",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flagSet.Bool("json", false, "output as JSON")
			flagSet.String("socket", "/default.sock", "socket path")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--socet"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "did you mean --socket") {
		t.Errorf("error = %q, want suggestion for '--socket'", errStr)
	}
	// Suggestion should be on the same line as the error, not buried.
	if !strings.Contains(errStr, "socet") {
		t.Errorf("error = %q, should mention the bad flag", errStr)
	}
	// Should include a pointer to --help.
	if !strings.Contains(errStr, "--help") {
		t.Errorf("error = %q, should point to --help", errStr)
	}
}

func TestCommand_Execute_UnknownFlagNoSuggestion(t *testing.T) {
	command := &Command{
		Name: "status",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flagSet.Bool("json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--zzzzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not suggest for distant flag", err.Error())
	}
	if !strings.Contains(err.Error(), "--help") {
		t.Errorf("error = %q, should point to --help", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "usher",
		Subcommands: []*Command{
			{Name: "status"},
			{Name: "watch"},
			{Name: "version"},
		},
	}

	err := root.Execute([]string{"statsu"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), "did you mean \"status\"") {
		t.Errorf("error = %q, want suggestion for 'status'", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandNoSuggestion(t *testing.T) {
	root := &Command{
		Name: "usher",
		Subcommands: []*Command{
			{Name: "status"},
			{Name: "watch"},
		},
	}

	err := root.Execute([]string{"zzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not contain suggestion for distant input", err.Error())
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		t.Run(helpArg, func(t *testing.T) {
			root := &Command{
				Name:    "usher",
				Summary: "Session arbitration for compositors",
				Subcommands: []*Command{
					{Name: "status", Summary: "Show session state"},
				},
			}

			err := root.Execute([]string{helpArg})
			if err != nil {
				t.Errorf("Execute(%q) error: %v", helpArg, err)
			}
		})
	}
}

func TestCommand_Execute_NoArgsShowsHelp(t *testing.T) {
	root := &Command{
		Name: "usher",
		Subcommands: []*Command{
			{Name: "status", Summary: "Show session state"},
		},
	}

	err := root.Execute([]string{})
	if err == nil {
		t.Fatal("Execute() = nil, want error for missing subcommand")
	}
	if !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %q, want 'subcommand required'", err.Error())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	command := &Command{
		Name:        "usher",
		Description: "Session arbitration client for logind-managed seats.",
		Subcommands: []*Command{
			{Name: "status", Summary: "Show session state"},
			{Name: "activate", Summary: "Switch to a virtual terminal"},
			{Name: "version", Summary: "Print version information"},
		},
		Examples: []Example{
			{
				Description: "Show the calling session's state",
				Command:     "usher status --json",
			},
			{
				Description: "Switch the seat to VT 4",
				Command:     "usher activate 4",
			},
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	// Verify structural elements are present.
	for _, want := range []string{
		"Session arbitration client for logind-managed seats.",
		"Usage:",
		"usher <command> [flags]",
		"Commands:",
		"status",
		"Show session state",
		"activate",
		"Switch to a virtual terminal",
		"Examples:",
		"usher status --json",
		"usher activate 4",
		"Run 'usher <command> --help'",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_PrintHelp_WithFlags(t *testing.T) {
	command := &Command{
		Name:    "rescue",
		Summary: "Restore a VT left behind by a crashed compositor",
		Usage:   "usher rescue [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("rescue", pflag.ContinueOnError)
			flagSet.String("state", "/run/usher/vt.state", "takeover state file")
			flagSet.Bool("force", false, "restore even if the record looks stale")
			return flagSet
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"usher rescue [flags]",
		"Flags:",
		"state",
		"force",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_FullName(t *testing.T) {
	root := &Command{Name: "usher"}
	rescue := &Command{Name: "rescue", parent: root}
	inspect := &Command{Name: "inspect", parent: rescue}

	if got := root.fullName(); got != "usher" {
		t.Errorf("root.fullName() = %q, want %q", got, "usher")
	}
	if got := rescue.fullName(); got != "usher rescue" {
		t.Errorf("rescue.fullName() = %q, want %q", got, "usher rescue")
	}
	if got := inspect.fullName(); got != "usher rescue inspect" {
		t.Errorf("inspect.fullName() = %q, want %q", got, "usher rescue inspect")
	}
}
