// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/usherwm/usher/cmd/usher/cli"
	"github.com/usherwm/usher/lib/version"
)

// rootCommand builds the complete usher command tree.
func rootCommand() *cli.Command {
	return &cli.Command{
		Name: "usher",
		Description: `Usher: session arbitration client for logind-managed seats.

Inspect and steer the login session that owns a seat: show whether
the session holds the active VT, follow activity transitions as the
seat switches, request VT switches, and recover a console that a
crashed compositor left in graphics mode.`,
		Subcommands: []*cli.Command{
			statusCommand(),
			watchCommand(),
			activateCommand(),
			rescueCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("usher %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Show the calling session's state",
				Command:     "usher status",
			},
			{
				Description: "Query a running compositor over its control socket",
				Command:     "usher status --socket /run/usher/control.sock",
			},
			{
				Description: "Follow activity transitions until interrupted",
				Command:     "usher watch",
			},
			{
				Description: "Switch the seat to VT 4",
				Command:     "usher activate 4",
			},
			{
				Description: "Restore a console left in graphics mode",
				Command:     "usher rescue",
			},
		},
	}
}
