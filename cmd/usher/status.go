// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/usherwm/usher/cmd/usher/cli"
	"github.com/usherwm/usher/control"
	"github.com/usherwm/usher/logind"
)

func statusCommand() *cli.Command {
	var socketPath string
	var jsonOutput bool

	return &cli.Command{
		Name:    "status",
		Summary: "Show the calling session's arbitration state",
		Description: `Show the login session's identity and whether it holds the active VT.

With --socket the state comes from a running compositor's control
socket and includes the controller's side of the protocol: DRM
synchronization mode and the device leases currently held. Without
it the state comes straight from logind.`,
		Usage: "usher status [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", "", "compositor control socket")
			flagSet.BoolVar(&jsonOutput, "json", false, "output as JSON")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Show the session as logind sees it",
				Command:     "usher status",
			},
			{
				Description: "Show a compositor's controller state",
				Command:     "usher status --socket /run/usher/control.sock --json",
			},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			ctx, cancel := context.WithTimeout(context.Background(), directCallTimeout)
			defer cancel()

			if socketPath != "" {
				status, err := control.NewClient(socketPath).Status(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return cli.WriteJSON(status)
				}
				renderControllerStatus(os.Stdout, status)
				return nil
			}

			bus, info, err := resolveDirect(ctx)
			if err != nil {
				return err
			}
			defer bus.Close()

			active, err := logind.GetActive(ctx, bus, info)
			if err != nil {
				return err
			}

			summary := sessionSummary{
				SessionID: info.ID,
				Seat:      info.Seat,
				VT:        int(info.VT),
				Active:    active,
			}
			if jsonOutput {
				return cli.WriteJSON(summary)
			}
			renderSessionSummary(os.Stdout, summary)
			return nil
		},
	}
}

// sessionSummary is the observer-side status: what logind knows about
// the session, without the controller's protocol state.
type sessionSummary struct {
	SessionID string `json:"session_id"`
	Seat      string `json:"seat"`
	VT        int    `json:"vt"`
	Active    bool   `json:"active"`
}

func renderSessionSummary(w io.Writer, summary sessionSummary) {
	fmt.Fprintf(w, "session: %s\n", summary.SessionID)
	fmt.Fprintf(w, "seat:    %s\n", summary.Seat)
	fmt.Fprintf(w, "vt:      %d\n", summary.VT)
	fmt.Fprintf(w, "active:  %s\n", yesNo(summary.Active))
}

func renderControllerStatus(w io.Writer, status control.Status) {
	fmt.Fprintf(w, "session:  %s\n", status.SessionID)
	fmt.Fprintf(w, "seat:     %s\n", status.Seat)
	fmt.Fprintf(w, "vt:       %d\n", status.VT)
	fmt.Fprintf(w, "active:   %s\n", yesNo(status.Active))
	fmt.Fprintf(w, "sync-drm: %s\n", yesNo(status.SyncDRM))

	if len(status.Devices) == 0 {
		fmt.Fprintf(w, "devices:  none\n")
		return
	}
	fmt.Fprintf(w, "devices:\n")
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	for _, device := range status.Devices {
		fmt.Fprintf(tw, "  %d:%d\t%s\n", device.Major, device.Minor, device.Path)
	}
	tw.Flush()
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
