// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/usherwm/usher/cmd/usher/cli"
	"github.com/usherwm/usher/control"
	"github.com/usherwm/usher/logind"
)

func activateCommand() *cli.Command {
	var socketPath string

	return &cli.Command{
		Name:    "activate",
		Summary: "Switch the seat to another virtual terminal",
		Description: `Request a VT switch. With --socket the request goes to a running
compositor, which switches through the console handle it owns.
Without it the request goes to logind's seat object, which works
from any process in the session.`,
		Usage: "usher activate <vt> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("activate", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", "", "compositor control socket")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Switch the seat to VT 4",
				Command:     "usher activate 4",
			},
			{
				Description: "Switch through a compositor's control socket",
				Command:     "usher activate 2 --socket /run/usher/control.sock",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("activate takes exactly one argument, the VT number")
			}
			vtnr, err := strconv.Atoi(args[0])
			if err != nil || vtnr <= 0 {
				return fmt.Errorf("invalid vt %q", args[0])
			}

			ctx, cancel := context.WithTimeout(context.Background(), directCallTimeout)
			defer cancel()

			if socketPath != "" {
				return control.NewClient(socketPath).ActivateVT(ctx, vtnr)
			}

			bus, info, err := resolveDirect(ctx)
			if err != nil {
				return err
			}
			defer bus.Close()
			return logind.SwitchTo(ctx, bus, info, uint32(vtnr))
		},
	}
}
