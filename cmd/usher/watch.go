// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/usherwm/usher/cmd/usher/cli"
	"github.com/usherwm/usher/logind"
)

func watchCommand() *cli.Command {
	var jsonOutput bool

	return &cli.Command{
		Name:    "watch",
		Summary: "Follow the session's activity transitions",
		Description: `Subscribe to logind and print a line every time the calling session
gains or loses the active VT. The current state is printed first.
Runs until interrupted or until logind removes the session.`,
		Usage: "usher watch [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			flagSet.BoolVar(&jsonOutput, "json", false, "one JSON object per line")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Log every VT switch affecting this session",
				Command:     "usher watch --json >> switches.log",
			},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runWatch(jsonOutput)
		},
	}
}

func runWatch(jsonOutput bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setupCtx, cancel := context.WithTimeout(ctx, directCallTimeout)
	defer cancel()

	bus, info, err := resolveDirect(setupCtx)
	if err != nil {
		return err
	}

	logger := cli.NewCommandLogger().With("command", "watch", "session", info.ID)
	client := logind.NewClient(bus, info, logger)
	defer client.Close()

	// Subscribe before the initial read so a transition racing the
	// read is never missed, only reported twice at worst (and the
	// dedupe below drops the duplicate).
	signals, err := client.SubscribeSignals()
	if err != nil {
		return err
	}

	active, err := logind.GetActive(setupCtx, bus, info)
	if err != nil {
		return err
	}
	emitTransition(jsonOutput, active)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("bus connection lost")
			}
			event, ok := client.ParseSignal(sig)
			if !ok {
				continue
			}
			switch event.Kind {
			case logind.EventSessionRemoved:
				fmt.Fprintln(os.Stderr, "session removed by logind")
				return nil
			case logind.EventActiveChanged:
				if event.Active != active {
					active = event.Active
					emitTransition(jsonOutput, active)
				}
			case logind.EventActiveInvalidated:
				queryCtx, cancelQuery := context.WithTimeout(ctx, directCallTimeout)
				value, err := logind.GetActive(queryCtx, bus, info)
				cancelQuery()
				if err != nil {
					logger.Debug("active query failed", "error", err)
					continue
				}
				if value != active {
					active = value
					emitTransition(jsonOutput, active)
				}
			}
		}
	}
}

// transition is one line of watch output in JSON mode.
type transition struct {
	Time   string `json:"time"`
	Active bool   `json:"active"`
}

// emitTransition prints one state line. JSON mode uses a plain
// encoder rather than cli.WriteJSON: a stream wants one object per
// line, not an indented block.
func emitTransition(jsonOutput bool, active bool) {
	now := time.Now()
	if jsonOutput {
		json.NewEncoder(os.Stdout).Encode(transition{
			Time:   now.UTC().Format(time.RFC3339),
			Active: active,
		})
		return
	}
	word := "inactive"
	if active {
		word = "active"
	}
	fmt.Printf("%s %s\n", now.Format(time.RFC3339), word)
}
