// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/usherwm/usher/lib/clock"
	"github.com/usherwm/usher/lib/process"
	"github.com/usherwm/usher/lib/version"
	"github.com/usherwm/usher/logind"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		busAddress  string
		interval    time.Duration
		showVersion bool
	)

	flag.StringVar(&busAddress, "bus-address", "", "D-Bus address to watch (default: the system bus)")
	flag.DurationVar(&interval, "interval", 15*time.Second, "full re-list interval")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("usher-monitor")
		return nil
	}
	if interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %v", interval)
	}

	// The TUI owns the terminal; keep logging quiet and on stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	var bus logind.Bus
	var err error
	if busAddress != "" {
		bus, err = logind.ConnectAddress(busAddress)
	} else {
		bus, err = logind.ConnectSystemBus()
	}
	if err != nil {
		return err
	}
	defer bus.Close()

	monitor := logind.NewMonitor(bus, logger)
	source := newSessionSource(monitor, clock.Real(), interval, logger)

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := source.Start(startCtx); err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	defer source.Stop()

	program := tea.NewProgram(newModel(source), tea.WithAltScreen())
	final, err := program.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(model); ok && m.err != nil {
		return m.err
	}
	return nil
}
