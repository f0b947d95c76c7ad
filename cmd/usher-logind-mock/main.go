// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/usherwm/usher/lib/process"
	"github.com/usherwm/usher/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		busAddress  string
		configPath  string
		showVersion bool
	)

	flag.StringVar(&busAddress, "bus-address", "", "D-Bus address to serve on (default: the system bus)")
	flag.StringVar(&configPath, "config", "", "YAML session and device table (default: built-in demo world)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("usher-logind-mock")
		return nil
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var conn *dbus.Conn
	if busAddress != "" {
		conn, err = dbus.Connect(busAddress)
	} else {
		conn, err = dbus.ConnectSystemBus()
	}
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer conn.Close()

	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", busName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("%s is already owned; point --bus-address at a private bus", busName)
	}

	mock := NewMock(config, logger, conn.Emit)
	if err := exportAll(conn, mock); err != nil {
		return err
	}

	// Watch for the controller's bus name vanishing, so a crashed
	// compositor does not leave the session controlled forever.
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return fmt.Errorf("watching name owners: %w", err)
	}
	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	go watchNameOwners(signals, mock)

	mock.AnnounceSession()
	logger.Info("mock logind ready",
		"session", mock.SessionPath(),
		"seat", mock.SeatPath(),
		"devices", len(config.Devices))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	return nil
}

// watchNameOwners feeds bus name losses to the mock. The channel
// closes when the connection does.
func watchNameOwners(signals <-chan *dbus.Signal, mock *Mock) {
	for sig := range signals {
		if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) != 3 {
			continue
		}
		name, _ := sig.Body[0].(string)
		newOwner, _ := sig.Body[2].(string)
		if newOwner == "" {
			mock.HandleNameLost(name)
		}
	}
}
