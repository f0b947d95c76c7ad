// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package logind

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Bus is the D-Bus connection surface the logind client uses. It is
// satisfied by *dbus.Conn; tests substitute [FakeBus].
//
// The contract mirrors godbus semantics: channels registered with
// Signal receive matched signals in order, and are closed by the
// implementation when the connection terminates. Consumers treat that
// close as "connection lost".
type Bus interface {
	// Object returns a handle for calling methods on the object at
	// path hosted by the named connection.
	Object(dest string, path dbus.ObjectPath) dbus.BusObject

	// AddMatchSignal subscribes the connection to signals matching
	// the options. RemoveMatchSignal reverses it with the same
	// options.
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error

	// Signal registers a channel to receive matched signals.
	// RemoveSignal unregisters it; after RemoveSignal returns the
	// implementation no longer sends on (or closes) the channel.
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)

	// Close terminates the connection. Registered signal channels
	// are closed.
	Close() error
}

// ConnectSystemBus opens a private connection to the system bus, where
// the real logind lives.
func ConnectSystemBus() (Bus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to system bus: %w", err)
	}
	return conn, nil
}

// ConnectAddress opens a private connection to an explicit bus
// address. Integration tests point this at a usher-logind-mock bus so
// the arbitration handshake runs without touching the real system bus.
func ConnectAddress(address string) (Bus, error) {
	conn, err := dbus.Connect(address)
	if err != nil {
		return nil, fmt.Errorf("connecting to bus at %s: %w", address, err)
	}
	return conn, nil
}
