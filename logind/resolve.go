// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package logind

import (
	"context"
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
)

// SessionInfo identifies the login session a process belongs to, as
// resolved from logind.
type SessionInfo struct {
	// ID is the logind session identifier ("2", "c1", ...).
	ID string

	// Path is the session's D-Bus object path.
	Path dbus.ObjectPath

	// Seat is the seat the session is attached to ("seat0"), or
	// empty for seatless sessions.
	Seat string

	// SeatPath is the seat's D-Bus object path, for seat-level calls
	// like SwitchTo. Empty for seatless sessions.
	SeatPath dbus.ObjectPath

	// VT is the kernel virtual terminal number the session owns, or
	// 0 when the session has no VT.
	VT uint32
}

// ResolveSession determines the calling process's login session and
// reads its identity properties. The session is located through
// XDG_SESSION_ID when set (logind exports it into every session
// leader's environment), otherwise by asking logind which session owns
// this process's PID.
func ResolveSession(ctx context.Context, bus Bus) (SessionInfo, error) {
	manager := bus.Object(busName, managerPath)

	var path dbus.ObjectPath
	if id := os.Getenv("XDG_SESSION_ID"); id != "" {
		call := manager.CallWithContext(ctx, managerInterface+".GetSession", 0, id)
		if call.Err != nil {
			return SessionInfo{}, fmt.Errorf("%w: GetSession(%q): %v", ErrNoSession, id, call.Err)
		}
		if err := call.Store(&path); err != nil {
			return SessionInfo{}, fmt.Errorf("%w: GetSession(%q): %v", ErrNoSession, id, err)
		}
	} else {
		call := manager.CallWithContext(ctx, managerInterface+".GetSessionByPID", 0, uint32(os.Getpid()))
		if call.Err != nil {
			return SessionInfo{}, fmt.Errorf("%w: GetSessionByPID: %v", ErrNoSession, call.Err)
		}
		if err := call.Store(&path); err != nil {
			return SessionInfo{}, fmt.Errorf("%w: GetSessionByPID: %v", ErrNoSession, err)
		}
	}

	session := bus.Object(busName, path)

	var id string
	if err := getProperty(ctx, session, sessionInterface, "Id", &id); err != nil {
		return SessionInfo{}, fmt.Errorf("%w: reading session Id: %v", ErrNoSession, err)
	}

	// The Seat property is a (seat-id, object-path) struct. Only the
	// id matters here.
	var seat struct {
		ID   string
		Path dbus.ObjectPath
	}
	if err := getProperty(ctx, session, sessionInterface, "Seat", &seat); err != nil {
		return SessionInfo{}, fmt.Errorf("%w: reading session Seat: %v", ErrNoSession, err)
	}

	var vtnr uint32
	if err := getProperty(ctx, session, sessionInterface, "VTNr", &vtnr); err != nil {
		return SessionInfo{}, fmt.Errorf("%w: reading session VTNr: %v", ErrNoSession, err)
	}

	return SessionInfo{ID: id, Path: path, Seat: seat.ID, SeatPath: seat.Path, VT: vtnr}, nil
}

// SwitchTo asks logind to switch the session's seat to the given VT,
// the bus-level equivalent of a VT_ACTIVATE ioctl. It works from any
// process in the session, not just the one holding the console.
func SwitchTo(ctx context.Context, bus Bus, session SessionInfo, vt uint32) error {
	if session.SeatPath == "" {
		return fmt.Errorf("%w: session %s has no seat", ErrNoSeat, session.ID)
	}
	seat := bus.Object(busName, session.SeatPath)
	call := seat.CallWithContext(ctx, seatInterface+".SwitchTo", 0, vt)
	if call.Err != nil {
		return fmt.Errorf("SwitchTo(%d): %w", vt, call.Err)
	}
	return nil
}

// GetActive reads the session's Active property once. Observers (the
// status and watch commands) use this directly; the controller role
// goes through [Client.GetActiveAsync] instead so replies serialize
// with the signal stream.
func GetActive(ctx context.Context, bus Bus, session SessionInfo) (bool, error) {
	object := bus.Object(busName, session.Path)
	var active bool
	if err := getProperty(ctx, object, sessionInterface, "Active", &active); err != nil {
		return false, fmt.Errorf("reading session Active: %w", err)
	}
	return active, nil
}

// getProperty reads one property via org.freedesktop.DBus.Properties
// and stores the variant payload into out. BusObject.GetProperty
// offers the same thing without a context, which would leave session
// resolution unable to honor cancellation.
func getProperty(ctx context.Context, object dbus.BusObject, iface, name string, out any) error {
	call := object.CallWithContext(ctx, propertiesInterface+".Get", 0, iface, name)
	if call.Err != nil {
		return call.Err
	}
	var value dbus.Variant
	if err := call.Store(&value); err != nil {
		return err
	}
	return value.Store(out)
}
