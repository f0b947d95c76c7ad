// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionLost means logind removed this session. The VT has
	// been restored; the compositor should exit.
	ErrSessionLost = errors.New("session: logind removed the session")

	// ErrBusDisconnected means the D-Bus connection died. Without the
	// bus there is no arbitration; the VT has been restored and the
	// compositor should exit.
	ErrBusDisconnected = errors.New("session: bus connection lost")

	// ErrClosed is returned by methods called after Close, or after a
	// fatal event stopped the event loop.
	ErrClosed = errors.New("session: closed")
)

// SetupError reports a Connect failure together with the stage that
// failed. Everything acquired before the failing stage has been
// released; there is nothing for the caller to unwind.
type SetupError struct {
	// Stage names the setup step: "bus", "resolve", "seat", "vt",
	// "signals", "take-control", "terminal", "control-socket".
	Stage string

	// Err is the underlying failure. Sentinel errors from the logind
	// package (ErrNoSession, ErrSeatMismatch, ...) are reachable
	// through errors.Is.
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("session setup (%s): %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }
