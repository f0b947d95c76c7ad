// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package vt

import "errors"

var (
	// ErrNotVirtualTerminal means the opened path is not a console
	// VT (wrong device class, or a minor outside the console range).
	ErrNotVirtualTerminal = errors.New("vt: not a virtual terminal")

	// ErrSignalRange means a configured handshake signal falls
	// outside the usable real-time range.
	ErrSignalRange = errors.New("vt: handshake signal outside the usable real-time range")

	// ErrStateInUse means a rescue state file belongs to a process
	// that is still running; rescuing under it would fight a live
	// compositor.
	ErrStateInUse = errors.New("vt: rescue state belongs to a live process")

	// ErrStateStale means a rescue state file is too old to trust.
	ErrStateStale = errors.New("vt: rescue state is too old")
)
