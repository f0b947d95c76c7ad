// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package logind

import "errors"

// Errors returned by session resolution and device arbitration. All of
// them surface through fmt.Errorf %w wrapping, so callers test with
// errors.Is.
var (
	// ErrNoSession means the process is not part of a logind session,
	// or the session could not be resolved over the bus.
	ErrNoSession = errors.New("logind: process has no login session")

	// ErrSeatMismatch means the session's seat differs from the seat
	// the caller was configured for.
	ErrSeatMismatch = errors.New("logind: session is on a different seat")

	// ErrNoSeat means a seat-level operation was attempted for a
	// seatless session.
	ErrNoSeat = errors.New("logind: session has no seat")

	// ErrNoVT means the session has no virtual terminal (for example
	// a seat without VTs, or a remote session).
	ErrNoVT = errors.New("logind: session is not running on a VT")

	// ErrVTMismatch means an explicitly requested VT differs from the
	// VT the session actually owns.
	ErrVTMismatch = errors.New("logind: requested VT differs from session VT")

	// ErrTakeControl means logind refused the TakeControl call. The
	// session may already have a controller, or logind may predate
	// the controller API.
	ErrTakeControl = errors.New("logind: cannot take control of session")

	// ErrDeviceRefused means logind refused a TakeDevice call or
	// returned a reply the client could not decode.
	ErrDeviceRefused = errors.New("logind: device lease refused")

	// ErrNotCharDevice means a path passed to OpenDevice does not
	// name a character device. Only character devices (DRM nodes,
	// evdev nodes) participate in logind arbitration.
	ErrNotCharDevice = errors.New("logind: not a character device")
)
