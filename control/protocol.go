// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package control

// Device describes one device lease held through logind. Major and
// minor identify the character device; Path is the filesystem path the
// compositor opened it under.
type Device struct {
	Major uint32 `cbor:"major" json:"major"`
	Minor uint32 `cbor:"minor" json:"minor"`
	Path  string `cbor:"path" json:"path"`
}

// Status is a point-in-time snapshot of a session's arbitration state,
// returned by the "status" action. The same struct backs the CLI's
// JSON output, so field names match across both encodings.
type Status struct {
	// SessionID is the logind session identifier ("2", "c7").
	SessionID string `cbor:"session_id" json:"session_id"`

	// Seat is the seat the session is attached to ("seat0").
	Seat string `cbor:"seat" json:"seat"`

	// VT is the kernel virtual terminal number the session owns.
	VT int `cbor:"vt" json:"vt"`

	// Active reports whether the session currently holds the seat.
	Active bool `cbor:"active" json:"active"`

	// SyncDRM reports whether activation is deferred until the DRM
	// device lease is resumed.
	SyncDRM bool `cbor:"sync_drm" json:"sync_drm"`

	// Devices lists the device leases currently held.
	Devices []Device `cbor:"devices,omitempty" json:"devices,omitempty"`
}
