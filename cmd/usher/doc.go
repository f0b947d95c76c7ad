// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

// The usher command inspects and steers logind sessions from the
// command line: it reports whether the calling session holds the
// active VT, follows activity transitions as the seat switches,
// requests VT switches, and recovers consoles that a crashed
// compositor left in graphics mode.
//
// Commands that take --socket talk to a running compositor through
// its control socket and see the controller's own state (device
// leases, DRM synchronization). Without --socket they go straight to
// logind over the system bus, which works from any process in the
// session.
package main
