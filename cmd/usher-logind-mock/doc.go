// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

// The usher-logind-mock daemon impersonates systemd-logind on a
// private D-Bus bus: one session on one seat, with a configurable
// device table. It exists so the session protocol can be exercised
// end to end (development, demos, integration tests) without a real
// logind and without touching the machine's own seat.
//
// The mock claims org.freedesktop.login1 and serves the subset of the
// Manager, Session, Seat, and Properties interfaces the protocol
// runs on. Device leases are backed by /dev/null: the mock arbitrates
// leases, it does not grant hardware.
//
// Scenario control lives on a separate org.usherwm.Mock.Driver
// interface at /org/usherwm/Mock. A test script flips the session
// active, pauses and resumes leases with a chosen pause kind, forces
// clients through the property re-query path, and finally removes
// the session, all over the same bus:
//
//	busctl --address=$ADDR call org.freedesktop.login1 /org/usherwm/Mock \
//	    org.usherwm.Mock.Driver PauseAll s pause
//
// Point it at a private bus with --bus-address (the address printed
// by dbus-run-session or dbus-daemon --print-address); with no
// address it claims the name on the system bus.
package main
