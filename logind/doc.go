// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

// Package logind is a client for the session-controller surface of
// systemd-logind (org.freedesktop.login1) on the system D-Bus.
//
// A compositor running inside a login session does not open input and
// display devices itself. It asks logind for them: TakeControl claims
// the session's controller role, TakeDevice leases an already-open
// file descriptor for one device, and logind revokes and restores
// those leases around session switches by emitting PauseDevice and
// ResumeDevice signals. The [Client] wraps exactly this surface:
//
//   - Blocking control calls: [Client.TakeControl], [Client.TakeDevice].
//   - Fire-and-forget notifications: [Client.ReleaseControl],
//     [Client.ReleaseDevice], [Client.PauseDeviceComplete]. These are
//     sent without expecting a reply; failures are logged and
//     abandoned, matching the protocol's intent (logind reclaims
//     forcibly after a timeout whether or not the notification
//     arrives).
//   - Device convenience: [Client.OpenDevice] and [Client.CloseDevice]
//     bundle the stat, lease, and flag-adjustment steps around a
//     device path.
//   - The asynchronous Active query: [Client.GetActiveAsync] issues a
//     Properties.Get that completes on a caller-supplied channel, so a
//     single-threaded event loop can keep servicing signals while the
//     query is in flight.
//
// Signal traffic arrives on the channel returned by
// [Client.SubscribeSignals] and is decoded by [Client.ParseSignal]
// into [Event] values. Parsing is deliberately forgiving: a malformed
// signal is logged and dropped, never fatal, because logind versions
// differ in what they emit and a compositor must not die over a
// cosmetic mismatch.
//
// The package talks to the bus through the [Bus] interface, satisfied
// by *dbus.Conn. Tests substitute [FakeBus], which scripts method
// replies and injects signals without a running bus daemon.
package logind
