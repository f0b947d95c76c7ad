// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

// usher-monitor is a read-only terminal dashboard of logind sessions:
// one table row per session (id, user, seat, TTY, state, active),
// updated live from SessionNew/SessionRemoved announcements and
// per-session property changes, with a periodic full re-list to
// recover from any signal the process missed.
//
// The monitor never takes control of anything. It issues only
// ListSessions and property reads, so it is safe to leave running on
// a machine whose seat is owned by a real compositor, and it needs no
// privileges beyond system-bus access.
//
// With --bus-address it watches a usher-logind-mock instead of the
// system logind, which makes it a convenient live view while driving
// mock scenarios.
package main
