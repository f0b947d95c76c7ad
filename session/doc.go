// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

// Package session ties the arbitration pieces together: the logind
// client, the VT takeover, and the event loop that keeps "is this
// session active" coherent while logind, the kernel, and the
// compositor all report at their own pace.
//
// A compositor calls Connect once at startup. From then on the
// session owns the protocol: it acknowledges device pauses,
// handshakes VT switches, answers logind's property pushes, and
// reports activity transitions through the OnActive callback. The two
// unrecoverable events, losing the session and losing the bus, put
// the VT back into text mode and surface through OnFatal.
//
// All protocol state lives on a single event loop goroutine. The
// public methods are safe to call from any goroutine; they either
// read atomic snapshots or post work onto the loop.
package session
