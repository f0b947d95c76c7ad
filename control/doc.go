// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

// Package control implements the diagnostic socket protocol for a
// running session.
//
// A compositor that configures a control socket serves a small CBOR
// request-response protocol on it: each connection carries exactly one
// request (a CBOR map with an "action" field) and one response
// ({ok, error, data}). Operator tooling connects to inspect the
// session's arbitration state ("status") or to ask for a VT switch
// ("activate-vt") without needing its own logind privileges.
//
// The Server half is embedded by the session package; the Client half
// backs the usher CLI's --socket modes.
package control
