// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

// Package vt coordinates ownership of a kernel virtual terminal.
//
// A compositor that draws directly to DRM must take its VT out of
// text mode, silence the in-kernel keyboard handler, and register for
// process-controlled switching so the kernel asks (via a pair of
// real-time signals) before switching away and announces switching
// back. Package vt performs that takeover, answers the kernel's
// switch handshake, and restores the console on the way out.
//
// Restoration is the part that must never be skipped: a VT left in
// graphics mode with the keyboard off is a black, dead console. Every
// teardown path here ends in [Terminal.Restore], and a rescue state
// file written at setup time lets `usher rescue` repair the console
// even when the owning process died without unwinding.
package vt
