// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for usher
// binaries. It centralizes fatal error reporting to stderr for the
// window before the structured logger exists, so that main() functions
// stay uniform across cmd/.
package process
