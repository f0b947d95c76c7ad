// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides usher's standard CBOR encoding configuration.
//
// usher uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: CLI --json output and anything a
//     human or foreign tool reads.
//   - CBOR for internal protocols: the control-socket protocol between
//     a running compositor and the usher CLI, and the on-disk VT
//     rescue state file.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every usher package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations (state files):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (control sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR. It will
//     never be marshaled to JSON or interact with CLI tooling.
//     Examples: the VT rescue state file, control protocol envelopes.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats. Examples: control protocol
//     payloads that `usher status --json` prints verbatim.
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract — doubling up is noise that obscures
// whether a type participates in JSON serialization.
package codec
