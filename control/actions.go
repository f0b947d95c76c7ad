// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"

	"github.com/usherwm/usher/lib/codec"
)

// Arbiter is the view of a running session that the control actions
// answer from. The session package implements it; tests substitute
// their own.
type Arbiter interface {
	// Status returns a snapshot of the session's arbitration state.
	Status() Status

	// ActivateVT asks the kernel to switch the console to the given
	// virtual terminal.
	ActivateVT(vt int) error
}

// RegisterActions wires the standard arbitration actions onto the
// server:
//
//   - "status" returns the Arbiter's Status snapshot.
//   - "activate-vt" {vt} forwards a VT switch request.
func RegisterActions(server *Server, arbiter Arbiter) {
	server.Handle("status", func(_ context.Context, _ []byte) (any, error) {
		return arbiter.Status(), nil
	})

	server.Handle("activate-vt", func(_ context.Context, raw []byte) (any, error) {
		var request struct {
			VT int `cbor:"vt"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("decoding activate-vt request: %w", err)
		}
		if request.VT <= 0 {
			return nil, fmt.Errorf("invalid vt %d", request.VT)
		}
		if err := arbiter.ActivateVT(request.VT); err != nil {
			return nil, err
		}
		return nil, nil
	})
}
