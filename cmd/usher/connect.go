// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"time"

	"github.com/usherwm/usher/logind"
)

// directCallTimeout bounds individual D-Bus calls made by observer
// commands. logind answers property reads in milliseconds; anything
// slower means the bus or logind is wedged.
const directCallTimeout = 10 * time.Second

// resolveDirect connects to the system bus and resolves the calling
// process's session. The caller owns the returned bus connection.
func resolveDirect(ctx context.Context) (logind.Bus, logind.SessionInfo, error) {
	bus, err := logind.ConnectSystemBus()
	if err != nil {
		return nil, logind.SessionInfo{}, err
	}
	info, err := logind.ResolveSession(ctx, bus)
	if err != nil {
		bus.Close()
		return nil, logind.SessionInfo{}, err
	}
	return bus, info, nil
}
