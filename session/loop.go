// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/usherwm/usher/logind"
)

// activeReplyBuffer sizes the channel that carries Active property
// replies back to the loop. godbus requires a buffered channel; a
// little slack also keeps replies from superseded queries from ever
// blocking the delivery goroutine.
const activeReplyBuffer = 4

// loop is the session's event pump. Everything that mutates protocol
// state runs here: logind signals, VT handshake signals, property
// replies, and posted requests. It exits on Close or on a fatal
// event, and closing the done channel is its last act either way.
func (s *Session) loop() {
	defer close(s.done)

	// Prime the active state. logind may have flipped Active before
	// our signal match was in place.
	s.queryActive()

	for {
		select {
		case signal, ok := <-s.busSignals:
			if !ok {
				s.lost(ErrBusDisconnected)
				return
			}
			event, relevant := s.client.ParseSignal(signal)
			if !relevant {
				continue
			}
			if event.Kind == logind.EventSessionRemoved {
				s.lost(ErrSessionLost)
				return
			}
			s.handleEvent(event)

		case sig := <-s.terminal.Signals():
			s.terminal.HandleSignal(sig)

		case call := <-s.activeReplies:
			s.handleActiveReply(call)

		case request := <-s.requests:
			request()

		case <-s.stop:
			return
		}
	}
}

// lost handles the two exits that arrive from outside: logind removed
// the session, or the bus died. The VT goes back to text mode first
// so the user is not stranded on a dead graphics console, then the
// fatal callback runs.
func (s *Session) lost(err error) {
	s.logger.Error("session lost", "error", err)
	s.terminal.Restore()
	if s.onFatal != nil {
		s.onFatal(err)
	}
}

// handleEvent folds one decoded logind signal into the session state.
func (s *Session) handleEvent(event logind.Event) {
	switch event.Kind {
	case logind.EventDevicePaused:
		// The synchronous pause flavor holds up the session switch
		// until we acknowledge. Acknowledge every device class; the
		// compositor has no say in the matter, the lease is going
		// away regardless.
		if event.PauseKind == logind.PauseKindPause {
			s.client.PauseDeviceComplete(event.Major, event.Minor)
		}
		// Any pause of a DRM device means the GPU is gone. With
		// SyncDRM this is the deactivation edge, whatever the pause
		// flavor was.
		if s.syncDRM && event.Major == logind.DRMMajor {
			s.setActive(false)
		}

	case logind.EventDeviceResumed:
		// The DRM lease coming back is the activation edge under
		// SyncDRM: the session is active and may touch the GPU.
		if s.syncDRM && event.Major == logind.DRMMajor {
			s.setActive(true)
		}

	case logind.EventActiveChanged:
		s.applyActiveValue(event.Active)

	case logind.EventActiveInvalidated:
		s.queryActive()
	}
}

// applyActiveValue folds a property-sourced Active value in. Under
// SyncDRM a true value is ignored; activation waits for the DRM
// resume so the compositor never draws against a paused device.
// Deactivation always applies.
func (s *Session) applyActiveValue(active bool) {
	if !s.syncDRM || !active {
		s.setActive(active)
	}
}

// setActive records a new active state and notifies. Repeats of the
// current state are dropped; the sources race and agree, they must
// not double-notify.
func (s *Session) setActive(active bool) {
	if s.loopActive == active {
		return
	}
	s.loopActive = active
	s.active.Store(active)
	s.logger.Info("session activity changed", "active", active)
	if s.onActive != nil {
		s.onActive(active)
	}
}

// queryActive issues an asynchronous read of the Active property. A
// query already in flight is cancelled and superseded; at most one
// query is ever outstanding.
func (s *Session) queryActive() {
	if s.cancelQuery != nil {
		s.cancelQuery()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelQuery = cancel
	s.pendingQuery = s.client.GetActiveAsync(ctx, s.activeReplies)
}

// handleActiveReply applies the answer to the outstanding Active
// query. Replies from superseded queries are dropped by identity; a
// failed read keeps the current state, the next push or query will
// correct it.
func (s *Session) handleActiveReply(call *dbus.Call) {
	if call != s.pendingQuery {
		return
	}
	s.pendingQuery = nil
	if s.cancelQuery != nil {
		s.cancelQuery()
		s.cancelQuery = nil
	}

	active, err := logind.ParseActiveReply(call)
	if err != nil {
		s.logger.Debug("active query failed", "error", err)
		return
	}
	s.applyActiveValue(active)
}
