// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package logind

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

// signalBuffer is the capacity of the subscription channel. logind
// emits at most a handful of signals per session switch; the buffer
// only needs to absorb the burst while the event loop is inside a
// blocking call.
const signalBuffer = 16

// EventKind discriminates the payload of an [Event].
type EventKind string

const (
	// EventSessionRemoved: this client's session was closed by
	// logind. The session is unrecoverable.
	EventSessionRemoved EventKind = "session-removed"

	// EventDevicePaused: logind revoked a device lease. Major, Minor,
	// and PauseKind are set.
	EventDevicePaused EventKind = "device-paused"

	// EventDeviceResumed: logind restored a device lease. Major is
	// set.
	EventDeviceResumed EventKind = "device-resumed"

	// EventActiveChanged: the session's Active property was pushed
	// with a new value. Active is set.
	EventActiveChanged EventKind = "active-changed"

	// EventActiveInvalidated: the Active property changed but the
	// new value was not included. The owner must re-query.
	EventActiveInvalidated EventKind = "active-invalidated"
)

// Pause kinds carried by PauseDevice signals.
const (
	// PauseKindPause is a synchronous pause: logind waits for a
	// PauseDeviceComplete acknowledgment (or its internal timeout)
	// before completing the session switch.
	PauseKindPause = "pause"

	// PauseKindForce is an asynchronous pause: the lease is already
	// revoked.
	PauseKindForce = "force"

	// PauseKindGone means the device disappeared from the system.
	PauseKindGone = "gone"
)

// Event is a decoded logind signal relevant to this session.
type Event struct {
	Kind EventKind

	// Major and Minor identify the device for device-paused; only
	// Major is meaningful for device-resumed.
	Major uint32
	Minor uint32

	// PauseKind is one of the PauseKind constants, recorded verbatim
	// from the signal for device-paused events.
	PauseKind string

	// Active is the pushed property value for active-changed events.
	Active bool
}

// SubscribeSignals installs match rules for the four signal sources
// the protocol runs on: the manager's SessionRemoved, the session's
// PauseDevice and ResumeDevice, and PropertiesChanged on the session
// object. The returned channel carries the raw traffic; feed each
// signal through [Client.ParseSignal].
//
// godbus closes the channel when the bus connection terminates, so a
// closed channel is the disconnect notification.
func (c *Client) SubscribeSignals() (<-chan *dbus.Signal, error) {
	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchSender(busName),
			dbus.WithMatchInterface(managerInterface),
			dbus.WithMatchMember("SessionRemoved"),
			dbus.WithMatchObjectPath(managerPath),
		},
		{
			dbus.WithMatchSender(busName),
			dbus.WithMatchInterface(sessionInterface),
			dbus.WithMatchMember("PauseDevice"),
			dbus.WithMatchObjectPath(c.session.Path),
		},
		{
			dbus.WithMatchSender(busName),
			dbus.WithMatchInterface(sessionInterface),
			dbus.WithMatchMember("ResumeDevice"),
			dbus.WithMatchObjectPath(c.session.Path),
		},
		{
			dbus.WithMatchSender(busName),
			dbus.WithMatchInterface(propertiesInterface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchObjectPath(c.session.Path),
		},
	}

	for i, match := range matches {
		if err := c.bus.AddMatchSignal(match...); err != nil {
			for _, added := range matches[:i] {
				if removeErr := c.bus.RemoveMatchSignal(added...); removeErr != nil {
					c.logger.Debug("removing signal match during unwind", "error", removeErr)
				}
			}
			return nil, fmt.Errorf("adding signal match: %w", err)
		}
	}
	c.matches = matches

	c.signals = make(chan *dbus.Signal, signalBuffer)
	c.bus.Signal(c.signals)
	return c.signals, nil
}

// UnsubscribeSignals removes the match rules and unregisters the
// signal channel. Safe to call when nothing is subscribed.
func (c *Client) UnsubscribeSignals() {
	for _, match := range c.matches {
		if err := c.bus.RemoveMatchSignal(match...); err != nil {
			c.logger.Debug("removing signal match", "error", err)
		}
	}
	c.matches = nil

	if c.signals != nil {
		c.bus.RemoveSignal(c.signals)
		c.signals = nil
	}
}

// ParseSignal decodes one bus signal into an Event. ok is false for
// signals that don't concern this session (another session's removal,
// a property change without Active) and for malformed payloads, which
// are logged and dropped rather than treated as fatal.
func (c *Client) ParseSignal(signal *dbus.Signal) (event Event, ok bool) {
	switch signal.Name {
	case managerInterface + ".SessionRemoved":
		var id string
		var path dbus.ObjectPath
		if err := dbus.Store(signal.Body, &id, &path); err != nil {
			c.logger.Warn("cannot parse SessionRemoved signal", "error", err)
			return Event{}, false
		}
		if id != c.session.ID {
			return Event{}, false
		}
		return Event{Kind: EventSessionRemoved}, true

	case sessionInterface + ".PauseDevice":
		var major, minor uint32
		var kind string
		if err := dbus.Store(signal.Body, &major, &minor, &kind); err != nil {
			c.logger.Warn("cannot parse PauseDevice signal", "error", err)
			return Event{}, false
		}
		return Event{Kind: EventDevicePaused, Major: major, Minor: minor, PauseKind: kind}, true

	case sessionInterface + ".ResumeDevice":
		// ResumeDevice carries (major, minor, fd). Only the major
		// matters: for DRM the descriptor is the one we already
		// hold, and evdev devices are reopened rather than resumed.
		// The incoming descriptor is a fresh dup owned by this
		// process, so it must be closed here or it leaks.
		if len(signal.Body) < 1 {
			c.logger.Warn("cannot parse ResumeDevice signal: empty body")
			return Event{}, false
		}
		major, ok := signal.Body[0].(uint32)
		if !ok {
			c.logger.Warn("cannot parse ResumeDevice signal",
				"major_type", fmt.Sprintf("%T", signal.Body[0]))
			return Event{}, false
		}
		if len(signal.Body) >= 3 {
			if fd, ok := signal.Body[2].(dbus.UnixFD); ok {
				unix.Close(int(fd))
			}
		}
		return Event{Kind: EventDeviceResumed, Major: major}, true

	case propertiesInterface + ".PropertiesChanged":
		return c.parsePropertiesChanged(signal)
	}

	return Event{}, false
}

// parsePropertiesChanged scans a PropertiesChanged payload for the
// Active property. An inline value in the changed dictionary becomes
// active-changed; Active listed as invalidated becomes
// active-invalidated so the owner re-queries.
func (c *Client) parsePropertiesChanged(signal *dbus.Signal) (Event, bool) {
	// Body is (interface-name, changed dict, invalidated list). The
	// match rule already scoped this to the session object, so the
	// interface name is not checked further.
	if len(signal.Body) != 3 {
		c.logger.Warn("cannot parse PropertiesChanged signal",
			"arguments", len(signal.Body))
		return Event{}, false
	}

	changed, ok := signal.Body[1].(map[string]dbus.Variant)
	if !ok {
		c.logger.Warn("cannot parse PropertiesChanged signal",
			"changed_type", fmt.Sprintf("%T", signal.Body[1]))
		return Event{}, false
	}
	if value, found := changed["Active"]; found {
		active, ok := value.Value().(bool)
		if !ok {
			c.logger.Warn("Active property changed to non-bool",
				"value_type", fmt.Sprintf("%T", value.Value()))
			return Event{}, false
		}
		return Event{Kind: EventActiveChanged, Active: active}, true
	}

	invalidated, ok := signal.Body[2].([]string)
	if !ok {
		c.logger.Warn("cannot parse PropertiesChanged signal",
			"invalidated_type", fmt.Sprintf("%T", signal.Body[2]))
		return Event{}, false
	}
	for _, name := range invalidated {
		if name == "Active" {
			return Event{Kind: EventActiveInvalidated}, true
		}
	}

	return Event{}, false
}
