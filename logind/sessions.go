// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package logind

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

// sessionPathPrefix is the object-path namespace all session objects
// live under. Seat-wide watching matches on this namespace instead of
// registering one rule per session.
const sessionPathPrefix = dbus.ObjectPath("/org/freedesktop/login1/session")

// SessionEntry is one row of Manager.ListSessions.
type SessionEntry struct {
	ID   string
	UID  uint32
	User string
	Seat string
	Path dbus.ObjectPath
}

// SessionStatus is the observable state of one session, read from the
// session object's properties in a single GetAll round-trip.
type SessionStatus struct {
	ID     string
	User   string
	Seat   string
	TTY    string
	State  string
	Active bool
	VT     uint32
}

// SessionEventKind discriminates the payload of a [SessionEvent].
type SessionEventKind string

const (
	// SessionAdded: logind announced a new session. ID and Path are
	// set; read the session's status to fill a display row.
	SessionAdded SessionEventKind = "session-added"

	// SessionGone: a session was closed. ID and Path are set.
	SessionGone SessionEventKind = "session-gone"

	// SessionUpdated: properties changed on the session at Path.
	// Changed holds the inline values; Invalidated names properties
	// that must be re-read.
	SessionUpdated SessionEventKind = "session-updated"
)

// SessionEvent is a decoded seat-wide signal.
type SessionEvent struct {
	Kind SessionEventKind

	// ID is the logind session identifier, set for added/gone events.
	// Updated events identify the session by Path only.
	ID string

	// Path is the session's object path.
	Path dbus.ObjectPath

	// Changed and Invalidated carry the PropertiesChanged payload for
	// updated events.
	Changed     map[string]dbus.Variant
	Invalidated []string
}

// Monitor observes every session logind manages, without claiming any
// controller role. It is the read-only counterpart to [Client]: where
// a Client arbitrates one session it belongs to, a Monitor lists and
// watches all of them. Safe to run unprivileged.
type Monitor struct {
	bus    Bus
	logger *slog.Logger

	signals chan *dbus.Signal
	matches [][]dbus.MatchOption
}

// NewMonitor returns a Monitor on the given bus. A nil logger uses
// slog.Default.
func NewMonitor(bus Bus, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{bus: bus, logger: logger}
}

// ListSessions returns every session logind currently tracks.
func (m *Monitor) ListSessions(ctx context.Context) ([]SessionEntry, error) {
	manager := m.bus.Object(busName, managerPath)
	call := manager.CallWithContext(ctx, managerInterface+".ListSessions", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("ListSessions: %w", call.Err)
	}
	var rows []struct {
		ID   string
		UID  uint32
		User string
		Seat string
		Path dbus.ObjectPath
	}
	if err := call.Store(&rows); err != nil {
		return nil, fmt.Errorf("ListSessions reply: %w", err)
	}
	entries := make([]SessionEntry, len(rows))
	for i, row := range rows {
		entries[i] = SessionEntry(row)
	}
	return entries, nil
}

// SessionStatus reads the display-relevant properties of the session
// at path. Properties a logind version does not export are left at
// their zero value rather than failing the whole read.
func (m *Monitor) SessionStatus(ctx context.Context, path dbus.ObjectPath) (SessionStatus, error) {
	object := m.bus.Object(busName, path)
	call := object.CallWithContext(ctx, propertiesInterface+".GetAll", 0, sessionInterface)
	if call.Err != nil {
		return SessionStatus{}, fmt.Errorf("GetAll on %s: %w", path, call.Err)
	}
	var properties map[string]dbus.Variant
	if err := call.Store(&properties); err != nil {
		return SessionStatus{}, fmt.Errorf("GetAll reply on %s: %w", path, err)
	}

	var status SessionStatus
	m.storeProperty(properties, "Id", &status.ID)
	m.storeProperty(properties, "Name", &status.User)
	m.storeProperty(properties, "TTY", &status.TTY)
	m.storeProperty(properties, "State", &status.State)
	m.storeProperty(properties, "Active", &status.Active)
	m.storeProperty(properties, "VTNr", &status.VT)

	// Seat is a (seat-id, object-path) struct; only the id matters.
	var seat struct {
		ID   string
		Path dbus.ObjectPath
	}
	m.storeProperty(properties, "Seat", &seat)
	status.Seat = seat.ID
	return status, nil
}

// storeProperty decodes one optional property into out. A missing key
// is normal (older logind versions export fewer properties); a value
// of the wrong type is logged and skipped.
func (m *Monitor) storeProperty(properties map[string]dbus.Variant, name string, out any) {
	value, found := properties[name]
	if !found {
		return
	}
	if err := value.Store(out); err != nil {
		m.logger.Debug("skipping malformed session property",
			"property", name, "error", err)
	}
}

// MergeStatus folds a session-updated event into an existing status.
// Inline values from the changed dictionary are applied directly;
// refetch reports whether a display-relevant property was invalidated
// without an inline value, in which case the caller must re-read the
// session's status to learn the new value.
func (m *Monitor) MergeStatus(status *SessionStatus, event SessionEvent) (refetch bool) {
	m.storeProperty(event.Changed, "Name", &status.User)
	m.storeProperty(event.Changed, "TTY", &status.TTY)
	m.storeProperty(event.Changed, "State", &status.State)
	m.storeProperty(event.Changed, "Active", &status.Active)
	m.storeProperty(event.Changed, "VTNr", &status.VT)

	for _, name := range event.Invalidated {
		switch name {
		case "Name", "TTY", "State", "Active", "VTNr":
			if _, inline := event.Changed[name]; !inline {
				refetch = true
			}
		}
	}
	return refetch
}

// Subscribe installs match rules for seat-wide observation: the
// manager's SessionNew and SessionRemoved, and PropertiesChanged
// anywhere under the session path namespace. The returned channel
// carries the raw traffic; feed each signal through
// [Monitor.ParseSignal]. godbus closes the channel when the bus
// connection terminates.
func (m *Monitor) Subscribe() (<-chan *dbus.Signal, error) {
	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchSender(busName),
			dbus.WithMatchInterface(managerInterface),
			dbus.WithMatchMember("SessionNew"),
			dbus.WithMatchObjectPath(managerPath),
		},
		{
			dbus.WithMatchSender(busName),
			dbus.WithMatchInterface(managerInterface),
			dbus.WithMatchMember("SessionRemoved"),
			dbus.WithMatchObjectPath(managerPath),
		},
		{
			dbus.WithMatchSender(busName),
			dbus.WithMatchInterface(propertiesInterface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchPathNamespace(sessionPathPrefix),
		},
	}

	for i, match := range matches {
		if err := m.bus.AddMatchSignal(match...); err != nil {
			for _, added := range matches[:i] {
				if removeErr := m.bus.RemoveMatchSignal(added...); removeErr != nil {
					m.logger.Debug("removing signal match during unwind", "error", removeErr)
				}
			}
			return nil, fmt.Errorf("adding signal match: %w", err)
		}
	}
	m.matches = matches

	m.signals = make(chan *dbus.Signal, signalBuffer)
	m.bus.Signal(m.signals)
	return m.signals, nil
}

// Unsubscribe removes the match rules and unregisters the signal
// channel. Safe to call when nothing is subscribed.
func (m *Monitor) Unsubscribe() {
	for _, match := range m.matches {
		if err := m.bus.RemoveMatchSignal(match...); err != nil {
			m.logger.Debug("removing signal match", "error", err)
		}
	}
	m.matches = nil

	if m.signals != nil {
		m.bus.RemoveSignal(m.signals)
		m.signals = nil
	}
}

// ParseSignal decodes one bus signal into a SessionEvent. ok is false
// for unrelated signals and for malformed payloads, which are logged
// and dropped.
func (m *Monitor) ParseSignal(signal *dbus.Signal) (event SessionEvent, ok bool) {
	switch signal.Name {
	case managerInterface + ".SessionNew", managerInterface + ".SessionRemoved":
		var id string
		var path dbus.ObjectPath
		if err := dbus.Store(signal.Body, &id, &path); err != nil {
			m.logger.Warn("cannot parse manager session signal",
				"signal", signal.Name, "error", err)
			return SessionEvent{}, false
		}
		kind := SessionAdded
		if signal.Name == managerInterface+".SessionRemoved" {
			kind = SessionGone
		}
		return SessionEvent{Kind: kind, ID: id, Path: path}, true

	case propertiesInterface + ".PropertiesChanged":
		if len(signal.Body) != 3 {
			m.logger.Warn("cannot parse PropertiesChanged signal",
				"arguments", len(signal.Body))
			return SessionEvent{}, false
		}
		iface, ok := signal.Body[0].(string)
		if !ok || iface != sessionInterface {
			return SessionEvent{}, false
		}
		changed, ok := signal.Body[1].(map[string]dbus.Variant)
		if !ok {
			m.logger.Warn("cannot parse PropertiesChanged signal",
				"changed_type", fmt.Sprintf("%T", signal.Body[1]))
			return SessionEvent{}, false
		}
		invalidated, ok := signal.Body[2].([]string)
		if !ok {
			m.logger.Warn("cannot parse PropertiesChanged signal",
				"invalidated_type", fmt.Sprintf("%T", signal.Body[2]))
			return SessionEvent{}, false
		}
		return SessionEvent{
			Kind:        SessionUpdated,
			Path:        signal.Path,
			Changed:     changed,
			Invalidated: invalidated,
		}, true
	}

	return SessionEvent{}, false
}
