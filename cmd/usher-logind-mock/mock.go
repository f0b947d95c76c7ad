// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	busName             = "org.freedesktop.login1"
	managerPath         = dbus.ObjectPath("/org/freedesktop/login1")
	managerInterface    = "org.freedesktop.login1.Manager"
	sessionInterface    = "org.freedesktop.login1.Session"
	seatInterface       = "org.freedesktop.login1.Seat"
	propertiesInterface = "org.freedesktop.DBus.Properties"

	driverPath      = dbus.ObjectPath("/org/usherwm/Mock")
	driverInterface = "org.usherwm.Mock.Driver"
)

// D-Bus error names, matching what logind itself returns for the same
// conditions.
const (
	errorNameSessionBusy  = "org.freedesktop.login1.SessionBusy"
	errorNameDeviceTaken  = "org.freedesktop.login1.DeviceIsTaken"
	errorNameNoSuchDevice = "org.freedesktop.login1.NoSuchDevice"
	errorNameNoSession    = "org.freedesktop.login1.NoSuchSession"
	errorNameAccessDenied = "org.freedesktop.DBus.Error.AccessDenied"
)

func namedError(name, format string, args ...any) *dbus.Error {
	return dbus.NewError(name, []any{fmt.Sprintf(format, args...)})
}

type deviceKey struct {
	major uint32
	minor uint32
}

// lease is one device handed to the controller. The mock keeps its
// own copy of the file so the descriptor stays valid until the
// controller releases the device.
type lease struct {
	device DeviceConfig
	file   *os.File
	paused bool
}

// Mock is the in-memory logind replacement: session state, the
// controller's identity, and the lease table, guarded by one mutex.
// Signals go out through the emit function so tests can capture them
// without a bus connection.
type Mock struct {
	config      Config
	sessionPath dbus.ObjectPath
	seatPath    dbus.ObjectPath

	emit   func(path dbus.ObjectPath, name string, values ...any) error
	logger *slog.Logger

	mu         sync.Mutex
	active     bool
	controller string
	leases     map[deviceKey]*lease
	removed    bool
}

// NewMock builds a mock from a validated config. emit sends one
// signal; the main wiring passes conn.Emit.
func NewMock(config Config, logger *slog.Logger, emit func(path dbus.ObjectPath, name string, values ...any) error) *Mock {
	return &Mock{
		config:      config,
		sessionPath: sessionObjectPath(config.Session.ID),
		seatPath:    seatObjectPath(config.Session.Seat),
		emit:        emit,
		logger:      logger,
		active:      config.Session.Active,
		leases:      make(map[deviceKey]*lease),
	}
}

// SessionPath returns the session's object path.
func (m *Mock) SessionPath() dbus.ObjectPath { return m.sessionPath }

// SeatPath returns the seat's object path.
func (m *Mock) SeatPath() dbus.ObjectPath { return m.seatPath }

// Removed reports whether the driver has removed the session.
func (m *Mock) Removed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed
}

// TakeControl claims the session for sender. A second controller is
// refused unless it forces the takeover, in which case the previous
// controller's leases are revoked.
func (m *Mock) TakeControl(sender string, force bool) *dbus.Error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.removed {
		return namedError(errorNameNoSession, "session %s is gone", m.config.Session.ID)
	}
	if m.controller != "" && m.controller != sender && !force {
		return namedError(errorNameSessionBusy, "session already has a controller")
	}

	m.dropLeasesLocked()
	m.controller = sender
	m.logger.Info("controller took session", "sender", sender, "force", force)
	return nil
}

// ReleaseControl gives the session up. All leases are dropped, as
// logind does.
func (m *Mock) ReleaseControl(sender string) *dbus.Error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.controller != sender {
		return namedError(errorNameAccessDenied, "sender does not control the session")
	}
	m.dropLeasesLocked()
	m.controller = ""
	m.logger.Info("controller released session", "sender", sender)
	return nil
}

// HandleNameLost releases control when the controller's bus name
// vanishes, so a crashed compositor does not wedge the session.
func (m *Mock) HandleNameLost(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" || name != m.controller {
		return
	}
	m.dropLeasesLocked()
	m.controller = ""
	m.logger.Info("controller vanished, session released", "name", name)
}

// TakeDevice leases a device from the table. The descriptor handed
// back is a /dev/null handle; inactive reports whether the session
// currently lacks the seat.
func (m *Mock) TakeDevice(sender string, major, minor uint32) (dbus.UnixFD, bool, *dbus.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.controller != sender {
		return 0, false, namedError(errorNameAccessDenied, "sender does not control the session")
	}

	key := deviceKey{major, minor}
	device, ok := m.lookupDevice(key)
	if !ok {
		return 0, false, namedError(errorNameNoSuchDevice, "no device %d:%d in the table", major, minor)
	}
	if _, taken := m.leases[key]; taken {
		return 0, false, namedError(errorNameDeviceTaken, "device %d:%d already taken", major, minor)
	}

	file, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, false, dbus.MakeFailedError(err)
	}
	m.leases[key] = &lease{device: device, file: file}
	m.logger.Info("device leased", "path", device.Path, "major", major, "minor", minor, "inactive", !m.active)
	return dbus.UnixFD(file.Fd()), !m.active, nil
}

// ReleaseDevice drops a lease.
func (m *Mock) ReleaseDevice(sender string, major, minor uint32) *dbus.Error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.controller != sender {
		return namedError(errorNameAccessDenied, "sender does not control the session")
	}
	key := deviceKey{major, minor}
	held, ok := m.leases[key]
	if !ok {
		return namedError(errorNameNoSuchDevice, "device %d:%d is not leased", major, minor)
	}
	held.file.Close()
	delete(m.leases, key)
	m.logger.Info("device released", "major", major, "minor", minor)
	return nil
}

// PauseDeviceComplete acknowledges a synchronous pause. The mock does
// not gate anything on the ack; it records it for the logs, which is
// how a test observes that the controller answered.
func (m *Mock) PauseDeviceComplete(sender string, major, minor uint32) *dbus.Error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.controller != sender {
		return namedError(errorNameAccessDenied, "sender does not control the session")
	}
	m.logger.Info("pause acknowledged", "major", major, "minor", minor)
	return nil
}

// Activate makes the session active, as Session.Activate does.
func (m *Mock) Activate() *dbus.Error {
	m.SetActive(true)
	return nil
}

// SwitchTo models Seat.SwitchTo: switching to the session's own VT
// activates it, switching anywhere else deactivates it.
func (m *Mock) SwitchTo(vt uint32) *dbus.Error {
	if vt == 0 {
		return dbus.MakeFailedError(fmt.Errorf("invalid vt 0"))
	}
	m.SetActive(int(vt) == m.config.Session.VT)
	return nil
}

// SetActive flips the session's Active property and pushes the new
// value in a PropertiesChanged signal.
func (m *Mock) SetActive(active bool) {
	m.mu.Lock()
	if m.active == active {
		m.mu.Unlock()
		return
	}
	m.active = active
	m.mu.Unlock()

	m.logger.Info("session activity changed", "active", active)
	m.emitPropertiesChanged(map[string]dbus.Variant{"Active": dbus.MakeVariant(active)}, nil)
}

// InvalidateActive changes Active without pushing the value: the
// signal only marks the property invalidated, forcing clients through
// the re-query path. This is the shape logind's own VT switch
// notifications take.
func (m *Mock) InvalidateActive(active bool) {
	m.mu.Lock()
	m.active = active
	m.mu.Unlock()

	m.logger.Info("session activity invalidated", "active", active)
	m.emitPropertiesChanged(nil, []string{"Active"})
}

// PauseAll emits a PauseDevice signal for every lease, oldest major
// first so runs are reproducible. Leases stay in the table; a paused
// lease resumes with ResumeAll.
func (m *Mock) PauseAll(kind string) *dbus.Error {
	switch kind {
	case "pause", "force", "gone":
	default:
		return dbus.MakeFailedError(fmt.Errorf("unknown pause kind %q", kind))
	}

	m.mu.Lock()
	held := m.sortedLeasesLocked()
	for _, l := range held {
		l.paused = true
	}
	m.mu.Unlock()

	for _, l := range held {
		m.logger.Info("pausing device", "path", l.device.Path, "kind", kind)
		m.emitSignal(m.sessionPath, sessionInterface+".PauseDevice",
			l.device.Major, l.device.Minor, kind)
	}
	return nil
}

// ResumeAll emits a ResumeDevice signal for every paused lease,
// carrying the lease's descriptor the way logind re-grants devices.
func (m *Mock) ResumeAll() *dbus.Error {
	m.mu.Lock()
	var resumed []*lease
	for _, l := range m.sortedLeasesLocked() {
		if l.paused {
			l.paused = false
			resumed = append(resumed, l)
		}
	}
	m.mu.Unlock()

	for _, l := range resumed {
		m.logger.Info("resuming device", "path", l.device.Path)
		m.emitSignal(m.sessionPath, sessionInterface+".ResumeDevice",
			l.device.Major, l.device.Minor, dbus.UnixFD(l.file.Fd()))
	}
	return nil
}

// RemoveSession ends the session: leases drop, the manager announces
// SessionRemoved, and session-level calls fail from here on.
func (m *Mock) RemoveSession() *dbus.Error {
	m.mu.Lock()
	if m.removed {
		m.mu.Unlock()
		return namedError(errorNameNoSession, "session %s already removed", m.config.Session.ID)
	}
	m.removed = true
	m.controller = ""
	m.dropLeasesLocked()
	m.mu.Unlock()

	m.logger.Info("session removed", "session", m.config.Session.ID)
	m.emitSignal(managerPath, managerInterface+".SessionRemoved",
		m.config.Session.ID, m.sessionPath)
	return nil
}

// AnnounceSession emits the SessionNew signal logind sends when a
// session appears. The main wiring calls it once after the exports
// are in place.
func (m *Mock) AnnounceSession() {
	m.emitSignal(managerPath, managerInterface+".SessionNew",
		m.config.Session.ID, m.sessionPath)
}

// SessionProperties returns the session object's property map in its
// current state.
func (m *Mock) SessionProperties() map[string]dbus.Variant {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.config.Session
	return map[string]dbus.Variant{
		"Id":     dbus.MakeVariant(s.ID),
		"Seat":   dbus.MakeVariant([]any{s.Seat, m.seatPath}),
		"VTNr":   dbus.MakeVariant(uint32(s.VT)),
		"Active": dbus.MakeVariant(m.active),
		"Type":   dbus.MakeVariant(s.Type),
		"Name":   dbus.MakeVariant(s.User),
	}
}

// SeatProperties returns the seat object's property map.
func (m *Mock) SeatProperties() map[string]dbus.Variant {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]dbus.Variant{
		"Id":            dbus.MakeVariant(m.config.Session.Seat),
		"ActiveSession": dbus.MakeVariant([]any{m.config.Session.ID, m.sessionPath}),
		"CanGraphical":  dbus.MakeVariant(true),
	}
}

// ListSessions returns the manager's session list: empty after
// removal, otherwise the one configured session.
func (m *Mock) ListSessions() []sessionTuple {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.removed {
		return nil
	}
	s := m.config.Session
	return []sessionTuple{{
		ID:   s.ID,
		UID:  s.UID,
		User: s.User,
		Seat: s.Seat,
		Path: m.sessionPath,
	}}
}

// sessionTuple matches logind's ListSessions element type (susso).
type sessionTuple struct {
	ID   string
	UID  uint32
	User string
	Seat string
	Path dbus.ObjectPath
}

func (m *Mock) lookupDevice(key deviceKey) (DeviceConfig, bool) {
	for _, device := range m.config.Devices {
		if device.Major == key.major && device.Minor == key.minor {
			return device, true
		}
	}
	return DeviceConfig{}, false
}

func (m *Mock) sortedLeasesLocked() []*lease {
	held := make([]*lease, 0, len(m.leases))
	for _, l := range m.leases {
		held = append(held, l)
	}
	sort.Slice(held, func(i, j int) bool {
		if held[i].device.Major != held[j].device.Major {
			return held[i].device.Major < held[j].device.Major
		}
		return held[i].device.Minor < held[j].device.Minor
	})
	return held
}

func (m *Mock) dropLeasesLocked() {
	for key, held := range m.leases {
		held.file.Close()
		delete(m.leases, key)
	}
}

func (m *Mock) emitPropertiesChanged(changed map[string]dbus.Variant, invalidated []string) {
	if changed == nil {
		changed = map[string]dbus.Variant{}
	}
	if invalidated == nil {
		invalidated = []string{}
	}
	m.emitSignal(m.sessionPath, propertiesInterface+".PropertiesChanged",
		sessionInterface, changed, invalidated)
}

func (m *Mock) emitSignal(path dbus.ObjectPath, name string, values ...any) {
	if err := m.emit(path, name, values...); err != nil {
		m.logger.Error("emitting signal", "signal", name, "error", err)
	}
}

// sessionObjectPath builds the session's object path the way logind
// does: the id is appended with sd_bus_path_encode escaping, where
// every byte outside [A-Za-z0-9] (and a leading digit) becomes _XX.
func sessionObjectPath(id string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/freedesktop/login1/session/" + escapePathComponent(id))
}

func seatObjectPath(seat string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/freedesktop/login1/seat/" + escapePathComponent(seat))
}

func escapePathComponent(component string) string {
	var builder strings.Builder
	for i := 0; i < len(component); i++ {
		c := component[i]
		alnum := c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
		digit := c >= '0' && c <= '9'
		if alnum && !(i == 0 && digit) {
			builder.WriteByte(c)
		} else {
			fmt.Fprintf(&builder, "_%02x", c)
		}
	}
	return builder.String()
}
