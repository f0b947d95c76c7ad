// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// The export layer adapts Mock to godbus method signatures: one thin
// wrapper per D-Bus interface, with dbus.Sender threaded into the
// calls that care who is asking.

type managerExport struct {
	mock *Mock
}

func (m *managerExport) GetSession(id string) (dbus.ObjectPath, *dbus.Error) {
	if m.mock.Removed() || id != m.mock.config.Session.ID {
		return "", namedError(errorNameNoSession, "no session %q", id)
	}
	return m.mock.SessionPath(), nil
}

func (m *managerExport) GetSessionByPID(pid uint32) (dbus.ObjectPath, *dbus.Error) {
	// Every process belongs to the one configured session. That is
	// the point of the mock: whoever asks, they are in the session.
	if m.mock.Removed() {
		return "", namedError(errorNameNoSession, "no session for pid %d", pid)
	}
	return m.mock.SessionPath(), nil
}

func (m *managerExport) ListSessions() ([]sessionTuple, *dbus.Error) {
	return m.mock.ListSessions(), nil
}

type sessionExport struct {
	mock *Mock
}

func (s *sessionExport) TakeControl(sender dbus.Sender, force bool) *dbus.Error {
	return s.mock.TakeControl(string(sender), force)
}

func (s *sessionExport) ReleaseControl(sender dbus.Sender) *dbus.Error {
	return s.mock.ReleaseControl(string(sender))
}

func (s *sessionExport) TakeDevice(sender dbus.Sender, major, minor uint32) (dbus.UnixFD, bool, *dbus.Error) {
	return s.mock.TakeDevice(string(sender), major, minor)
}

func (s *sessionExport) ReleaseDevice(sender dbus.Sender, major, minor uint32) *dbus.Error {
	return s.mock.ReleaseDevice(string(sender), major, minor)
}

func (s *sessionExport) PauseDeviceComplete(sender dbus.Sender, major, minor uint32) *dbus.Error {
	return s.mock.PauseDeviceComplete(string(sender), major, minor)
}

func (s *sessionExport) Activate() *dbus.Error {
	return s.mock.Activate()
}

type seatExport struct {
	mock *Mock
}

func (s *seatExport) SwitchTo(vt uint32) *dbus.Error {
	return s.mock.SwitchTo(vt)
}

type driverExport struct {
	mock *Mock
}

func (d *driverExport) SetActive(active bool) *dbus.Error {
	d.mock.SetActive(active)
	return nil
}

func (d *driverExport) InvalidateActive(active bool) *dbus.Error {
	d.mock.InvalidateActive(active)
	return nil
}

func (d *driverExport) PauseAll(kind string) *dbus.Error {
	return d.mock.PauseAll(kind)
}

func (d *driverExport) ResumeAll() *dbus.Error {
	return d.mock.ResumeAll()
}

func (d *driverExport) RemoveSession() *dbus.Error {
	return d.mock.RemoveSession()
}

// propertiesExport serves org.freedesktop.DBus.Properties for one
// object from a live snapshot function, so reads always see the
// mock's current state.
type propertiesExport struct {
	iface    string
	snapshot func() map[string]dbus.Variant
}

func (p *propertiesExport) Get(iface, property string) (dbus.Variant, *dbus.Error) {
	if iface != p.iface {
		return dbus.Variant{}, namedError(errorNameAccessDenied, "no properties on %q", iface)
	}
	value, ok := p.snapshot()[property]
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("no property %s.%s", iface, property))
	}
	return value, nil
}

func (p *propertiesExport) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != p.iface {
		return map[string]dbus.Variant{}, nil
	}
	return p.snapshot(), nil
}

func (p *propertiesExport) Set(iface, property string, value dbus.Variant) *dbus.Error {
	return namedError(errorNameAccessDenied, "properties are read-only")
}

const managerIntrospectXML = `<node>
  <interface name="` + managerInterface + `">
    <method name="GetSession">
      <arg name="session_id" type="s" direction="in"/>
      <arg name="object_path" type="o" direction="out"/>
    </method>
    <method name="GetSessionByPID">
      <arg name="pid" type="u" direction="in"/>
      <arg name="object_path" type="o" direction="out"/>
    </method>
    <method name="ListSessions">
      <arg name="sessions" type="a(susso)" direction="out"/>
    </method>
    <signal name="SessionNew">
      <arg name="session_id" type="s"/>
      <arg name="object_path" type="o"/>
    </signal>
    <signal name="SessionRemoved">
      <arg name="session_id" type="s"/>
      <arg name="object_path" type="o"/>
    </signal>
  </interface>` + introspect.IntrospectDataString + `</node>`

const sessionIntrospectXML = `<node>
  <interface name="` + sessionInterface + `">
    <method name="TakeControl">
      <arg name="force" type="b" direction="in"/>
    </method>
    <method name="ReleaseControl"/>
    <method name="TakeDevice">
      <arg name="major" type="u" direction="in"/>
      <arg name="minor" type="u" direction="in"/>
      <arg name="fd" type="h" direction="out"/>
      <arg name="inactive" type="b" direction="out"/>
    </method>
    <method name="ReleaseDevice">
      <arg name="major" type="u" direction="in"/>
      <arg name="minor" type="u" direction="in"/>
    </method>
    <method name="PauseDeviceComplete">
      <arg name="major" type="u" direction="in"/>
      <arg name="minor" type="u" direction="in"/>
    </method>
    <method name="Activate"/>
    <signal name="PauseDevice">
      <arg name="major" type="u"/>
      <arg name="minor" type="u"/>
      <arg name="type" type="s"/>
    </signal>
    <signal name="ResumeDevice">
      <arg name="major" type="u"/>
      <arg name="minor" type="u"/>
      <arg name="fd" type="h"/>
    </signal>
    <property name="Id" type="s" access="read"/>
    <property name="Seat" type="(so)" access="read"/>
    <property name="VTNr" type="u" access="read"/>
    <property name="Active" type="b" access="read"/>
    <property name="Type" type="s" access="read"/>
    <property name="Name" type="s" access="read"/>
  </interface>` + introspect.IntrospectDataString + `</node>`

const seatIntrospectXML = `<node>
  <interface name="` + seatInterface + `">
    <method name="SwitchTo">
      <arg name="vtnr" type="u" direction="in"/>
    </method>
    <property name="Id" type="s" access="read"/>
    <property name="ActiveSession" type="(so)" access="read"/>
    <property name="CanGraphical" type="b" access="read"/>
  </interface>` + introspect.IntrospectDataString + `</node>`

const driverIntrospectXML = `<node>
  <interface name="` + driverInterface + `">
    <method name="SetActive">
      <arg name="active" type="b" direction="in"/>
    </method>
    <method name="InvalidateActive">
      <arg name="active" type="b" direction="in"/>
    </method>
    <method name="PauseAll">
      <arg name="kind" type="s" direction="in"/>
    </method>
    <method name="ResumeAll"/>
    <method name="RemoveSession"/>
  </interface>` + introspect.IntrospectDataString + `</node>`

// exportAll publishes the mock's objects on the connection.
func exportAll(conn *dbus.Conn, mock *Mock) error {
	type export struct {
		object any
		path   dbus.ObjectPath
		iface  string
	}

	exports := []export{
		{&managerExport{mock}, managerPath, managerInterface},
		{introspect.Introspectable(managerIntrospectXML), managerPath, "org.freedesktop.DBus.Introspectable"},

		{&sessionExport{mock}, mock.SessionPath(), sessionInterface},
		{&propertiesExport{sessionInterface, mock.SessionProperties}, mock.SessionPath(), propertiesInterface},
		{introspect.Introspectable(sessionIntrospectXML), mock.SessionPath(), "org.freedesktop.DBus.Introspectable"},

		{&seatExport{mock}, mock.SeatPath(), seatInterface},
		{&propertiesExport{seatInterface, mock.SeatProperties}, mock.SeatPath(), propertiesInterface},
		{introspect.Introspectable(seatIntrospectXML), mock.SeatPath(), "org.freedesktop.DBus.Introspectable"},

		{&driverExport{mock}, driverPath, driverInterface},
		{introspect.Introspectable(driverIntrospectXML), driverPath, "org.freedesktop.DBus.Introspectable"},
	}

	for _, e := range exports {
		if err := conn.Export(e.object, e.path, e.iface); err != nil {
			return fmt.Errorf("exporting %s on %s: %w", e.iface, e.path, err)
		}
	}
	return nil
}
