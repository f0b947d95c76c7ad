// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package logind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

const (
	busName             = "org.freedesktop.login1"
	managerPath         = dbus.ObjectPath("/org/freedesktop/login1")
	managerInterface    = "org.freedesktop.login1.Manager"
	sessionInterface    = "org.freedesktop.login1.Session"
	seatInterface       = "org.freedesktop.login1.Seat"
	propertiesInterface = "org.freedesktop.DBus.Properties"

	// unknownMethodError is the D-Bus error logind versions without
	// the controller API return for TakeControl.
	unknownMethodError = "org.freedesktop.DBus.Error.UnknownMethod"
)

// DRMMajor is the character-device major number of DRM display
// devices. Pause and resume of a device with this major is what drives
// the compositor's sleep/wake cycle when DRM synchronization is on.
const DRMMajor = 226

// Client issues session-controller calls against one logind session
// and decodes the signals logind sends back.
//
// Client performs no locking. The intended owner is a single event
// loop: blocking calls complete before the loop continues, async
// queries complete on a loop-owned channel, and ParseSignal runs on
// the loop goroutine.
type Client struct {
	bus     Bus
	session SessionInfo
	logger  *slog.Logger

	sessionObject dbus.BusObject

	signals chan *dbus.Signal
	matches [][]dbus.MatchOption
}

// NewClient returns a Client for the given session. A nil logger uses
// slog.Default.
func NewClient(bus Bus, session SessionInfo, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		bus:           bus,
		session:       session,
		logger:        logger.With("session", session.ID),
		sessionObject: bus.Object(busName, session.Path),
	}
}

// Session returns the session identity the client was built for.
func (c *Client) Session() SessionInfo {
	return c.session
}

// TakeControl claims the session-controller role. Without it, logind
// refuses TakeDevice and never sends the pause/resume handshake.
//
// The force flag is always false: stealing control from an existing
// controller is a display-manager privilege, not a compositor's.
func (c *Client) TakeControl(ctx context.Context) error {
	call := c.sessionObject.CallWithContext(ctx, sessionInterface+".TakeControl", 0, false)
	if call.Err != nil {
		var busError dbus.Error
		if errors.As(call.Err, &busError) && busError.Name == unknownMethodError {
			c.logger.Warn("logind does not implement TakeControl, version too old")
		}
		return fmt.Errorf("%w: %v", ErrTakeControl, call.Err)
	}
	return nil
}

// ReleaseControl gives up the controller role. Fire-and-forget: logind
// releases implicitly when the session or connection goes away, so
// there is nothing useful to do with a failure beyond logging it.
func (c *Client) ReleaseControl() {
	call := c.sessionObject.Call(sessionInterface+".ReleaseControl", dbus.FlagNoReplyExpected)
	if call.Err != nil {
		c.logger.Debug("ReleaseControl send failed", "error", call.Err)
	}
}

// TakeDevice leases the device identified by major:minor. The returned
// descriptor is owned by the caller. paused reports whether logind
// handed the device over in the paused state (the session is not
// active right now); the descriptor is still valid, it just won't
// deliver until a ResumeDevice.
func (c *Client) TakeDevice(ctx context.Context, major, minor uint32) (fd int, paused bool, err error) {
	call := c.sessionObject.CallWithContext(ctx, sessionInterface+".TakeDevice", 0, major, minor)
	if call.Err != nil {
		return -1, false, fmt.Errorf("%w: TakeDevice(%d:%d): %v", ErrDeviceRefused, major, minor, call.Err)
	}
	var deviceFD dbus.UnixFD
	if err := call.Store(&deviceFD, &paused); err != nil {
		return -1, false, fmt.Errorf("%w: TakeDevice(%d:%d) reply: %v", ErrDeviceRefused, major, minor, err)
	}
	return int(deviceFD), paused, nil
}

// ReleaseDevice returns the lease on major:minor. Fire-and-forget.
func (c *Client) ReleaseDevice(major, minor uint32) {
	call := c.sessionObject.Call(sessionInterface+".ReleaseDevice", dbus.FlagNoReplyExpected, major, minor)
	if call.Err != nil {
		c.logger.Debug("ReleaseDevice send failed",
			"major", major, "minor", minor, "error", call.Err)
	}
}

// PauseDeviceComplete acknowledges a PauseDevice("pause") signal so
// logind can finish the session switch without waiting out its grace
// timeout. Fire-and-forget.
func (c *Client) PauseDeviceComplete(major, minor uint32) {
	call := c.sessionObject.Call(sessionInterface+".PauseDeviceComplete", dbus.FlagNoReplyExpected, major, minor)
	if call.Err != nil {
		c.logger.Debug("PauseDeviceComplete send failed",
			"major", major, "minor", minor, "error", call.Err)
	}
}

// OpenDevice leases the device at path and returns it as an *os.File.
//
// logind opens the device itself and passes a descriptor with its own
// choice of open modes, so flags cannot be honored in general. The one
// adjustment a controller may make is O_NONBLOCK, which OpenDevice
// sets when requested. All other bits of flags are ignored.
//
// If the descriptor cannot be adjusted, the lease is returned to
// logind before the error comes back, so a failed open never leaves a
// device claimed.
func (c *Client) OpenDevice(ctx context.Context, path string, flags int) (file *os.File, paused bool, err error) {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return nil, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFCHR {
		return nil, false, fmt.Errorf("%s: %w", path, ErrNotCharDevice)
	}
	major := unix.Major(uint64(stat.Rdev))
	minor := unix.Minor(uint64(stat.Rdev))

	fd, paused, err := c.TakeDevice(ctx, major, minor)
	if err != nil {
		return nil, false, err
	}

	currentFlags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		unix.Close(fd)
		c.ReleaseDevice(major, minor)
		return nil, false, fmt.Errorf("F_GETFL on %s: %w", path, err)
	}
	if flags&unix.O_NONBLOCK != 0 {
		currentFlags |= unix.O_NONBLOCK
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, currentFlags); err != nil {
		unix.Close(fd)
		c.ReleaseDevice(major, minor)
		return nil, false, fmt.Errorf("F_SETFL on %s: %w", path, err)
	}

	return os.NewFile(uintptr(fd), path), paused, nil
}

// CloseDevice returns the lease for an open device and closes the
// descriptor. Failures are logged, not returned: the caller is done
// with the device either way, and logind reclaims leases on its own
// when the descriptor closes.
func (c *Client) CloseDevice(file *os.File) {
	var stat unix.Stat_t
	if err := unix.Fstat(int(file.Fd()), &stat); err != nil {
		c.logger.Warn("cannot fstat device for release", "device", file.Name(), "error", err)
		file.Close()
		return
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFCHR {
		c.logger.Warn("CloseDevice called on non-device file", "device", file.Name())
		file.Close()
		return
	}
	c.ReleaseDevice(unix.Major(uint64(stat.Rdev)), unix.Minor(uint64(stat.Rdev)))
	file.Close()
}

// GetActiveAsync starts an asynchronous Properties.Get for the
// session's Active flag. The call completes on replies (which must be
// buffered); the returned *dbus.Call is the same pointer that will
// arrive there, so the caller can match replies to requests by
// identity and discard replies from superseded queries.
//
// Canceling ctx completes the call with the context's error.
func (c *Client) GetActiveAsync(ctx context.Context, replies chan *dbus.Call) *dbus.Call {
	return c.sessionObject.GoWithContext(ctx, propertiesInterface+".Get", 0, replies,
		sessionInterface, "Active")
}

// ParseActiveReply decodes a completed GetActiveAsync call.
func ParseActiveReply(call *dbus.Call) (bool, error) {
	if call.Err != nil {
		return false, call.Err
	}
	var value dbus.Variant
	if err := call.Store(&value); err != nil {
		return false, fmt.Errorf("malformed Active reply: %w", err)
	}
	active, ok := value.Value().(bool)
	if !ok {
		return false, fmt.Errorf("Active property is %T, want bool", value.Value())
	}
	return active, nil
}

// Close drops the signal subscription if one is still registered and
// closes the bus connection.
func (c *Client) Close() {
	c.UnsubscribeSignals()
	if err := c.bus.Close(); err != nil {
		c.logger.Debug("closing bus connection", "error", err)
	}
}
