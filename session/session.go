// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/usherwm/usher/control"
	"github.com/usherwm/usher/lib/clock"
	"github.com/usherwm/usher/logind"
	"github.com/usherwm/usher/vt"
)

// terminal is the slice of vt.Terminal the session drives. Tests
// substitute a recorder.
type terminal interface {
	VT() int
	Signals() <-chan os.Signal
	Setup() error
	HandleSignal(sig os.Signal)
	Activate(vtnr int) error
	Restore()
	Close()
}

// Config configures Connect.
type Config struct {
	// Seat is the seat this session must be attached to. Empty means
	// "seat0".
	Seat string

	// VT, when nonzero, requires the session to own exactly this
	// virtual terminal. Zero accepts whatever VT the session owns.
	VT int

	// SyncDRM defers activation until the DRM device lease resumes.
	// logind flips the Active property before the compositor may
	// touch the GPU again; with SyncDRM set, the OnActive(true)
	// notification waits for the DRM resume instead. Deactivation is
	// never deferred.
	SyncDRM bool

	// OnActive is called from the event loop whenever the session's
	// active state changes. Must not block; the protocol stalls while
	// it runs.
	OnActive func(active bool)

	// OnFatal is called from the event loop when the session is
	// unrecoverably gone (ErrSessionLost, ErrBusDisconnected). The VT
	// has already been restored to text mode when it runs.
	OnFatal func(err error)

	// ReleaseSignal and AcquireSignal override the VT handshake
	// signal pair. Zero selects the vt package defaults.
	ReleaseSignal int
	AcquireSignal int

	// StatePath overrides where the VT rescue state is written.
	// Empty uses vt.DefaultStatePath.
	StatePath string

	// ControlSocket, when non-empty, serves the control protocol on
	// a Unix socket at this path for the lifetime of the session.
	ControlSocket string

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Clock stamps the rescue state. Defaults to the real clock.
	Clock clock.Clock

	// DialBus overrides how the logind connection is made. Nil
	// connects to the system bus.
	DialBus func() (logind.Bus, error)

	// openTerminal substitutes the VT layer in tests.
	openTerminal func(vtnr int, options vt.Options) (terminal, error)
}

// Session is a connected, VT-owning login session. Create one with
// Connect; release it with Close.
type Session struct {
	logger *slog.Logger

	info     logind.SessionInfo
	client   *logind.Client
	terminal terminal
	syncDRM  bool

	onActive func(bool)
	onFatal  func(error)

	controlServer *control.Server

	busSignals    <-chan *dbus.Signal
	activeReplies chan *dbus.Call

	// active mirrors the loop's view for cross-goroutine reads.
	active atomic.Bool

	// Loop-owned state. Only the loop goroutine touches these.
	loopActive   bool
	pendingQuery *dbus.Call
	cancelQuery  context.CancelFunc

	requests  chan func()
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	deviceMu sync.Mutex
	devices  map[*os.File]control.Device
}

// Connect resolves the calling process's login session, takes device
// control of it, takes over its VT, and starts the event loop. On any
// failure the already-acquired pieces are released before the
// SetupError is returned.
func Connect(ctx context.Context, config Config) (*Session, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	seat := config.Seat
	if seat == "" {
		seat = "seat0"
	}
	dial := config.DialBus
	if dial == nil {
		dial = logind.ConnectSystemBus
	}
	open := config.openTerminal
	if open == nil {
		open = defaultOpenTerminal
	}
	statePath := config.StatePath
	if statePath == "" {
		statePath = vt.DefaultStatePath
	}

	bus, err := dial()
	if err != nil {
		return nil, &SetupError{Stage: "bus", Err: err}
	}

	info, err := logind.ResolveSession(ctx, bus)
	if err != nil {
		bus.Close()
		return nil, &SetupError{Stage: "resolve", Err: err}
	}
	if info.Seat != seat {
		bus.Close()
		return nil, &SetupError{Stage: "seat", Err: fmt.Errorf(
			"%w: session %s is on %q, want %q", logind.ErrSeatMismatch, info.ID, info.Seat, seat)}
	}
	if info.VT == 0 {
		bus.Close()
		return nil, &SetupError{Stage: "vt", Err: fmt.Errorf(
			"%w: session %s", logind.ErrNoVT, info.ID)}
	}
	if config.VT != 0 && config.VT != int(info.VT) {
		bus.Close()
		return nil, &SetupError{Stage: "vt", Err: fmt.Errorf(
			"%w: requested %d, session %s owns %d", logind.ErrVTMismatch, config.VT, info.ID, info.VT)}
	}

	client := logind.NewClient(bus, info, logger)

	// Subscribe before taking control so no pause or removal signal
	// can slip through the gap.
	busSignals, err := client.SubscribeSignals()
	if err != nil {
		client.Close()
		return nil, &SetupError{Stage: "signals", Err: err}
	}

	if err := client.TakeControl(ctx); err != nil {
		client.Close()
		return nil, &SetupError{Stage: "take-control", Err: err}
	}

	term, err := open(int(info.VT), vt.Options{
		ReleaseSignal: config.ReleaseSignal,
		AcquireSignal: config.AcquireSignal,
		StatePath:     statePath,
		Logger:        logger,
		Clock:         clk,
	})
	if err != nil {
		client.ReleaseControl()
		client.Close()
		return nil, &SetupError{Stage: "terminal", Err: err}
	}
	if err := term.Setup(); err != nil {
		term.Close()
		client.ReleaseControl()
		client.Close()
		return nil, &SetupError{Stage: "terminal", Err: err}
	}

	s := &Session{
		logger:        logger.With("session", info.ID),
		info:          info,
		client:        client,
		terminal:      term,
		syncDRM:       config.SyncDRM,
		onActive:      config.OnActive,
		onFatal:       config.OnFatal,
		busSignals:    busSignals,
		activeReplies: make(chan *dbus.Call, activeReplyBuffer),
		requests:      make(chan func()),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		devices:       make(map[*os.File]control.Device),
	}

	if config.ControlSocket != "" {
		server := control.NewServer(config.ControlSocket, logger)
		control.RegisterActions(server, s)
		if err := server.Start(); err != nil {
			term.Close()
			client.ReleaseControl()
			client.Close()
			return nil, &SetupError{Stage: "control-socket", Err: err}
		}
		s.controlServer = server
	}

	s.logger.Info("session connected",
		"seat", info.Seat,
		"vt", info.VT,
		"sync_drm", config.SyncDRM,
	)

	go s.loop()
	return s, nil
}

func defaultOpenTerminal(vtnr int, options vt.Options) (terminal, error) {
	term, err := vt.Open(vtnr, options)
	if err != nil {
		return nil, err
	}
	return term, nil
}

// ID returns the logind session identifier.
func (s *Session) ID() string { return s.info.ID }

// VT returns the virtual terminal number the session owns.
func (s *Session) VT() int { return int(s.info.VT) }

// Active reports whether the session currently holds the seat.
func (s *Session) Active() bool { return s.active.Load() }

// OpenDevice leases the device at path through logind and returns the
// leased descriptor. paused reports whether the lease started out
// paused; a paused DRM lease resumes when the session next becomes
// active. Only the O_NONBLOCK flag is honored, everything else about
// the descriptor is logind's choice.
func (s *Session) OpenDevice(ctx context.Context, path string, flags int) (file *os.File, paused bool, err error) {
	file, paused, err = s.client.OpenDevice(ctx, path, flags)
	if err != nil {
		return nil, false, err
	}
	s.trackDevice(file, path)
	return file, paused, nil
}

// CloseDevice releases the lease taken by OpenDevice and closes the
// file.
func (s *Session) CloseDevice(file *os.File) {
	s.deviceMu.Lock()
	delete(s.devices, file)
	s.deviceMu.Unlock()
	s.client.CloseDevice(file)
}

// trackDevice records the lease for the status surface. The record is
// cosmetic; failing to stat the descriptor loses a status line, not
// the lease.
func (s *Session) trackDevice(file *os.File, path string) {
	var stat unix.Stat_t
	if err := unix.Fstat(int(file.Fd()), &stat); err != nil {
		return
	}
	s.deviceMu.Lock()
	defer s.deviceMu.Unlock()
	s.devices[file] = control.Device{
		Major: unix.Major(uint64(stat.Rdev)),
		Minor: unix.Minor(uint64(stat.Rdev)),
		Path:  path,
	}
}

// ActivateVT asks the kernel to switch the console to the given
// virtual terminal. The switch itself then runs through the usual
// release/acquire handshake. Returns ErrClosed once the session is
// closed or lost.
func (s *Session) ActivateVT(vtnr int) error {
	return s.onLoop(func() error {
		return s.terminal.Activate(vtnr)
	})
}

// Status assembles the control-surface snapshot of the session.
func (s *Session) Status() control.Status {
	s.deviceMu.Lock()
	var devices []control.Device
	for _, device := range s.devices {
		devices = append(devices, device)
	}
	s.deviceMu.Unlock()

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Major != devices[j].Major {
			return devices[i].Major < devices[j].Major
		}
		return devices[i].Minor < devices[j].Minor
	})

	return control.Status{
		SessionID: s.info.ID,
		Seat:      s.info.Seat,
		VT:        int(s.info.VT),
		Active:    s.active.Load(),
		SyncDRM:   s.syncDRM,
		Devices:   devices,
	}
}

// onLoop runs fn on the event loop and waits for its result.
func (s *Session) onLoop(fn func() error) error {
	result := make(chan error, 1)
	select {
	case s.requests <- func() { result <- fn() }:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// Close stops the event loop, restores and closes the VT, releases
// device control, and closes the bus connection. Only the first call
// does the work; later calls return immediately.
func (s *Session) Close() {
	s.closeOnce.Do(s.teardown)
}

func (s *Session) teardown() {
	close(s.stop)
	<-s.done

	// The loop is gone; its pending-query state is safe to touch.
	if s.cancelQuery != nil {
		s.cancelQuery()
		s.cancelQuery = nil
	}

	if s.controlServer != nil {
		if err := s.controlServer.Close(); err != nil {
			s.logger.Warn("control socket shutdown failed", "error", err)
		}
	}

	s.terminal.Close()
	s.client.ReleaseControl()
	s.client.Close()

	s.logger.Info("session closed")
}
