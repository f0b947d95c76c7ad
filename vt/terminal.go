// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package vt

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/usherwm/usher/lib/clock"
)

// DefaultReleaseSignal and DefaultAcquireSignal are the real-time
// signal pair used for the kernel switch handshake when the caller
// does not choose its own. The C library's threading internals claim
// the first real-time numbers (glibc takes 32 and 33, musl 32 through
// 34), so the defaults start above all of them.
const (
	DefaultReleaseSignal = 35
	DefaultAcquireSignal = 36
)

// The usable handshake range: above the numbers the C library claims,
// up to SIGRTMAX (64 on Linux).
const (
	minHandshakeSignal = 35
	maxHandshakeSignal = 64
)

// Options configures Open.
type Options struct {
	// ReleaseSignal and AcquireSignal override the handshake signal
	// pair. Zero selects the defaults.
	ReleaseSignal int
	AcquireSignal int

	// StatePath, when non-empty, is where Setup records the rescue
	// state that `usher rescue` reads after a crash.
	StatePath string

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Clock stamps the rescue state. Defaults to the real clock.
	Clock clock.Clock

	// ops substitutes the ioctl layer in tests.
	ops consoleOps
}

// Terminal owns one open virtual terminal. The lifecycle is
// Open, Setup, a stream of HandleSignal calls, then Close. Terminal
// is not safe for concurrent use; it belongs to the session event
// loop.
type Terminal struct {
	logger *slog.Logger
	ops    consoleOps
	clock  clock.Clock

	file *os.File
	vt   int

	releaseSignal syscall.Signal
	acquireSignal syscall.Signal
	statePath     string

	savedKeyboardMode int
	signals           chan os.Signal
	configured        bool
}

// Open opens /dev/tty<vtnr> and verifies it really is a console VT.
// No console state is changed until Setup.
func Open(vtnr int, options Options) (*Terminal, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ops := options.ops
	if ops == nil {
		ops = kernelConsole{}
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	release := syscall.Signal(options.ReleaseSignal)
	if options.ReleaseSignal == 0 {
		release = DefaultReleaseSignal
	}
	acquire := syscall.Signal(options.AcquireSignal)
	if options.AcquireSignal == 0 {
		acquire = DefaultAcquireSignal
	}

	path := fmt.Sprintf("/dev/tty%d", vtnr)
	file, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(int(file.Fd()), &stat); err != nil {
		file.Close()
		return nil, fmt.Errorf("fstat %s: %w", path, err)
	}
	if !isConsole(&stat) {
		file.Close()
		return nil, fmt.Errorf("%s (%d:%d): %w", path,
			unix.Major(uint64(stat.Rdev)), unix.Minor(uint64(stat.Rdev)), ErrNotVirtualTerminal)
	}

	return &Terminal{
		logger:        logger.With("vt", vtnr),
		ops:           ops,
		clock:         clk,
		file:          file,
		vt:            vtnr,
		releaseSignal: release,
		acquireSignal: acquire,
		statePath:     options.StatePath,
	}, nil
}

// isConsole reports whether a device is a console VT: a character
// device on the TTY major with a minor in the console range. Serial
// ttys, pseudo-terminals, and /dev/tty0 (the current console alias,
// minor 0) all fail this.
func isConsole(stat *unix.Stat_t) bool {
	if stat.Mode&unix.S_IFMT != unix.S_IFCHR {
		return false
	}
	major := unix.Major(uint64(stat.Rdev))
	minor := unix.Minor(uint64(stat.Rdev))
	return major == ttyMajor && minor >= 1 && minor <= maxVT
}

// VT returns the terminal number.
func (t *Terminal) VT() int {
	return t.vt
}

// Signals is the channel the kernel's switch handshake signals arrive
// on after a successful Setup. Feed each received signal to
// HandleSignal.
func (t *Terminal) Signals() <-chan os.Signal {
	return t.signals
}

// Setup takes the terminal over: keyboard silenced, display in
// graphics mode, switching routed through the handshake signals. Each
// step unwinds every prior step on failure, so a failed Setup leaves
// the console exactly as it was.
//
// The signal pair is validated before anything is touched; a bad
// configuration must not require an unwind.
func (t *Terminal) Setup() error {
	for _, sig := range []syscall.Signal{t.releaseSignal, t.acquireSignal} {
		if sig < minHandshakeSignal || sig > maxHandshakeSignal {
			return fmt.Errorf("%w: signal %d not in [%d, %d]",
				ErrSignalRange, sig, minHandshakeSignal, maxHandshakeSignal)
		}
	}

	fd := t.file.Fd()

	mode, err := t.ops.keyboardMode(fd)
	switch {
	case err != nil:
		t.logger.Warn("cannot read keyboard mode, will restore unicode", "error", err)
		mode = keyboardUnicode
	case mode == keyboardOff:
		// A previous owner died with the keyboard off. Restoring
		// that value on teardown would hand back a dead console.
		mode = keyboardUnicode
	}
	t.savedKeyboardMode = mode

	// KDSKBMUTE is the modern way to silence the keyboard; older
	// kernels only have KDSKBMODE K_OFF.
	if err := t.ops.muteKeyboard(fd, true); err != nil {
		if err := t.ops.setKeyboardMode(fd, keyboardOff); err != nil {
			return fmt.Errorf("silencing keyboard: %w", err)
		}
	}

	if err := t.ops.setConsoleMode(fd, consoleGraphics); err != nil {
		t.restoreKeyboard()
		return fmt.Errorf("entering graphics mode: %w", err)
	}

	t.signals = make(chan os.Signal, 4)
	signal.Notify(t.signals, t.releaseSignal, t.acquireSignal)

	request := vtModeRequest{
		mode:          switchProcess,
		releaseSignal: int16(t.releaseSignal),
		acquireSignal: int16(t.acquireSignal),
	}
	if err := t.ops.setSwitchMode(fd, request); err != nil {
		signal.Stop(t.signals)
		t.signals = nil
		if modeErr := t.ops.setConsoleMode(fd, consoleText); modeErr != nil {
			t.logger.Warn("cannot restore text mode during unwind", "error", modeErr)
		}
		t.restoreKeyboard()
		return fmt.Errorf("taking over VT switching: %w", err)
	}

	t.configured = true

	if t.statePath != "" {
		if err := t.writeState(); err != nil {
			// The takeover succeeded; a missing safety net is worth
			// a warning, not a failed startup.
			t.logger.Warn("cannot write rescue state", "path", t.statePath, "error", err)
		}
	}
	return nil
}

// HandleSignal answers one delivered switch signal: the release
// signal grants the pending switch-away, the acquire signal
// acknowledges the switch-back. There is no veto; the kernel is
// answered immediately whatever state the owner is in. Signals other
// than the configured pair are ignored.
func (t *Terminal) HandleSignal(sig os.Signal) {
	switch sig {
	case t.releaseSignal:
		if err := t.ops.releaseDisplay(t.file.Fd(), releaseGrant); err != nil {
			t.logger.Warn("cannot grant VT release", "error", err)
		}
	case t.acquireSignal:
		if err := t.ops.releaseDisplay(t.file.Fd(), acquireAck); err != nil {
			t.logger.Warn("cannot acknowledge VT acquire", "error", err)
		}
	}
}

// Activate asks the kernel to switch to the given VT. Request only:
// completion, if the switch happens at all, arrives later through the
// handshake signals.
func (t *Terminal) Activate(vtnr int) error {
	return t.ops.activate(t.file.Fd(), vtnr)
}

// Restore puts the console back: text mode, keyboard revived,
// automatic switching re-enabled. Every step is attempted even when
// earlier ones fail; this runs on every exit path, including session
// loss, where a usable console afterwards is all that matters.
func (t *Terminal) Restore() {
	fd := t.file.Fd()
	if err := t.ops.setConsoleMode(fd, consoleText); err != nil {
		t.logger.Warn("cannot restore text mode", "error", err)
	}
	t.restoreKeyboard()
	if err := t.ops.setSwitchMode(fd, vtModeRequest{mode: switchAuto}); err != nil {
		t.logger.Warn("cannot restore automatic VT switching", "error", err)
	}
}

// restoreKeyboard unmutes the keyboard and puts the saved translation
// mode back. Both are attempted unconditionally; only one of the two
// silencing mechanisms was active, and the other is a no-op.
func (t *Terminal) restoreKeyboard() {
	fd := t.file.Fd()
	if err := t.ops.muteKeyboard(fd, false); err != nil {
		t.logger.Debug("cannot unmute keyboard", "error", err)
	}
	if err := t.ops.setKeyboardMode(fd, t.savedKeyboardMode); err != nil {
		t.logger.Warn("cannot restore keyboard mode", "mode", t.savedKeyboardMode, "error", err)
	}
}

// Close restores the console (when Setup got far enough to change
// it), detaches the signal channel, removes the rescue state, and
// closes the terminal.
func (t *Terminal) Close() {
	if t.configured {
		t.Restore()
		t.configured = false
	}
	if t.signals != nil {
		signal.Stop(t.signals)
		t.signals = nil
	}
	if t.statePath != "" {
		if err := os.Remove(t.statePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			t.logger.Debug("cannot remove rescue state", "path", t.statePath, "error", err)
		}
	}
	t.file.Close()
}
