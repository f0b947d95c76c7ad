// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package vt

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/usherwm/usher/lib/clock"
)

// fakeConsole records every ioctl as a readable string and fails the
// operations named in failures.
type fakeConsole struct {
	calls             []string
	keyboardModeValue int
	failures          map[string]error
	switchRequests    []vtModeRequest
}

func newFakeConsole() *fakeConsole {
	return &fakeConsole{
		keyboardModeValue: keyboardUnicode,
		failures:          make(map[string]error),
	}
}

func (f *fakeConsole) failOn(op string) {
	f.failures[op] = fmt.Errorf("injected %s failure", op)
}

func (f *fakeConsole) keyboardMode(fd uintptr) (int, error) {
	f.calls = append(f.calls, "KDGKBMODE")
	if err := f.failures["KDGKBMODE"]; err != nil {
		return 0, err
	}
	return f.keyboardModeValue, nil
}

func (f *fakeConsole) setKeyboardMode(fd uintptr, mode int) error {
	f.calls = append(f.calls, fmt.Sprintf("KDSKBMODE %#x", mode))
	return f.failures["KDSKBMODE"]
}

func (f *fakeConsole) muteKeyboard(fd uintptr, muted bool) error {
	if muted {
		f.calls = append(f.calls, "KDSKBMUTE 1")
	} else {
		f.calls = append(f.calls, "KDSKBMUTE 0")
	}
	return f.failures["KDSKBMUTE"]
}

func (f *fakeConsole) setConsoleMode(fd uintptr, mode int) error {
	f.calls = append(f.calls, fmt.Sprintf("KDSETMODE %d", mode))
	return f.failures["KDSETMODE"]
}

func (f *fakeConsole) setSwitchMode(fd uintptr, request vtModeRequest) error {
	f.switchRequests = append(f.switchRequests, request)
	if request.mode == switchProcess {
		f.calls = append(f.calls, "VT_SETMODE process")
	} else {
		f.calls = append(f.calls, "VT_SETMODE auto")
	}
	return f.failures["VT_SETMODE"]
}

func (f *fakeConsole) activate(fd uintptr, vt int) error {
	f.calls = append(f.calls, fmt.Sprintf("VT_ACTIVATE %d", vt))
	return f.failures["VT_ACTIVATE"]
}

func (f *fakeConsole) releaseDisplay(fd uintptr, argument int) error {
	f.calls = append(f.calls, fmt.Sprintf("VT_RELDISP %d", argument))
	return f.failures["VT_RELDISP"]
}

// newFakeTerminal builds a Terminal over the fake console with a
// placeholder file standing in for the VT descriptor.
func newFakeTerminal(t *testing.T, fake *fakeConsole) *Terminal {
	t.Helper()
	file, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("open %s: %v", os.DevNull, err)
	}
	t.Cleanup(func() { file.Close() })
	return &Terminal{
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		ops:           fake,
		clock:         clock.Real(),
		file:          file,
		vt:            3,
		releaseSignal: DefaultReleaseSignal,
		acquireSignal: DefaultAcquireSignal,
	}
}

// TestSetupSequence verifies the takeover order and that Close undoes
// it in the documented restore order.
func TestSetupSequence(t *testing.T) {
	fake := newFakeConsole()
	terminal := newFakeTerminal(t, fake)

	if err := terminal.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	wantSetup := []string{"KDGKBMODE", "KDSKBMUTE 1", "KDSETMODE 1", "VT_SETMODE process"}
	if !reflect.DeepEqual(fake.calls, wantSetup) {
		t.Fatalf("setup calls = %v, want %v", fake.calls, wantSetup)
	}
	if terminal.savedKeyboardMode != keyboardUnicode {
		t.Errorf("saved keyboard mode = %#x, want K_UNICODE", terminal.savedKeyboardMode)
	}
	if terminal.Signals() == nil {
		t.Error("expected a signal channel after Setup")
	}

	request := fake.switchRequests[0]
	if request.releaseSignal != DefaultReleaseSignal || request.acquireSignal != DefaultAcquireSignal {
		t.Errorf("VT_SETMODE signals = %d/%d, want %d/%d",
			request.releaseSignal, request.acquireSignal,
			DefaultReleaseSignal, DefaultAcquireSignal)
	}

	fake.calls = nil
	terminal.Close()
	wantClose := []string{"KDSETMODE 0", "KDSKBMUTE 0", "KDSKBMODE 0x3", "VT_SETMODE auto"}
	if !reflect.DeepEqual(fake.calls, wantClose) {
		t.Fatalf("close calls = %v, want %v", fake.calls, wantClose)
	}
}

// TestSetupSanitizesSavedMode verifies that a keyboard found in K_OFF
// (a previous owner died mid-takeover) is saved as K_UNICODE, so
// restore never hands back a dead keyboard.
func TestSetupSanitizesSavedMode(t *testing.T) {
	fake := newFakeConsole()
	fake.keyboardModeValue = keyboardOff
	terminal := newFakeTerminal(t, fake)

	if err := terminal.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if terminal.savedKeyboardMode != keyboardUnicode {
		t.Errorf("saved keyboard mode = %#x, want K_UNICODE", terminal.savedKeyboardMode)
	}
	terminal.Close()
}

// TestSetupKeyboardModeReadFailure verifies the K_UNICODE fallback
// when the current mode cannot be read.
func TestSetupKeyboardModeReadFailure(t *testing.T) {
	fake := newFakeConsole()
	fake.failOn("KDGKBMODE")
	terminal := newFakeTerminal(t, fake)

	if err := terminal.Setup(); err != nil {
		t.Fatalf("Setup should survive an unreadable keyboard mode: %v", err)
	}
	if terminal.savedKeyboardMode != keyboardUnicode {
		t.Errorf("saved keyboard mode = %#x, want K_UNICODE", terminal.savedKeyboardMode)
	}
	terminal.Close()
}

// TestSetupMuteFallback verifies that a kernel without KDSKBMUTE gets
// the K_OFF fallback.
func TestSetupMuteFallback(t *testing.T) {
	fake := newFakeConsole()
	fake.failOn("KDSKBMUTE")
	terminal := newFakeTerminal(t, fake)

	if err := terminal.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	wantPrefix := []string{"KDGKBMODE", "KDSKBMUTE 1", "KDSKBMODE 0x4", "KDSETMODE 1"}
	if !reflect.DeepEqual(fake.calls[:4], wantPrefix) {
		t.Fatalf("calls = %v, want prefix %v", fake.calls, wantPrefix)
	}
	terminal.Close()
}

// TestSetupFailsWhenKeyboardCannotBeSilenced verifies that the
// takeover aborts before touching the display when both silencing
// mechanisms fail.
func TestSetupFailsWhenKeyboardCannotBeSilenced(t *testing.T) {
	fake := newFakeConsole()
	fake.failOn("KDSKBMUTE")
	fake.failOn("KDSKBMODE")
	terminal := newFakeTerminal(t, fake)

	if err := terminal.Setup(); err == nil {
		t.Fatal("expected Setup to fail")
	}
	for _, call := range fake.calls {
		if call == "KDSETMODE 1" {
			t.Fatal("display mode must not change when the keyboard takeover failed")
		}
	}
}

// TestSetupRestoresKeyboardWhenGraphicsFails verifies the unwind for
// a failure after the keyboard was silenced but before graphics mode
// engaged: the keyboard comes back, and no text-mode restore is
// issued for a mode that never changed.
func TestSetupRestoresKeyboardWhenGraphicsFails(t *testing.T) {
	fake := newFakeConsole()
	fake.failOn("KDSETMODE")
	terminal := newFakeTerminal(t, fake)

	if err := terminal.Setup(); err == nil {
		t.Fatal("expected Setup to fail")
	}
	want := []string{"KDGKBMODE", "KDSKBMUTE 1", "KDSETMODE 1", "KDSKBMUTE 0", "KDSKBMODE 0x3"}
	if !reflect.DeepEqual(fake.calls, want) {
		t.Fatalf("calls = %v, want %v", fake.calls, want)
	}
}

// TestSetupUnwindsWhenSwitchModeFails verifies the full unwind from
// the last setup stage: text mode back, keyboard back, signal channel
// gone.
func TestSetupUnwindsWhenSwitchModeFails(t *testing.T) {
	fake := newFakeConsole()
	fake.failOn("VT_SETMODE")
	terminal := newFakeTerminal(t, fake)

	if err := terminal.Setup(); err == nil {
		t.Fatal("expected Setup to fail")
	}
	want := []string{
		"KDGKBMODE", "KDSKBMUTE 1", "KDSETMODE 1", "VT_SETMODE process",
		"KDSETMODE 0", "KDSKBMUTE 0", "KDSKBMODE 0x3",
	}
	if !reflect.DeepEqual(fake.calls, want) {
		t.Fatalf("calls = %v, want %v", fake.calls, want)
	}
	if terminal.Signals() != nil {
		t.Error("signal channel should be gone after a failed Setup")
	}
}

// TestSetupRejectsBadSignals verifies that signal validation happens
// before any console state changes.
func TestSetupRejectsBadSignals(t *testing.T) {
	for _, signalNumber := range []int{1, 20, 34, 65} {
		fake := newFakeConsole()
		terminal := newFakeTerminal(t, fake)
		terminal.releaseSignal = syscall.Signal(signalNumber)

		err := terminal.Setup()
		if !errors.Is(err, ErrSignalRange) {
			t.Fatalf("signal %d: expected ErrSignalRange, got %v", signalNumber, err)
		}
		if len(fake.calls) != 0 {
			t.Fatalf("signal %d: console touched before validation: %v", signalNumber, fake.calls)
		}
	}
}

// TestHandleSignal verifies the kernel handshake: one VT_RELDISP per
// signal, grant for release, VT_ACKACQ for acquire, nothing for
// anything else.
func TestHandleSignal(t *testing.T) {
	fake := newFakeConsole()
	terminal := newFakeTerminal(t, fake)

	terminal.HandleSignal(syscall.Signal(DefaultReleaseSignal))
	if want := []string{"VT_RELDISP 1"}; !reflect.DeepEqual(fake.calls, want) {
		t.Fatalf("release handling = %v, want %v", fake.calls, want)
	}

	fake.calls = nil
	terminal.HandleSignal(syscall.Signal(DefaultAcquireSignal))
	if want := []string{"VT_RELDISP 2"}; !reflect.DeepEqual(fake.calls, want) {
		t.Fatalf("acquire handling = %v, want %v", fake.calls, want)
	}

	fake.calls = nil
	terminal.HandleSignal(syscall.SIGINT)
	if len(fake.calls) != 0 {
		t.Fatalf("unrelated signal caused ioctls: %v", fake.calls)
	}
}

// TestActivate verifies the switch request goes to the kernel as
// given.
func TestActivate(t *testing.T) {
	fake := newFakeConsole()
	terminal := newFakeTerminal(t, fake)

	if err := terminal.Activate(5); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if want := []string{"VT_ACTIVATE 5"}; !reflect.DeepEqual(fake.calls, want) {
		t.Fatalf("calls = %v, want %v", fake.calls, want)
	}
}

// TestCloseWithoutSetup verifies that closing an unconfigured
// terminal does not issue restore ioctls for state it never changed.
func TestCloseWithoutSetup(t *testing.T) {
	fake := newFakeConsole()
	terminal := newFakeTerminal(t, fake)

	terminal.Close()
	if len(fake.calls) != 0 {
		t.Fatalf("unexpected ioctls on close without setup: %v", fake.calls)
	}
}

// TestIsConsole verifies the device identity check against fabricated
// stat results.
func TestIsConsole(t *testing.T) {
	tests := []struct {
		name  string
		mode  uint32
		major uint32
		minor uint32
		want  bool
	}{
		{"vt1", unix.S_IFCHR, 4, 1, true},
		{"vt63", unix.S_IFCHR, 4, 63, true},
		{"current console alias", unix.S_IFCHR, 4, 0, false},
		{"serial tty", unix.S_IFCHR, 4, 64, false},
		{"null device", unix.S_IFCHR, 1, 3, false},
		{"regular file", unix.S_IFREG, 4, 1, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			stat := unix.Stat_t{
				Mode: test.mode,
				Rdev: unix.Mkdev(test.major, test.minor),
			}
			if got := isConsole(&stat); got != test.want {
				t.Errorf("isConsole(%d:%d mode %#o) = %v, want %v",
					test.major, test.minor, test.mode, got, test.want)
			}
		})
	}
}
