// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package vt

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Console ioctl constants from the upstream Linux kernel UAPI headers
// (include/uapi/linux/kd.h and include/uapi/linux/vt.h). These are
// stable ABI.
const (
	// Keyboard translation mode (kd.h).
	kdGetKeyboardMode = 0x4B44 // KDGKBMODE
	kdSetKeyboardMode = 0x4B45 // KDSKBMODE
	kdMuteKeyboard    = 0x4B51 // KDSKBMUTE

	// KDSKBMODE arguments.
	keyboardUnicode = 0x03 // K_UNICODE
	keyboardOff     = 0x04 // K_OFF

	// Console display mode (kd.h).
	kdSetConsoleMode = 0x4B3A // KDSETMODE
	consoleText      = 0x00   // KD_TEXT
	consoleGraphics  = 0x01   // KD_GRAPHICS

	// VT switching (vt.h).
	vtSetMode  = 0x5602 // VT_SETMODE
	vtRelDisp  = 0x5605 // VT_RELDISP
	vtActivate = 0x5606 // VT_ACTIVATE

	// vt_mode.mode values: kernel-driven switching versus the
	// signal handshake.
	switchAuto    = 0x00 // VT_AUTO
	switchProcess = 0x01 // VT_PROCESS

	// VT_RELDISP arguments: grant a pending release, or acknowledge
	// an acquire.
	releaseGrant = 0x01
	acquireAck   = 0x02 // VT_ACKACQ
)

// VT character devices sit on the TTY major with console minors 1
// through 63 (include/uapi/linux/major.h, include/uapi/linux/vt.h
// MAX_NR_CONSOLES).
const (
	ttyMajor = 4
	maxVT    = 63
)

// vtModeRequest mirrors struct vt_mode from vt.h: two mode bytes
// followed by three signal numbers, 8 bytes total. frsig is unused by
// the kernel and stays zero.
type vtModeRequest struct {
	mode          int8
	waitv         int8
	releaseSignal int16
	acquireSignal int16
	unusedSignal  int16
}

// consoleOps is the ioctl surface Terminal drives, one method per
// kernel operation. kernelConsole is the only real implementation;
// tests substitute a recorder so the switch choreography can be
// asserted without a console.
type consoleOps interface {
	keyboardMode(fd uintptr) (int, error)
	setKeyboardMode(fd uintptr, mode int) error
	muteKeyboard(fd uintptr, muted bool) error
	setConsoleMode(fd uintptr, mode int) error
	setSwitchMode(fd uintptr, request vtModeRequest) error
	activate(fd uintptr, vt int) error
	releaseDisplay(fd uintptr, argument int) error
}

// kernelConsole issues the real console ioctls.
type kernelConsole struct{}

func (kernelConsole) keyboardMode(fd uintptr) (int, error) {
	var mode int32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, kdGetKeyboardMode, uintptr(unsafe.Pointer(&mode)))
	if errno != 0 {
		return 0, fmt.Errorf("KDGKBMODE: %w", errno)
	}
	return int(mode), nil
}

func (kernelConsole) setKeyboardMode(fd uintptr, mode int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, kdSetKeyboardMode, uintptr(mode))
	if errno != 0 {
		return fmt.Errorf("KDSKBMODE %#x: %w", mode, errno)
	}
	return nil
}

func (kernelConsole) muteKeyboard(fd uintptr, muted bool) error {
	var argument uintptr
	if muted {
		argument = 1
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, kdMuteKeyboard, argument)
	if errno != 0 {
		return fmt.Errorf("KDSKBMUTE %d: %w", argument, errno)
	}
	return nil
}

func (kernelConsole) setConsoleMode(fd uintptr, mode int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, kdSetConsoleMode, uintptr(mode))
	if errno != 0 {
		return fmt.Errorf("KDSETMODE %d: %w", mode, errno)
	}
	return nil
}

func (kernelConsole) setSwitchMode(fd uintptr, request vtModeRequest) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, vtSetMode, uintptr(unsafe.Pointer(&request)))
	if errno != 0 {
		return fmt.Errorf("VT_SETMODE: %w", errno)
	}
	return nil
}

func (kernelConsole) activate(fd uintptr, vt int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, vtActivate, uintptr(vt))
	if errno != 0 {
		return fmt.Errorf("VT_ACTIVATE %d: %w", vt, errno)
	}
	return nil
}

func (kernelConsole) releaseDisplay(fd uintptr, argument int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, vtRelDisp, uintptr(argument))
	if errno != 0 {
		return fmt.Errorf("VT_RELDISP %d: %w", argument, errno)
	}
	return nil
}
