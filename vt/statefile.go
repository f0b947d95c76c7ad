// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package vt

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/usherwm/usher/lib/clock"
	"github.com/usherwm/usher/lib/codec"
)

// State is the rescue record Setup leaves behind: enough to put the
// console back into text mode when the process that took it over is
// no longer around to do its own unwinding.
type State struct {
	// VT is the terminal number that was taken over.
	VT int `cbor:"vt"`

	// KeyboardMode is the keyboard translation mode saved before the
	// takeover, the value restore puts back.
	KeyboardMode int `cbor:"keyboard_mode"`

	// PID is the process that wrote the record. A live PID means the
	// takeover is still in force and rescue must keep its hands off.
	PID int `cbor:"pid"`

	// SavedAt is when the record was written, unix seconds.
	SavedAt int64 `cbor:"saved_at"`
}

// StaleLimit is how old a rescue state may be before Validate treats
// it as leftover junk rather than evidence of a recent crash.
const StaleLimit = 72 * time.Hour

// DefaultStatePath is where rescue state lives when the caller does
// not choose a path. /run is cleared on boot, which matches the
// lifetime of the record: a takeover never survives a reboot.
const DefaultStatePath = "/run/usher/vt.state"

// writeState records this terminal's takeover for post-crash rescue.
func (t *Terminal) writeState() error {
	return WriteState(t.statePath, State{
		VT:           t.vt,
		KeyboardMode: t.savedKeyboardMode,
		PID:          os.Getpid(),
		SavedAt:      t.clock.Now().Unix(),
	})
}

// WriteState atomically writes a rescue state file: temporary file in
// the same directory, fsync, rename. Readers never see a partial
// write. The parent directory is created if missing.
func WriteState(path string, state State) error {
	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding rescue state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating rescue state directory: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary rescue state: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary rescue state: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary rescue state: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary rescue state: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming rescue state into place: %w", err)
	}
	return nil
}

// ReadState loads a rescue state file. A missing file surfaces as an
// error wrapping os.ErrNotExist.
func ReadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, fmt.Errorf("reading rescue state: %w", err)
	}
	var state State
	if err := codec.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decoding rescue state %s: %w", path, err)
	}
	return state, nil
}

// Validate reports whether the state is safe to act on: the recording
// process must be gone (ErrStateInUse otherwise) and the record
// recent (ErrStateStale otherwise).
func (s State) Validate(clk clock.Clock) error {
	if s.PID > 0 && processAlive(s.PID) {
		return fmt.Errorf("%w: pid %d", ErrStateInUse, s.PID)
	}
	if age := clk.Now().Sub(time.Unix(s.SavedAt, 0)); age > StaleLimit {
		return fmt.Errorf("%w: written %s ago", ErrStateStale, age.Round(time.Second))
	}
	return nil
}

// processAlive probes a pid with the null signal. EPERM still means
// the process exists, just under another uid.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// Rescue reopens the VT named by state and forces it back to text
// mode with the recorded keyboard mode. This is the recovery path for
// a compositor that died after the takeover: the console is in
// graphics mode with the keyboard off, and nothing else will fix it.
func Rescue(state State, logger *slog.Logger) error {
	terminal, err := Open(state.VT, Options{Logger: logger})
	if err != nil {
		return err
	}
	terminal.savedKeyboardMode = state.KeyboardMode
	terminal.Restore()
	terminal.Close()
	return nil
}
