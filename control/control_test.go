// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/usherwm/usher/lib/codec"
	"github.com/usherwm/usher/lib/testutil"
)

// fakeArbiter implements Arbiter with canned state and recorded VT
// switch requests.
type fakeArbiter struct {
	mu          sync.Mutex
	status      Status
	activated   []int
	activateErr error
}

func (f *fakeArbiter) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeArbiter) ActivateVT(vt int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activateErr != nil {
		return f.activateErr
	}
	f.activated = append(f.activated, vt)
	return nil
}

func (f *fakeArbiter) activatedVTs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.activated...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startTestServer starts a control server on a fresh socket with the
// standard actions registered, and returns it with its socket path.
func startTestServer(t *testing.T, arbiter Arbiter) (*Server, string) {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")
	server := NewServer(socketPath, discardLogger())
	RegisterActions(server, arbiter)
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { server.Close() })
	return server, socketPath
}

// TestStatusRoundTrip verifies that a status request returns the
// arbiter's snapshot intact, device list included.
func TestStatusRoundTrip(t *testing.T) {
	want := Status{
		SessionID: "7",
		Seat:      "seat0",
		VT:        3,
		Active:    true,
		SyncDRM:   true,
		Devices: []Device{
			{Major: 226, Minor: 0, Path: "/dev/dri/card0"},
			{Major: 13, Minor: 64, Path: "/dev/input/event0"},
		},
	}
	_, socketPath := startTestServer(t, &fakeArbiter{status: want})

	client := NewClient(socketPath)
	got, err := client.Status(t.Context())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("status: got %+v, want %+v", got, want)
	}
}

// TestActivateVT verifies that activate-vt reaches the arbiter with
// the requested VT number.
func TestActivateVT(t *testing.T) {
	arbiter := &fakeArbiter{}
	_, socketPath := startTestServer(t, arbiter)

	client := NewClient(socketPath)
	if err := client.ActivateVT(t.Context(), 5); err != nil {
		t.Fatalf("ActivateVT: %v", err)
	}

	if got := arbiter.activatedVTs(); !reflect.DeepEqual(got, []int{5}) {
		t.Errorf("activated VTs: got %v, want [5]", got)
	}
}

// TestActivateVTRejectsInvalid verifies that a non-positive VT number
// is rejected by the server before it reaches the arbiter.
func TestActivateVTRejectsInvalid(t *testing.T) {
	arbiter := &fakeArbiter{}
	_, socketPath := startTestServer(t, arbiter)

	client := NewClient(socketPath)
	err := client.ActivateVT(t.Context(), 0)

	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("error type: got %T (%v), want *CallError", err, err)
	}
	if callErr.Action != "activate-vt" {
		t.Errorf("action: got %q, want %q", callErr.Action, "activate-vt")
	}
	if len(arbiter.activatedVTs()) != 0 {
		t.Errorf("arbiter was called for an invalid VT: %v", arbiter.activatedVTs())
	}
}

// TestActivateVTPropagatesError verifies that an arbiter failure comes
// back to the client as a CallError carrying the server's message.
func TestActivateVTPropagatesError(t *testing.T) {
	arbiter := &fakeArbiter{activateErr: errors.New("VT_ACTIVATE 5: operation not permitted")}
	_, socketPath := startTestServer(t, arbiter)

	client := NewClient(socketPath)
	err := client.ActivateVT(t.Context(), 5)

	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("error type: got %T (%v), want *CallError", err, err)
	}
	if callErr.Message != "VT_ACTIVATE 5: operation not permitted" {
		t.Errorf("message: got %q", callErr.Message)
	}
}

// TestUnknownAction verifies the error response for an unregistered
// action name.
func TestUnknownAction(t *testing.T) {
	_, socketPath := startTestServer(t, &fakeArbiter{})

	client := NewClient(socketPath)
	err := client.Call(t.Context(), "self-destruct", nil, nil)

	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("error type: got %T (%v), want *CallError", err, err)
	}
}

// TestMalformedRequest sends a CBOR value that is not a map and checks
// that the server answers with an error response rather than dropping
// the connection.
func TestMalformedRequest(t *testing.T) {
	_, socketPath := startTestServer(t, &fakeArbiter{})

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(42); err != nil {
		t.Fatalf("encode: %v", err)
	}
	conn.(*net.UnixConn).CloseWrite()

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.OK {
		t.Error("malformed request reported ok")
	}
	if response.Error == "" {
		t.Error("error response has no message")
	}
}

// TestMissingAction verifies the error response for a request map
// without an action field.
func TestMissingAction(t *testing.T) {
	_, socketPath := startTestServer(t, &fakeArbiter{})

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(map[string]any{"vt": 5}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	conn.(*net.UnixConn).CloseWrite()

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.OK {
		t.Error("actionless request reported ok")
	}
	if response.Error != "missing required field: action" {
		t.Errorf("error: got %q", response.Error)
	}
}

// TestEmptyConnection verifies that a client connecting and hanging up
// without sending anything does not wedge the server.
func TestEmptyConnection(t *testing.T) {
	_, socketPath := startTestServer(t, &fakeArbiter{})

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	// The server must still answer subsequent requests.
	client := NewClient(socketPath)
	if _, err := client.Status(t.Context()); err != nil {
		t.Fatalf("Status after empty connection: %v", err)
	}
}

// TestStartRemovesStaleSocket verifies that a leftover file at the
// socket path (from a crashed predecessor) is replaced on Start.
func TestStartRemovesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")
	if err := os.WriteFile(socketPath, []byte("stale"), 0o600); err != nil {
		t.Fatalf("planting stale file: %v", err)
	}

	server := NewServer(socketPath, discardLogger())
	RegisterActions(server, &fakeArbiter{})
	if err := server.Start(); err != nil {
		t.Fatalf("Start over stale socket: %v", err)
	}
	defer server.Close()

	client := NewClient(socketPath)
	if _, err := client.Status(t.Context()); err != nil {
		t.Fatalf("Status: %v", err)
	}
}

// TestStartTwice verifies the started-server guard.
func TestStartTwice(t *testing.T) {
	server, _ := startTestServer(t, &fakeArbiter{})
	if err := server.Start(); err == nil {
		t.Fatal("second Start succeeded")
	}
}

// TestCloseRemovesSocketFile verifies shutdown removes the socket file
// and that a second Close is a no-op.
func TestCloseRemovesSocketFile(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")
	server := NewServer(socketPath, discardLogger())
	RegisterActions(server, &fakeArbiter{})
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := server.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(socketPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket file still present after Close: %v", err)
	}
	if err := server.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

// TestCloseNeverStarted verifies Close tolerates a server that never
// bound its listener.
func TestCloseNeverStarted(t *testing.T) {
	server := NewServer("/nonexistent/control.sock", discardLogger())
	if err := server.Close(); err != nil {
		t.Fatalf("Close on unstarted server: %v", err)
	}
}

// TestHandleDuplicatePanics verifies the double-registration guard.
func TestHandleDuplicatePanics(t *testing.T) {
	server := NewServer("/tmp/unused.sock", discardLogger())
	RegisterActions(server, &fakeArbiter{})

	defer func() {
		if recover() == nil {
			t.Error("duplicate Handle did not panic")
		}
	}()
	RegisterActions(server, &fakeArbiter{})
}

// TestCallWithoutServer verifies that connection failures surface as
// plain errors, not CallError.
func TestCallWithoutServer(t *testing.T) {
	client := NewClient(filepath.Join(testutil.SocketDir(t), "missing.sock"))

	err := client.Call(t.Context(), "status", nil, nil)
	if err == nil {
		t.Fatal("Call on missing socket succeeded")
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		t.Errorf("connection failure reported as CallError: %v", err)
	}
}
