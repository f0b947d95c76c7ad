// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/usherwm/usher/lib/codec"
)

// dialTimeout is the maximum time to wait for the socket connection.
const dialTimeout = 5 * time.Second

// responseReadTimeout is the maximum time to wait for the server's
// response after sending a request. Control actions are answered from
// in-memory state, so a slow server is a stuck server.
const responseReadTimeout = 15 * time.Second

// maxResponseSize is the maximum response we'll read. A status
// snapshot is a few hundred bytes even with a long device list.
const maxResponseSize = 64 * 1024

// CallError is returned when the server processed the request and
// reported a failure. Connection and encoding problems are returned
// as plain errors instead.
type CallError struct {
	// Action is the action that failed.
	Action string

	// Message is the error message from the server.
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("control action %q failed: %s", e.Action, e.Message)
}

// Client talks to a running session's control socket. Each call opens
// a fresh connection (the protocol is one request per connection), so
// a single Client is safe for concurrent use.
type Client struct {
	socketPath string
}

// NewClient creates a client for the control socket at socketPath.
// No connection is made until the first call.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Status fetches the arbitration snapshot from the running session.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	if err := c.Call(ctx, "status", nil, &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// ActivateVT asks the running session to switch the kernel console to
// the given virtual terminal.
func (c *Client) ActivateVT(ctx context.Context, vt int) error {
	return c.Call(ctx, "activate-vt", map[string]any{"vt": vt}, nil)
}

// Call sends a request for the given action and decodes the response.
// fields holds action-specific request fields; the client adds
// "action" automatically. Pass nil for actions that take no
// parameters.
//
// On success (response ok=true), if result is non-nil and the response
// contains data, the data is CBOR-decoded into result. On failure
// (response ok=false), returns a *CallError with the server's message.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &CallError{
			Action:  action,
			Message: response.Error,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}

	return nil
}

// send connects to the socket, writes the request, and reads the
// response. Each call creates a new connection.
func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side. CBOR is self-delimiting so this
	// isn't strictly necessary, but it lets the server's read side
	// see EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &response, nil
}
