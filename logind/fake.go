// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package logind

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

// FakeBus is an in-memory Bus for tests. Method replies are scripted
// per (object path, method) with [FakeBus.Handle]; signals are
// injected with [FakeBus.Emit]; asynchronous calls park as
// [PendingCall] values the test completes explicitly, which is what
// makes supersede/cancel ordering testable at all.
//
// Production code never touches this type, but it lives in the
// package proper (like clock.Fake) so the session and control
// packages can drive their tests through the same bus surface.
type FakeBus struct {
	mu            sync.Mutex
	handlers      map[string]MethodHandler
	calls         []MethodCall
	pending       []*PendingCall
	signalTargets []chan<- *dbus.Signal
	activeMatches int
	addMatchCalls int
	closed        bool

	// FailAddMatchAt makes the n-th AddMatchSignal call (1-based)
	// fail. Zero disables injection.
	FailAddMatchAt int
}

// MethodHandler scripts the reply for one method. Returning a
// dbus.Error as the error reproduces a remote D-Bus error; any other
// error stands in for a transport failure.
type MethodHandler func(args []any) ([]any, error)

// MethodCall records one dispatched method call, including
// fire-and-forget sends.
type MethodCall struct {
	Path   dbus.ObjectPath
	Method string
	Flags  dbus.Flags
	Args   []any
}

// NewFakeBus returns an empty FakeBus.
func NewFakeBus() *FakeBus {
	return &FakeBus{handlers: make(map[string]MethodHandler)}
}

// Handle scripts the reply for method (full "interface.member" name)
// on the object at path.
func (b *FakeBus) Handle(path dbus.ObjectPath, method string, handler MethodHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[handlerKey(path, method)] = handler
}

func handlerKey(path dbus.ObjectPath, method string) string {
	return string(path) + "\x00" + method
}

// Calls returns every dispatched call in order.
func (b *FakeBus) Calls() []MethodCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]MethodCall, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallsTo returns the dispatched calls whose method name ends with
// member ("TakeDevice", "Session.TakeDevice", ...).
func (b *FakeBus) CallsTo(member string) []MethodCall {
	var out []MethodCall
	for _, call := range b.Calls() {
		if strings.HasSuffix(call.Method, member) {
			out = append(out, call)
		}
	}
	return out
}

// Pending returns the asynchronous calls that have not completed yet.
func (b *FakeBus) Pending() []*PendingCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*PendingCall
	for _, p := range b.pending {
		if !p.Completed() {
			out = append(out, p)
		}
	}
	return out
}

// ActiveMatches returns how many match rules are currently installed
// (added minus removed). Teardown tests assert this reaches zero.
func (b *FakeBus) ActiveMatches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeMatches
}

// SignalTargets returns how many signal channels are registered.
func (b *FakeBus) SignalTargets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.signalTargets)
}

// Emit delivers a signal to every registered channel, blocking until
// each accepts it.
func (b *FakeBus) Emit(signal *dbus.Signal) {
	b.mu.Lock()
	targets := make([]chan<- *dbus.Signal, len(b.signalTargets))
	copy(targets, b.signalTargets)
	b.mu.Unlock()

	for _, target := range targets {
		target <- signal
	}
}

// Closed reports whether Close was called.
func (b *FakeBus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Object implements Bus.
func (b *FakeBus) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{bus: b, destination: dest, path: path}
}

// AddMatchSignal implements Bus.
func (b *FakeBus) AddMatchSignal(options ...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addMatchCalls++
	if b.FailAddMatchAt != 0 && b.addMatchCalls == b.FailAddMatchAt {
		return errors.New("injected AddMatchSignal failure")
	}
	b.activeMatches++
	return nil
}

// RemoveMatchSignal implements Bus.
func (b *FakeBus) RemoveMatchSignal(options ...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeMatches--
	return nil
}

// Signal implements Bus.
func (b *FakeBus) Signal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signalTargets = append(b.signalTargets, ch)
}

// RemoveSignal implements Bus.
func (b *FakeBus) RemoveSignal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, target := range b.signalTargets {
		if target == ch {
			b.signalTargets = append(b.signalTargets[:i], b.signalTargets[i+1:]...)
			return
		}
	}
}

// Close implements Bus. Registered signal channels are closed, exactly
// like a real godbus connection terminating.
func (b *FakeBus) Close() error {
	b.mu.Lock()
	targets := b.signalTargets
	b.signalTargets = nil
	alreadyClosed := b.closed
	b.closed = true
	b.mu.Unlock()

	if alreadyClosed {
		return errors.New("fake bus already closed")
	}
	for _, target := range targets {
		close(target)
	}
	return nil
}

func (b *FakeBus) record(call MethodCall) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *FakeBus) handler(path dbus.ObjectPath, method string) MethodHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[handlerKey(path, method)]
}

func (b *FakeBus) addPending(p *PendingCall) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, p)
}

// PendingCall is an asynchronous call awaiting completion. The test
// decides when (and with what) it completes; canceling the context
// passed to GoWithContext completes it with the context's error, the
// same way godbus does.
type PendingCall struct {
	call *dbus.Call
	ch   chan *dbus.Call

	mu        sync.Mutex
	completed bool
	done      chan struct{}
}

// Method returns the full method name of the pending call.
func (p *PendingCall) Method() string { return p.call.Method }

// Args returns the call arguments.
func (p *PendingCall) Args() []any { return p.call.Args }

// Call returns the *dbus.Call that will be delivered on completion.
// Identity-comparable with the value GoWithContext returned.
func (p *PendingCall) Call() *dbus.Call { return p.call }

// Completed reports whether the call has been delivered.
func (p *PendingCall) Completed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// Complete delivers the call with the given body and error. Delivery
// after cancellation (or a second Complete) is a no-op, matching a
// real bus where a canceled call's reply is discarded.
func (p *PendingCall) Complete(body []any, err error) {
	p.deliver(body, err)
}

func (p *PendingCall) deliver(body []any, err error) {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return
	}
	p.completed = true
	close(p.done)
	p.mu.Unlock()

	p.call.Body = body
	p.call.Err = err
	p.ch <- p.call
}

// fakeObject implements dbus.BusObject against the FakeBus script
// table.
type fakeObject struct {
	bus         *FakeBus
	destination string
	path        dbus.ObjectPath
}

func (o *fakeObject) Call(method string, flags dbus.Flags, args ...any) *dbus.Call {
	return o.CallWithContext(context.Background(), method, flags, args...)
}

func (o *fakeObject) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...any) *dbus.Call {
	o.bus.record(MethodCall{Path: o.path, Method: method, Flags: flags, Args: args})
	call := &dbus.Call{Destination: o.destination, Path: o.path, Method: method, Args: args}

	if flags&dbus.FlagNoReplyExpected != 0 {
		return call
	}
	if err := ctx.Err(); err != nil {
		call.Err = err
		return call
	}

	handler := o.bus.handler(o.path, method)
	if handler == nil {
		call.Err = dbus.Error{
			Name: unknownMethodError,
			Body: []any{fmt.Sprintf("no handler for %s on %s", method, o.path)},
		}
		return call
	}
	call.Body, call.Err = handler(args)
	return call
}

func (o *fakeObject) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	return o.GoWithContext(context.Background(), method, flags, ch, args...)
}

func (o *fakeObject) GoWithContext(ctx context.Context, method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	if ch == nil {
		ch = make(chan *dbus.Call, 5)
	} else if cap(ch) == 0 {
		panic("logind: unbuffered channel passed to FakeBus Go")
	}

	o.bus.record(MethodCall{Path: o.path, Method: method, Flags: flags, Args: args})
	call := &dbus.Call{Destination: o.destination, Path: o.path, Method: method, Args: args, Done: ch}
	pending := &PendingCall{call: call, ch: ch, done: make(chan struct{})}
	o.bus.addPending(pending)

	go func() {
		select {
		case <-ctx.Done():
			pending.deliver(nil, ctx.Err())
		case <-pending.done:
		}
	}()

	return call
}

func (o *fakeObject) GetProperty(p string) (dbus.Variant, error) {
	dot := strings.LastIndex(p, ".")
	if dot < 0 {
		return dbus.Variant{}, fmt.Errorf("malformed property name %q", p)
	}
	call := o.Call(propertiesInterface+".Get", 0, p[:dot], p[dot+1:])
	if call.Err != nil {
		return dbus.Variant{}, call.Err
	}
	var value dbus.Variant
	if err := call.Store(&value); err != nil {
		return dbus.Variant{}, err
	}
	return value, nil
}

func (o *fakeObject) StoreProperty(p string, value any) error {
	variant, err := o.GetProperty(p)
	if err != nil {
		return err
	}
	return variant.Store(value)
}

func (o *fakeObject) SetProperty(p string, v any) error {
	return errors.New("logind: FakeBus does not implement SetProperty")
}

func (o *fakeObject) AddMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{Err: errors.New("logind: use Bus.AddMatchSignal, not BusObject")}
}

func (o *fakeObject) RemoveMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{Err: errors.New("logind: use Bus.RemoveMatchSignal, not BusObject")}
}

func (o *fakeObject) Destination() string { return o.destination }

func (o *fakeObject) Path() dbus.ObjectPath { return o.path }
