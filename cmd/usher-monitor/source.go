// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/usherwm/usher/lib/clock"
	"github.com/usherwm/usher/logind"
)

// sessionSource maintains the live session table behind the TUI. One
// goroutine owns all mutation: it consumes the monitor's signal
// stream, folds events into the row map, and re-lists everything on a
// timer so a missed signal heals instead of lingering as a stale row.
//
// The TUI reads through Rows and learns about changes through the
// Updates channel, which coalesces bursts into a single wakeup. The
// channel is closed when the bus connection is lost; Err then reports
// why.
type sessionSource struct {
	monitor  *logind.Monitor
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	rows map[dbus.ObjectPath]logind.SessionStatus
	err  error

	updates chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

func newSessionSource(monitor *logind.Monitor, clk clock.Clock, interval time.Duration, logger *slog.Logger) *sessionSource {
	return &sessionSource{
		monitor:  monitor,
		clock:    clk,
		interval: interval,
		logger:   logger,
		rows:     make(map[dbus.ObjectPath]logind.SessionStatus),
		updates:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start performs the initial listing, subscribes to session signals,
// and launches the update goroutine. The subscription goes in before
// the listing so a session appearing in between is announced rather
// than lost.
func (s *sessionSource) Start(ctx context.Context) error {
	signals, err := s.monitor.Subscribe()
	if err != nil {
		return err
	}
	if err := s.refresh(ctx); err != nil {
		s.monitor.Unsubscribe()
		return err
	}
	go s.run(signals)
	return nil
}

// Stop terminates the update goroutine and drops the subscription.
func (s *sessionSource) Stop() {
	close(s.stop)
	<-s.done
	s.monitor.Unsubscribe()
}

// Rows returns the current table, sorted by seat then session ID.
func (s *sessionSource) Rows() []logind.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]logind.SessionStatus, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seat != out[j].Seat {
			return out[i].Seat < out[j].Seat
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Updates delivers one wakeup per batch of changes. Closed when the
// source dies.
func (s *sessionSource) Updates() <-chan struct{} {
	return s.updates
}

// Err reports why the Updates channel closed.
func (s *sessionSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *sessionSource) run(signals <-chan *dbus.Signal) {
	defer close(s.done)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return

		case <-ticker.C:
			if err := s.refresh(context.Background()); err != nil {
				s.logger.Debug("periodic session re-list failed", "error", err)
				continue
			}
			s.notify()

		case signal, ok := <-signals:
			if !ok {
				s.fail(errors.New("bus connection lost"))
				return
			}
			event, ok := s.monitor.ParseSignal(signal)
			if !ok {
				continue
			}
			s.apply(event)
		}
	}
}

// refresh replaces the whole row map from a fresh ListSessions.
func (s *sessionSource) refresh(ctx context.Context) error {
	entries, err := s.monitor.ListSessions(ctx)
	if err != nil {
		return err
	}
	rows := make(map[dbus.ObjectPath]logind.SessionStatus, len(entries))
	for _, entry := range entries {
		status, err := s.monitor.SessionStatus(ctx, entry.Path)
		if err != nil {
			// The session may have closed between the list and the
			// read; fall back to what the list row says.
			s.logger.Debug("cannot read session status",
				"session", entry.ID, "error", err)
			status = logind.SessionStatus{ID: entry.ID, User: entry.User, Seat: entry.Seat}
		}
		rows[entry.Path] = status
	}

	s.mu.Lock()
	s.rows = rows
	s.mu.Unlock()
	return nil
}

// apply folds one decoded signal into the row map.
func (s *sessionSource) apply(event logind.SessionEvent) {
	switch event.Kind {
	case logind.SessionAdded:
		status, err := s.monitor.SessionStatus(context.Background(), event.Path)
		if err != nil {
			s.logger.Debug("cannot read new session status",
				"session", event.ID, "error", err)
			return
		}
		s.mu.Lock()
		s.rows[event.Path] = status
		s.mu.Unlock()

	case logind.SessionGone:
		s.mu.Lock()
		_, known := s.rows[event.Path]
		delete(s.rows, event.Path)
		s.mu.Unlock()
		if !known {
			return
		}

	case logind.SessionUpdated:
		s.mu.Lock()
		status, known := s.rows[event.Path]
		s.mu.Unlock()
		if !known {
			// An update for a session the list never showed: treat
			// it like an announcement.
			var err error
			if status, err = s.monitor.SessionStatus(context.Background(), event.Path); err != nil {
				s.logger.Debug("cannot read updated session status",
					"path", event.Path, "error", err)
				return
			}
		} else if s.monitor.MergeStatus(&status, event) {
			fresh, err := s.monitor.SessionStatus(context.Background(), event.Path)
			if err != nil {
				s.logger.Debug("cannot re-read invalidated session status",
					"path", event.Path, "error", err)
			} else {
				status = fresh
			}
		}
		s.mu.Lock()
		s.rows[event.Path] = status
		s.mu.Unlock()
	}

	s.notify()
}

// notify coalesces: a wakeup already queued covers this change too.
func (s *sessionSource) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *sessionSource) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.updates)
}
